package notify

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type fakeBot struct {
	mu      sync.Mutex
	sent    map[int64][]string
	updates chan tgbotapi.Update
}

func newFakeBot() *fakeBot {
	return &fakeBot{sent: map[int64][]string{}, updates: make(chan tgbotapi.Update, 4)}
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		b.sent[m.ChatID] = append(b.sent[m.ChatID], m.Text)
	}
	return tgbotapi.Message{}, nil
}

func (b *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return b.updates
}

func (b *fakeBot) StopReceivingUpdates() {
	close(b.updates)
}

func (b *fakeBot) messages(chatID int64) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.sent[chatID]...)
}

func TestNotifySendsToAdminAndOwner(t *testing.T) {
	bot := newFakeBot()
	n := newTelegram(log.New(io.Discard, "", 0), bot, 100)

	if err := n.Notify(context.Background(), "555", "pago"); err != nil {
		t.Fatal(err)
	}
	if err := n.Notify(context.Background(), "not-a-chat", "pago"); err != nil {
		t.Fatal(err)
	}
	if got := bot.messages(100); len(got) != 2 {
		t.Fatalf("admin messages = %v", got)
	}
	if got := bot.messages(555); len(got) != 1 || got[0] != "pago" {
		t.Fatalf("owner messages = %v", got)
	}
}

func TestStartRegistersAdminChat(t *testing.T) {
	bot := newFakeBot()
	n := newTelegram(log.New(io.Discard, "", 0), bot, 0)
	n.Start(context.Background())

	bot.updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		Text:     "/start",
		Chat:     &tgbotapi.Chat{ID: 42},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 6}},
	}}

	deadline := time.Now().Add(time.Second)
	for n.adminChatID.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	n.Stop()

	if n.adminChatID.Load() != 42 {
		t.Fatalf("admin chat = %d", n.adminChatID.Load())
	}
	if got := bot.messages(42); len(got) != 1 {
		t.Fatalf("confirmation = %v", got)
	}
}
