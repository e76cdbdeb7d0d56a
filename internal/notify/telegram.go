// Package notify delivers purchase and winner messages over Telegram.
package notify

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"sync/atomic"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type updater interface {
	sender
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Telegram sends every message to the admin chat and, when the owner id is a
// Telegram user id, to the owner's private chat too.
type Telegram struct {
	bot         updater
	adminChatID atomic.Int64
	logger      *log.Logger

	wg sync.WaitGroup
}

func NewTelegram(logger *log.Logger, token string, adminChatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to authorize telegram bot: %w", err)
	}
	logger.Printf("Telegram bot authorized as %s", bot.Self.UserName)
	return newTelegram(logger, bot, adminChatID), nil
}

func newTelegram(logger *log.Logger, bot updater, adminChatID int64) *Telegram {
	t := &Telegram{bot: bot, logger: logger}
	t.adminChatID.Store(adminChatID)
	return t
}

// Start listens for /start so an operator can register the admin chat when
// none was configured.
func (t *Telegram) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := t.bot.GetUpdatesChan(u)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				t.handleUpdate(update)
			}
		}
	}()
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	if update.Message == nil || !update.Message.IsCommand() {
		return
	}
	switch update.Message.Command() {
	case "start":
		chatID := update.Message.Chat.ID
		if !t.adminChatID.CompareAndSwap(0, chatID) {
			t.send(chatID, "Olá! Você receberá aqui a confirmação dos seus bilhetes.")
			return
		}
		t.send(chatID, fmt.Sprintf("Chat de administração registrado: %d", chatID))
		t.logger.Printf("Telegram admin chat registered: %d", chatID)
	}
}

func (t *Telegram) Stop() {
	t.bot.StopReceivingUpdates()
	t.wg.Wait()
}

func (t *Telegram) Notify(ctx context.Context, ownerID, text string) error {
	var firstErr error
	if admin := t.adminChatID.Load(); admin != 0 {
		firstErr = t.send(admin, text)
	}
	if chatID, err := strconv.ParseInt(ownerID, 10, 64); err == nil && chatID > 0 && chatID != t.adminChatID.Load() {
		if err := t.send(chatID, text); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *Telegram) send(chatID int64, text string) error {
	if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("telegram send to %d: %w", chatID, err)
	}
	return nil
}
