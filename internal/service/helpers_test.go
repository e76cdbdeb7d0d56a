package service

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"rifas_pix/internal/config"
	"rifas_pix/internal/models"
	"rifas_pix/internal/payment"
	"rifas_pix/internal/store"
)

type fakeGateway struct {
	mu          sync.Mutex
	creates     int
	statusCalls int
	statuses    []models.ChargeStatus
	statusErr   error
	createErr   error
	delay       time.Duration
}

func (g *fakeGateway) CreateCharge(ctx context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error) {
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.creates++
	return &payment.ChargeResult{
		ProviderChargeID: fmt.Sprintf("pay_%d", g.creates),
		Status:           models.ChargePending,
		QRPayload:        "00020126PIX" + req.ReservationID,
		QRImage:          "aW1n",
		ExpiresAt:        time.Now().Add(time.Hour),
	}, nil
}

func (g *fakeGateway) GetStatus(ctx context.Context, providerChargeID string) (models.ChargeStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusCalls++
	if g.statusErr != nil {
		return "", g.statusErr
	}
	if len(g.statuses) == 0 {
		return models.ChargePending, nil
	}
	i := g.statusCalls - 1
	if i >= len(g.statuses) {
		i = len(g.statuses) - 1
	}
	return g.statuses[i], nil
}

func (g *fakeGateway) counts() (creates, statusCalls int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.creates, g.statusCalls
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*models.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, e *models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) ofType(t models.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(ctx context.Context, ownerID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, ownerID+": "+text)
	return nil
}

type harness struct {
	store        *store.MemoryStore
	gateway      *fakeGateway
	publisher    *recordingPublisher
	notifier     *recordingNotifier
	config       *config.Config
	reservations *ReservationService
	payments     *PaymentService
	finalizer    *Finalizer
	winners      *WinnerService
}

func testConfig() *config.Config {
	return &config.Config{
		ReservationTTL:           15 * time.Minute,
		MaxTicketsPerReservation: 20,
		ProviderTimeout:          time.Second,
		PollInterval:             time.Millisecond,
		PollDeadline:             time.Second,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	h := &harness{
		store:     store.NewMemoryStore(),
		gateway:   &fakeGateway{},
		publisher: &recordingPublisher{},
		notifier:  &recordingNotifier{},
		config:    testConfig(),
	}
	h.finalizer = NewFinalizer(logger, h.store, h.publisher, h.notifier)
	h.reservations = NewReservationService(logger, h.store, h.config)
	h.payments = NewPaymentService(logger, h.store, h.gateway, nil, h.finalizer, h.config)
	h.winners = NewWinnerService(logger, h.store, h.publisher, h.notifier)
	return h
}

func (h *harness) raffle(t *testing.T, id string, total int) *models.Raffle {
	t.Helper()
	r, err := h.store.CreateRaffle(context.Background(), &models.Raffle{
		ID:               id,
		Title:            "Rifa " + id,
		TotalTickets:     total,
		TicketPriceCents: 500,
	})
	if err != nil {
		t.Fatalf("CreateRaffle: %v", err)
	}
	return r
}

// buy reserves, charges and pays qty tickets for owner and returns the
// finalized tickets.
func (h *harness) buy(t *testing.T, raffleID, owner string, qty int, picks [][]any) []models.Ticket {
	t.Helper()
	ctx := context.Background()
	res, err := h.reservations.Reserve(ctx, ReserveRequest{RaffleID: raffleID, OwnerID: owner, Quantity: qty, Numbers: picks})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	charge, _, err := h.payments.CreateCharge(ctx, CreateChargeRequest{ReservationID: res.ID, Customer: models.Customer{Name: owner}})
	if err != nil {
		t.Fatalf("CreateCharge: %v", err)
	}
	applied, err := h.payments.ApplyStatus(ctx, StatusUpdate{ProviderChargeID: charge.ProviderChargeID, Status: models.ChargePaid, Source: "test"})
	if err != nil {
		t.Fatalf("ApplyStatus: %v", err)
	}
	return applied.Finalize.Tickets
}
