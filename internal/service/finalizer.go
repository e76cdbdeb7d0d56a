package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"rifas_pix/internal/models"
	"rifas_pix/internal/numbers"
	"rifas_pix/internal/store"

	"github.com/google/uuid"
)

// EventPublisher receives events after the change that produced them has
// committed. *events.Producer implements it.
type EventPublisher interface {
	Publish(ctx context.Context, event *models.Event) error
}

// Notifier sends human readable messages to operators and buyers.
// *notify.Telegram implements it.
type Notifier interface {
	Notify(ctx context.Context, ownerID, text string) error
}

// eventTimeout bounds a publish or notification made on behalf of a caller
// that is waiting, such as a provider webhook.
const eventTimeout = 2 * time.Second

type Finalizer struct {
	store        store.Store
	publisher    EventPublisher
	notifier     Notifier
	logger       *log.Logger
	now          func() time.Time
	eventTimeout time.Duration
}

// NewFinalizer builds the one component allowed to turn a paid reservation
// into tickets. publisher and notifier may be nil.
func NewFinalizer(logger *log.Logger, st store.Store, publisher EventPublisher, notifier Notifier) *Finalizer {
	return &Finalizer{
		store:        st,
		publisher:    publisher,
		notifier:     notifier,
		logger:       logger,
		now:          time.Now,
		eventTimeout: eventTimeout,
	}
}

type FinalizeRequest struct {
	ReservationID    string
	ProviderChargeID string
	Customer         models.Customer
}

type FinalizeResult struct {
	Tickets []models.Ticket
	// AlreadyFinalized is set when the tickets were created by an earlier
	// call and are only being returned again.
	AlreadyFinalized bool
}

// Finalize consumes a paid reservation and creates its tickets exactly once.
// Repeated calls return the tickets of the first one.
func (f *Finalizer) Finalize(ctx context.Context, req FinalizeRequest) (*FinalizeResult, error) {
	charge, err := f.store.GetChargeByReservation(ctx, req.ReservationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load charge: %w", err)
	}
	if req.ProviderChargeID != "" && (charge == nil || charge.ProviderChargeID != req.ProviderChargeID) {
		charge, err = f.store.GetChargeByProviderID(ctx, req.ProviderChargeID)
		if err != nil {
			return nil, fmt.Errorf("failed to load charge: %w", err)
		}
		if charge != nil && charge.ReservationID != req.ReservationID {
			return nil, ErrChargeMismatch
		}
	}
	if charge == nil || charge.Status != models.ChargePaid {
		return nil, ErrReservationNotPaid
	}

	tickets, replayed, err := f.store.FinalizeReservation(ctx, req.ReservationID, f.buildTickets)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDBNotFound):
			return nil, ErrReservationNotFound
		case errors.Is(err, store.ErrDBReservationExpired):
			f.logger.Printf("ALERT: charge %s paid but reservation %s had expired; refund required", charge.ProviderChargeID, req.ReservationID)
			f.publish(ctx, &models.Event{
				Type:          models.EventPaidAfterExpiry,
				ReservationID: req.ReservationID,
				Charge:        charge,
				OccurredAt:    f.now(),
			})
			return nil, ErrReservationExpired
		case errors.Is(err, store.ErrDBCapacityExceeded):
			return nil, ErrCapacityExceeded
		}
		return nil, fmt.Errorf("failed to finalize reservation: %w", err)
	}

	result := &FinalizeResult{Tickets: tickets, AlreadyFinalized: replayed}
	if replayed {
		return result, nil
	}

	f.logger.Printf("Reservation %s finalized with %d tickets (charge %s)", req.ReservationID, len(tickets), charge.ProviderChargeID)
	if len(tickets) > 0 {
		first := tickets[0]
		f.publish(ctx, &models.Event{
			Type:          models.EventTicketsFinalized,
			RaffleID:      first.RaffleID,
			ReservationID: req.ReservationID,
			OwnerID:       first.OwnerID,
			Tickets:       tickets,
			Charge:        charge,
			OccurredAt:    f.now(),
		})
		f.notify(ctx, first.OwnerID, purchaseMessage(req.Customer, tickets))
	}
	return result, nil
}

// buildTickets runs inside the consume transaction.
func (f *Finalizer) buildTickets(res *models.Reservation) []models.Ticket {
	now := f.now()
	tickets := make([]models.Ticket, 0, res.Quantity)
	for seq := 0; seq < res.Quantity; seq++ {
		var raw []any
		if seq < len(res.ChosenNumbers) {
			raw = res.ChosenNumbers[seq]
		}
		tickets = append(tickets, models.Ticket{
			ID:            uuid.NewString(),
			RaffleID:      res.RaffleID,
			ReservationID: res.ID,
			OwnerID:       res.OwnerID,
			Seq:           seq,
			Numbers:       numbers.Canonicalize(raw, fmt.Sprintf("%s:%d", res.ID, seq)),
			CreatedAt:     now,
		})
	}
	return tickets
}

func (f *Finalizer) publish(ctx context.Context, event *models.Event) {
	if f.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, f.eventTimeout)
	defer cancel()
	if err := f.publisher.Publish(ctx, event); err != nil {
		f.logger.Printf("Warning: failed to publish %s for reservation %s: %v", event.Type, event.ReservationID, err)
	}
}

func (f *Finalizer) notify(ctx context.Context, ownerID, text string) {
	if f.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, f.eventTimeout)
	defer cancel()
	if err := f.notifier.Notify(ctx, ownerID, text); err != nil {
		f.logger.Printf("Warning: failed to notify %s: %v", ownerID, err)
	}
}

func purchaseMessage(customer models.Customer, tickets []models.Ticket) string {
	name := customer.Name
	if name == "" {
		name = "Participante"
	}
	msg := fmt.Sprintf("%s, pagamento confirmado! Seus bilhetes:", name)
	for _, t := range tickets {
		msg += fmt.Sprintf("\n#%d: %s %s %s %s %s", t.Seq+1, t.Numbers[0], t.Numbers[1], t.Numbers[2], t.Numbers[3], t.Numbers[4])
	}
	return msg
}
