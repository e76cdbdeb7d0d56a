package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"rifas_pix/internal/config"
	"rifas_pix/internal/models"
	"rifas_pix/internal/store"

	"github.com/google/uuid"
)

type ReservationService struct {
	store  store.Store
	config *config.Config
	logger *log.Logger
	now    func() time.Time
}

func NewReservationService(logger *log.Logger, st store.Store, cfg *config.Config) *ReservationService {
	return &ReservationService{
		store:  st,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

type ReserveRequest struct {
	RaffleID string
	OwnerID  string
	Quantity int
	// Numbers holds the raw picks per ticket; missing entries are filled in
	// when the reservation is finalized.
	Numbers [][]any
}

// Reserve holds Quantity tickets of the raffle until the reservation TTL
// elapses. The capacity check and the insert are a single store call.
func (s *ReservationService) Reserve(ctx context.Context, req ReserveRequest) (*models.Reservation, error) {
	if req.Quantity < 1 || req.Quantity > s.config.MaxTicketsPerReservation {
		return nil, ErrInvalidQuantity
	}

	picks := req.Numbers
	if len(picks) > req.Quantity {
		picks = picks[:req.Quantity]
	}

	now := s.now()
	res := &models.Reservation{
		ID:            uuid.NewString(),
		RaffleID:      req.RaffleID,
		OwnerID:       req.OwnerID,
		Quantity:      req.Quantity,
		ChosenNumbers: picks,
		ExpiresAt:     now.Add(s.config.ReservationTTL),
	}

	created, err := s.store.TryReserve(ctx, res, now)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDBNotFound):
			return nil, ErrRaffleNotFound
		case errors.Is(err, store.ErrDBRaffleNotActive):
			return nil, ErrRaffleNotActive
		case errors.Is(err, store.ErrDBCapacityExceeded):
			return nil, ErrCapacityExceeded
		}
		return nil, fmt.Errorf("failed to reserve tickets: %w", err)
	}

	s.logger.Printf("Reservation %s holds %d tickets of raffle %s until %s",
		created.ID, created.Quantity, created.RaffleID, created.ExpiresAt.Format(time.RFC3339))
	return created, nil
}

func (s *ReservationService) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	res, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load reservation: %w", err)
	}
	if res == nil {
		return nil, ErrReservationNotFound
	}
	return res, nil
}

// Release gives an active hold back to the raffle. Releasing a reservation
// that is no longer active is a no-op reported as false.
func (s *ReservationService) Release(ctx context.Context, id string) (bool, error) {
	released, err := s.store.ReleaseReservation(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to release reservation: %w", err)
	}
	if released {
		s.logger.Printf("Reservation %s released", id)
	}
	return released, nil
}

// Sweep expires every active reservation whose deadline has passed.
// Consumed reservations are never touched.
func (s *ReservationService) Sweep(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireReservations(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to expire reservations: %w", err)
	}
	if n > 0 {
		s.logger.Printf("Sweeper expired %d reservations", n)
	}
	return n, nil
}

// CreateRaffle opens a raffle for reservations.
func (s *ReservationService) CreateRaffle(ctx context.Context, raffle *models.Raffle) (*models.Raffle, error) {
	if raffle.TotalTickets <= 0 || raffle.TicketPriceCents <= 0 || raffle.GoalCents < 0 {
		return nil, ErrInvalidRaffle
	}
	if raffle.ID == "" {
		raffle.ID = uuid.NewString()
	}
	raffle.Status = models.RaffleActive
	raffle.SoldTickets = 0
	raffle.CreatedAt = s.now()

	created, err := s.store.CreateRaffle(ctx, raffle)
	if err != nil {
		return nil, fmt.Errorf("failed to create raffle: %w", err)
	}
	s.logger.Printf("Raffle %s created with %d tickets at %d cents", created.ID, created.TotalTickets, created.TicketPriceCents)
	return created, nil
}

func (s *ReservationService) GetRaffle(ctx context.Context, id string) (*models.Raffle, error) {
	raffle, err := s.store.GetRaffle(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load raffle: %w", err)
	}
	if raffle == nil {
		return nil, ErrRaffleNotFound
	}
	return raffle, nil
}

// ReservationTickets returns the tickets issued for a consumed reservation
// and nil for any other.
func (s *ReservationService) ReservationTickets(ctx context.Context, res *models.Reservation) ([]models.Ticket, error) {
	if res.Status != models.ReservationConsumed {
		return nil, nil
	}
	tickets, err := s.store.ListTicketsByReservation(ctx, res.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservation tickets: %w", err)
	}
	return tickets, nil
}

// ListTickets returns the raffle's tickets, optionally only those owned by
// ownerID.
func (s *ReservationService) ListTickets(ctx context.Context, raffleID, ownerID string) ([]models.Ticket, error) {
	if _, err := s.GetRaffle(ctx, raffleID); err != nil {
		return nil, err
	}
	tickets, err := s.store.ListTickets(ctx, raffleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	if ownerID == "" {
		return tickets, nil
	}
	owned := make([]models.Ticket, 0, len(tickets))
	for _, t := range tickets {
		if t.OwnerID == ownerID {
			owned = append(owned, t)
		}
	}
	return owned, nil
}
