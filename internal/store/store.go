package store

import (
	"context"
	"errors"
	"time"

	"rifas_pix/internal/models"
)

var (
	ErrDBNotFound            = errors.New("database: record not found")
	ErrDBCapacityExceeded    = errors.New("database: raffle capacity exceeded")
	ErrDBRaffleNotActive     = errors.New("database: raffle is not active")
	ErrDBReservationExpired  = errors.New("database: reservation expired")
	ErrDBReservationConsumed = errors.New("database: reservation already consumed")
	ErrDBRaffleAwarded       = errors.New("database: raffle already awarded for another draw")
)

// ChargeCreator is called while the reservation is locked, so at most one
// caller per reservation ever talks to the provider at a time.
type ChargeCreator func(ctx context.Context, res *models.Reservation) (*models.Charge, error)

// TicketBuilder produces the tickets for a reservation that is being consumed.
type TicketBuilder func(res *models.Reservation) []models.Ticket

// Store is the shared-storage boundary. Every method that decides capacity,
// consumption or winners is atomic on its own; callers never combine a read
// and a write to make those decisions.
type Store interface {
	CreateRaffle(ctx context.Context, raffle *models.Raffle) (*models.Raffle, error)
	// GetRaffle returns nil, nil when the raffle does not exist.
	GetRaffle(ctx context.Context, id string) (*models.Raffle, error)
	ListRafflesDue(ctx context.Context, now time.Time) ([]models.Raffle, error)

	// TryReserve checks remaining capacity and inserts the active
	// reservation in one transaction.
	TryReserve(ctx context.Context, res *models.Reservation, now time.Time) (*models.Reservation, error)
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)
	// ReleaseReservation moves an active reservation to expired. It reports
	// false when the reservation was not active.
	ReleaseReservation(ctx context.Context, id string) (bool, error)
	// ExpireReservations releases every active reservation past its deadline.
	ExpireReservations(ctx context.Context, now time.Time) (int64, error)

	// CreateChargeOnce returns the existing pending or paid charge of the
	// reservation, or persists the one produced by create. The bool is true
	// when a new charge was stored.
	CreateChargeOnce(ctx context.Context, reservationID string, now time.Time, create ChargeCreator) (*models.Charge, bool, error)
	// GetChargeByReservation returns the most recent charge, or nil, nil.
	GetChargeByReservation(ctx context.Context, reservationID string) (*models.Charge, error)
	GetChargeByProviderID(ctx context.Context, providerChargeID string) (*models.Charge, error)
	// UpdateChargeStatus only moves pending charges; a charge already in a
	// terminal state is returned unchanged.
	UpdateChargeStatus(ctx context.Context, providerChargeID string, status models.ChargeStatus, now time.Time) (*models.Charge, error)

	// FinalizeReservation swaps active to consumed, inserts the built
	// tickets and increments the sold counter in one unit. A reservation that
	// is already consumed yields its stored tickets and replayed=true.
	FinalizeReservation(ctx context.Context, reservationID string, build TicketBuilder) (tickets []models.Ticket, replayed bool, err error)
	ListTickets(ctx context.Context, raffleID string) ([]models.Ticket, error)
	ListTicketsByReservation(ctx context.Context, reservationID string) ([]models.Ticket, error)

	GetWinner(ctx context.Context, raffleID string, concurso int) (*models.WinnerRecord, error)
	// RecordWinner inserts the record and marks the raffle awarded together.
	// When a record already exists for (raffle, concurso) it is returned with
	// created=false.
	RecordWinner(ctx context.Context, rec *models.WinnerRecord) (stored *models.WinnerRecord, created bool, err error)

	Close() error
}
