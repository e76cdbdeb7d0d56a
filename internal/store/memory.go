package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"rifas_pix/internal/models"
)

// MemoryStore keeps everything in process. It gives the same atomicity as
// DBStore by running every decision under one mutex, and is used for local
// runs (STORE_BACKEND=memory) and tests.
type MemoryStore struct {
	mu           sync.Mutex
	raffles      map[string]*models.Raffle
	reservations map[string]*models.Reservation
	charges      map[string]*models.Charge  // by provider charge id
	tickets      map[string][]models.Ticket // by reservation id
	ticketOrder  []string                   // reservation ids in finalize order
	winners      map[winnerKey]*models.WinnerRecord

	chargeLocksMu sync.Mutex
	chargeLocks   map[string]*sync.Mutex
}

type winnerKey struct {
	raffleID string
	concurso int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		raffles:      make(map[string]*models.Raffle),
		reservations: make(map[string]*models.Reservation),
		charges:      make(map[string]*models.Charge),
		tickets:      make(map[string][]models.Ticket),
		winners:      make(map[winnerKey]*models.WinnerRecord),
		chargeLocks:  make(map[string]*sync.Mutex),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateRaffle(ctx context.Context, raffle *models.Raffle) (*models.Raffle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := *raffle
	if r.Status == "" {
		r.Status = models.RaffleActive
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	s.raffles[r.ID] = &r
	out := r
	return &out, nil
}

func (s *MemoryStore) GetRaffle(ctx context.Context, id string) (*models.Raffle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.raffles[id]
	if !ok {
		return nil, nil
	}
	out := *r
	return &out, nil
}

func (s *MemoryStore) ListRafflesDue(ctx context.Context, now time.Time) ([]models.Raffle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []models.Raffle
	for _, r := range s.raffles {
		if r.Status == models.RaffleActive && r.DrawDate != nil && !r.DrawDate.After(now) {
			due = append(due, *r)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].DrawDate.Equal(*due[j].DrawDate) {
			return due[i].DrawDate.Before(*due[j].DrawDate)
		}
		return due[i].ID < due[j].ID
	})
	return due, nil
}

func (s *MemoryStore) TryReserve(ctx context.Context, res *models.Reservation, now time.Time) (*models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raffle, ok := s.raffles[res.RaffleID]
	if !ok {
		return nil, ErrDBNotFound
	}
	if raffle.Status != models.RaffleActive {
		return nil, ErrDBRaffleNotActive
	}

	held := 0
	for _, r := range s.reservations {
		if r.RaffleID != res.RaffleID || r.Status != models.ReservationActive {
			continue
		}
		if r.ExpiresAt.Before(now) {
			r.Status = models.ReservationExpired
			continue
		}
		held += r.Quantity
	}
	if raffle.TotalTickets-(raffle.SoldTickets+held) < res.Quantity {
		return nil, ErrDBCapacityExceeded
	}

	r := *res
	r.Status = models.ReservationActive
	r.CreatedAt = now
	s.reservations[r.ID] = &r
	out := r
	return &out, nil
}

func (s *MemoryStore) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[id]
	if !ok {
		return nil, nil
	}
	out := *r
	return &out, nil
}

func (s *MemoryStore) ReleaseReservation(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[id]
	if !ok || r.Status != models.ReservationActive {
		return false, nil
	}
	r.Status = models.ReservationExpired
	return true, nil
}

func (s *MemoryStore) ExpireReservations(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, r := range s.reservations {
		if r.Status == models.ReservationActive && r.ExpiresAt.Before(now) {
			r.Status = models.ReservationExpired
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) chargeLock(reservationID string) *sync.Mutex {
	s.chargeLocksMu.Lock()
	defer s.chargeLocksMu.Unlock()

	l, ok := s.chargeLocks[reservationID]
	if !ok {
		l = &sync.Mutex{}
		s.chargeLocks[reservationID] = l
	}
	return l
}

// latestCharge expects s.mu to be held.
func (s *MemoryStore) latestCharge(reservationID string, match func(models.ChargeStatus) bool) *models.Charge {
	var latest *models.Charge
	for _, c := range s.charges {
		if c.ReservationID != reservationID || !match(c.Status) {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			latest = c
		}
	}
	return latest
}

func (s *MemoryStore) CreateChargeOnce(ctx context.Context, reservationID string, now time.Time, create ChargeCreator) (*models.Charge, bool, error) {
	l := s.chargeLock(reservationID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	r, ok := s.reservations[reservationID]
	if !ok {
		s.mu.Unlock()
		return nil, false, ErrDBNotFound
	}
	open := s.latestCharge(reservationID, func(st models.ChargeStatus) bool {
		return st == models.ChargePending || st == models.ChargePaid
	})
	if open != nil {
		out := *open
		s.mu.Unlock()
		return &out, false, nil
	}
	res := *r
	s.mu.Unlock()

	switch {
	case res.Status == models.ReservationConsumed:
		return nil, false, ErrDBReservationConsumed
	case res.Status == models.ReservationExpired, now.After(res.ExpiresAt):
		return nil, false, ErrDBReservationExpired
	}

	charge, err := create(ctx, &res)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c := *charge
	c.ReservationID = reservationID
	c.CreatedAt = now
	c.UpdatedAt = now
	s.charges[c.ProviderChargeID] = &c
	out := c
	return &out, true, nil
}

func (s *MemoryStore) GetChargeByReservation(ctx context.Context, reservationID string) (*models.Charge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.latestCharge(reservationID, func(models.ChargeStatus) bool { return true })
	if c == nil {
		return nil, nil
	}
	out := *c
	return &out, nil
}

func (s *MemoryStore) GetChargeByProviderID(ctx context.Context, providerChargeID string) (*models.Charge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.charges[providerChargeID]
	if !ok {
		return nil, nil
	}
	out := *c
	return &out, nil
}

func (s *MemoryStore) UpdateChargeStatus(ctx context.Context, providerChargeID string, status models.ChargeStatus, now time.Time) (*models.Charge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.charges[providerChargeID]
	if !ok {
		return nil, ErrDBNotFound
	}
	if c.Status == models.ChargePending {
		c.Status = status
		c.UpdatedAt = now
	}
	out := *c
	return &out, nil
}

func (s *MemoryStore) FinalizeReservation(ctx context.Context, reservationID string, build TicketBuilder) ([]models.Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[reservationID]
	if !ok {
		return nil, false, ErrDBNotFound
	}
	switch r.Status {
	case models.ReservationConsumed:
		return append([]models.Ticket(nil), s.tickets[reservationID]...), true, nil
	case models.ReservationExpired:
		return nil, false, ErrDBReservationExpired
	}

	raffle, ok := s.raffles[r.RaffleID]
	if !ok {
		return nil, false, ErrDBNotFound
	}
	res := *r
	tickets := build(&res)
	if raffle.SoldTickets+len(tickets) > raffle.TotalTickets {
		return nil, false, ErrDBCapacityExceeded
	}

	r.Status = models.ReservationConsumed
	raffle.SoldTickets += len(tickets)
	s.tickets[reservationID] = append([]models.Ticket(nil), tickets...)
	s.ticketOrder = append(s.ticketOrder, reservationID)
	return append([]models.Ticket(nil), tickets...), false, nil
}

func (s *MemoryStore) ListTickets(ctx context.Context, raffleID string) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Ticket
	for _, resID := range s.ticketOrder {
		for _, t := range s.tickets[resID] {
			if t.RaffleID == raffleID {
				out = append(out, t)
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) ListTicketsByReservation(ctx context.Context, reservationID string) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]models.Ticket(nil), s.tickets[reservationID]...), nil
}

func (s *MemoryStore) GetWinner(ctx context.Context, raffleID string, concurso int) (*models.WinnerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.winners[winnerKey{raffleID, concurso}]
	if !ok {
		return nil, nil
	}
	out := *w
	return &out, nil
}

func (s *MemoryStore) RecordWinner(ctx context.Context, rec *models.WinnerRecord) (*models.WinnerRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raffle, ok := s.raffles[rec.RaffleID]
	if !ok {
		return nil, false, ErrDBNotFound
	}
	key := winnerKey{rec.RaffleID, rec.ConcursoNumber}
	if existing, ok := s.winners[key]; ok {
		out := *existing
		return &out, false, nil
	}
	if raffle.Status == models.RaffleAwarded {
		return nil, false, ErrDBRaffleAwarded
	}

	w := *rec
	s.winners[key] = &w
	raffle.Status = models.RaffleAwarded
	out := w
	return &out, true, nil
}
