package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"rifas_pix/internal/models"
	"rifas_pix/internal/numbers"
	"rifas_pix/internal/store"
)

// DrawFeed returns official lottery results. *lottery.Client implements it.
type DrawFeed interface {
	Latest(ctx context.Context) (*models.Draw, error)
}

type WinnerService struct {
	store     store.Store
	publisher EventPublisher
	notifier  Notifier
	logger    *log.Logger
	now       func() time.Time
}

// NewWinnerService accepts nil publisher and notifier.
func NewWinnerService(logger *log.Logger, st store.Store, publisher EventPublisher, notifier Notifier) *WinnerService {
	return &WinnerService{
		store:     st,
		publisher: publisher,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
	}
}

type SelectionResult struct {
	Record *models.WinnerRecord
	// AlreadySelected is set when the record came from an earlier run for
	// the same draw.
	AlreadySelected bool
}

// SelectWinner picks the ticket closest to the drawn numbers. A raffle gets
// at most one record per concurso, and a raffle already awarded for another
// concurso is not eligible again.
func (s *WinnerService) SelectWinner(ctx context.Context, raffleID string, drawn [numbers.Slots]string, concurso int) (*SelectionResult, error) {
	if concurso <= 0 {
		return nil, fmt.Errorf("%w: concurso must be positive", ErrInvalidDraw)
	}
	if _, err := numbers.Sorted(drawn); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDraw, err)
	}

	raffle, err := s.store.GetRaffle(ctx, raffleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load raffle: %w", err)
	}
	if raffle == nil {
		return nil, ErrRaffleNotFound
	}

	existing, err := s.store.GetWinner(ctx, raffleID, concurso)
	if err != nil {
		return nil, fmt.Errorf("failed to load winner: %w", err)
	}
	if existing != nil {
		return &SelectionResult{Record: existing, AlreadySelected: true}, nil
	}

	if raffle.Status != models.RaffleActive {
		return nil, fmt.Errorf("%w: raffle is %s", ErrNotEligible, raffle.Status)
	}
	if pct := raffle.FundedPercent(); pct < 100 {
		return nil, fmt.Errorf("%w: only %d%% funded", ErrNotEligible, pct)
	}

	tickets, err := s.store.ListTickets(ctx, raffleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	best, delta, err := closestTicket(tickets, drawn)
	if err != nil {
		return nil, err
	}

	stored, created, err := s.store.RecordWinner(ctx, &models.WinnerRecord{
		RaffleID:       raffleID,
		ConcursoNumber: concurso,
		TicketID:       best.ID,
		OwnerID:        best.OwnerID,
		DrawnNumbers:   drawn,
		Delta:          delta,
		CreatedAt:      s.now(),
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDBRaffleAwarded):
			return nil, fmt.Errorf("%w: raffle already awarded", ErrNotEligible)
		case errors.Is(err, store.ErrDBNotFound):
			return nil, ErrRaffleNotFound
		}
		return nil, fmt.Errorf("failed to record winner: %w", err)
	}
	if !created {
		return &SelectionResult{Record: stored, AlreadySelected: true}, nil
	}

	s.logger.Printf("Raffle %s awarded for concurso %d to ticket %s (delta %d)", raffleID, concurso, stored.TicketID, stored.Delta)
	s.announce(ctx, raffle, stored)
	return &SelectionResult{Record: stored}, nil
}

// closestTicket applies the ordering: lowest delta, then earliest creation,
// then lowest ticket id.
func closestTicket(tickets []models.Ticket, drawn [numbers.Slots]string) (*models.Ticket, int, error) {
	var best *models.Ticket
	bestDelta := 0
	for i := range tickets {
		t := &tickets[i]
		d, err := numbers.Distance(t.Numbers, drawn)
		if err != nil {
			return nil, 0, fmt.Errorf("ticket %s: %w", t.ID, err)
		}
		if best == nil || beats(t, d, best, bestDelta) {
			best, bestDelta = t, d
		}
	}
	if best == nil {
		return nil, 0, fmt.Errorf("%w: raffle has no tickets", ErrNotEligible)
	}
	return best, bestDelta, nil
}

func beats(t *models.Ticket, d int, best *models.Ticket, bestDelta int) bool {
	if d != bestDelta {
		return d < bestDelta
	}
	if !t.CreatedAt.Equal(best.CreatedAt) {
		return t.CreatedAt.Before(best.CreatedAt)
	}
	return t.ID < best.ID
}

func (s *WinnerService) announce(ctx context.Context, raffle *models.Raffle, rec *models.WinnerRecord) {
	ctx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()
	if s.publisher != nil {
		err := s.publisher.Publish(ctx, &models.Event{
			Type:       models.EventWinnerSelected,
			RaffleID:   rec.RaffleID,
			OwnerID:    rec.OwnerID,
			Winner:     rec,
			OccurredAt: s.now(),
		})
		if err != nil {
			s.logger.Printf("Warning: failed to publish winner of raffle %s: %v", rec.RaffleID, err)
		}
	}
	if s.notifier != nil {
		text := fmt.Sprintf("Rifa %q: concurso %d sorteou %s. Bilhete vencedor %s (diferença %d).",
			raffle.Title, rec.ConcursoNumber, strings.Join(rec.DrawnNumbers[:], " "), rec.TicketID, rec.Delta)
		if err := s.notifier.Notify(ctx, rec.OwnerID, text); err != nil {
			s.logger.Printf("Warning: failed to notify winner of raffle %s: %v", rec.RaffleID, err)
		}
	}
}

// DrawJob checks the lottery feed and awards every active raffle whose draw
// date has been reached.
type DrawJob struct {
	feed    DrawFeed
	winners *WinnerService
	store   store.Store
	logger  *log.Logger
	now     func() time.Time
}

func NewDrawJob(logger *log.Logger, feed DrawFeed, winners *WinnerService, st store.Store) *DrawJob {
	return &DrawJob{
		feed:    feed,
		winners: winners,
		store:   st,
		logger:  logger,
		now:     time.Now,
	}
}

// RunOnce returns the number of raffles awarded in this run.
func (j *DrawJob) RunOnce(ctx context.Context) (int, error) {
	due, err := j.store.ListRafflesDue(ctx, j.now())
	if err != nil {
		return 0, fmt.Errorf("failed to list raffles due: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	draw, err := j.feed.Latest(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch latest draw: %w", err)
	}

	awarded := 0
	for _, raffle := range due {
		if raffle.DrawDate != nil && drawnBefore(draw.DrawDate, *raffle.DrawDate) {
			j.logger.Printf("Draw job: concurso %d of %s predates raffle %s draw date", draw.ConcursoNumber, draw.DrawDate.Format("2006-01-02"), raffle.ID)
			continue
		}
		res, err := j.winners.SelectWinner(ctx, raffle.ID, draw.Numbers, draw.ConcursoNumber)
		if err != nil {
			if errors.Is(err, ErrNotEligible) {
				j.logger.Printf("Draw job: raffle %s skipped: %v", raffle.ID, err)
				continue
			}
			j.logger.Printf("Draw job: raffle %s failed: %v", raffle.ID, err)
			continue
		}
		if !res.AlreadySelected {
			awarded++
		}
	}
	return awarded, nil
}

// drawnBefore compares calendar days in the lottery's time zone.
func drawnBefore(drawDate, raffleDate time.Time) bool {
	if drawDate.IsZero() {
		return false
	}
	loc := brasilia()
	dy, dm, dd := drawDate.In(loc).Date()
	ry, rm, rd := raffleDate.In(loc).Date()
	return time.Date(dy, dm, dd, 0, 0, 0, 0, time.UTC).Before(time.Date(ry, rm, rd, 0, 0, 0, 0, time.UTC))
}

func brasilia() *time.Location {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		return time.FixedZone("BRT", -3*60*60)
	}
	return loc
}
