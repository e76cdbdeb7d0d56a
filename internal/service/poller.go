package service

import (
	"context"
	"errors"
	"log"
	"time"

	"rifas_pix/internal/models"
)

// StatusRefresher is a single polling step. *PaymentService implements it.
type StatusRefresher interface {
	RefreshStatus(ctx context.Context, reservationID string) (*StatusResult, error)
}

type Poller struct {
	payments StatusRefresher
	interval time.Duration
	deadline time.Duration
	logger   *log.Logger
}

func NewPoller(logger *log.Logger, payments StatusRefresher, interval, deadline time.Duration) *Poller {
	return &Poller{
		payments: payments,
		interval: interval,
		deadline: deadline,
		logger:   logger,
	}
}

// Run polls the reservation's charge until it is paid, ends unpaid, the
// deadline passes or ctx is cancelled. Cancellation is honored between
// steps and aborts an in-flight provider call.
//
// A paid charge returns the finalize result. A charge that ends overdue or
// refunded returns ErrPaymentNotComplete with the last result.
func (p *Poller) Run(ctx context.Context, reservationID string) (*StatusResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.deadline)
	defer cancel()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		res, err := p.payments.RefreshStatus(ctx, reservationID)
		switch {
		case err == nil:
			switch res.Status {
			case models.ChargePaid:
				return res, nil
			case models.ChargeOverdue, models.ChargeRefunded:
				return res, ErrPaymentNotComplete
			}
		case ctx.Err() != nil:
			return nil, pollErr(ctx)
		case pollFatal(err):
			return nil, err
		default:
			p.logger.Printf("Poll step for reservation %s failed: %v", reservationID, err)
		}

		select {
		case <-ctx.Done():
			return nil, pollErr(ctx)
		case <-ticker.C:
		}
	}
}

func pollErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrPollExpired
	}
	return ctx.Err()
}

func pollFatal(err error) bool {
	for _, target := range []error{
		ErrChargeNotFound,
		ErrChargeMismatch,
		ErrReservationNotFound,
		ErrReservationExpired,
		ErrProviderNotConfigured,
		ErrCapacityExceeded,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
