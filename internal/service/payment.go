package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"rifas_pix/internal/config"
	"rifas_pix/internal/models"
	"rifas_pix/internal/payment"
	"rifas_pix/internal/store"
)

// PaymentGateway is the provider side of a PIX charge. *payment.Client
// implements it.
type PaymentGateway interface {
	CreateCharge(ctx context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error)
	GetStatus(ctx context.Context, providerChargeID string) (models.ChargeStatus, error)
}

// StatusCache keeps recent provider answers for pending charges.
// *store.RedisStore implements it.
type StatusCache interface {
	CacheChargeStatus(ctx context.Context, providerChargeID string, status models.ChargeStatus, ttl time.Duration) error
	GetCachedChargeStatus(ctx context.Context, providerChargeID string) (models.ChargeStatus, bool, error)
	DeleteChargeStatus(ctx context.Context, providerChargeID string) error
}

type PaymentService struct {
	store     store.Store
	gateway   PaymentGateway
	cache     StatusCache
	finalizer *Finalizer
	config    *config.Config
	logger    *log.Logger
	now       func() time.Time
}

// NewPaymentService wires the charge lifecycle. cache may be nil.
func NewPaymentService(logger *log.Logger, st store.Store, gateway PaymentGateway, cache StatusCache, finalizer *Finalizer, cfg *config.Config) *PaymentService {
	return &PaymentService{
		store:     st,
		gateway:   gateway,
		cache:     cache,
		finalizer: finalizer,
		config:    cfg,
		logger:    logger,
		now:       time.Now,
	}
}

type CreateChargeRequest struct {
	ReservationID string
	OwnerID       string
	// AmountCents is optional; when set it must equal quantity*price.
	AmountCents int64
	Customer    models.Customer
}

// CreateCharge opens the PIX charge for a reservation. Calling it again for
// the same reservation returns the charge that already exists; created
// reports whether this call opened it.
func (s *PaymentService) CreateCharge(ctx context.Context, req CreateChargeRequest) (charge *models.Charge, created bool, err error) {
	res, err := s.store.GetReservation(ctx, req.ReservationID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load reservation: %w", err)
	}
	if res == nil || (req.OwnerID != "" && res.OwnerID != req.OwnerID) {
		return nil, false, ErrReservationNotFound
	}
	raffle, err := s.store.GetRaffle(ctx, res.RaffleID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load raffle: %w", err)
	}
	if raffle == nil {
		return nil, false, ErrRaffleNotFound
	}

	amount := int64(res.Quantity) * raffle.TicketPriceCents
	if req.AmountCents != 0 && req.AmountCents != amount {
		return nil, false, ErrAmountMismatch
	}

	create := func(ctx context.Context, locked *models.Reservation) (*models.Charge, error) {
		callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout())
		defer cancel()

		result, err := s.gateway.CreateCharge(callCtx, payment.ChargeRequest{
			ReservationID: locked.ID,
			AmountCents:   amount,
			Customer:      req.Customer,
			Description:   fmt.Sprintf("%s - %d bilhete(s)", raffle.Title, locked.Quantity),
		})
		if err != nil {
			return nil, err
		}
		// The QR must not outlive the hold.
		expiresAt := result.ExpiresAt
		if expiresAt.IsZero() || locked.ExpiresAt.Before(expiresAt) {
			expiresAt = locked.ExpiresAt
		}
		return &models.Charge{
			ReservationID:    locked.ID,
			ProviderChargeID: result.ProviderChargeID,
			AmountCents:      amount,
			Status:           result.Status,
			QRPayload:        result.QRPayload,
			QRImage:          result.QRImage,
			ExpiresAt:        expiresAt,
			Customer:         req.Customer,
		}, nil
	}

	charge, created, err = s.store.CreateChargeOnce(ctx, req.ReservationID, s.now(), create)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDBNotFound):
			return nil, false, ErrReservationNotFound
		case errors.Is(err, store.ErrDBReservationExpired):
			return nil, false, ErrReservationExpired
		case errors.Is(err, store.ErrDBReservationConsumed):
			return nil, false, ErrReservationConsumed
		case errors.Is(err, payment.ErrNotConfigured):
			return nil, false, ErrProviderNotConfigured
		case errors.Is(err, payment.ErrRejected):
			return nil, false, fmt.Errorf("%w: %v", ErrProviderRejected, err)
		}
		s.logger.Printf("Error creating charge for reservation %s: %v", req.ReservationID, err)
		return nil, false, fmt.Errorf("%w: %v", ErrChargeFailed, err)
	}

	if created {
		s.logger.Printf("Charge %s opened for reservation %s (%d cents)", charge.ProviderChargeID, charge.ReservationID, charge.AmountCents)
	}
	return charge, created, nil
}

// StatusUpdate is a provider notification after normalization. At least one
// of ReservationID and ProviderChargeID must be set.
type StatusUpdate struct {
	ReservationID    string
	ProviderChargeID string
	Status           models.ChargeStatus
	Source           string
}

type ApplyResult struct {
	Charge *models.Charge
	// Finalize is set when the charge is paid and the reservation was
	// finalized, now or before.
	Finalize *FinalizeResult
}

// ApplyStatus records a provider status and, when the charge is paid, runs
// the single Finalize entry point. Webhooks, the Kafka relay and the poller
// all come through here.
func (s *PaymentService) ApplyStatus(ctx context.Context, upd StatusUpdate) (*ApplyResult, error) {
	if !upd.Status.Valid() {
		return nil, ErrInvalidStatus
	}

	current, err := s.resolveCharge(ctx, upd.ReservationID, upd.ProviderChargeID)
	if err != nil {
		return nil, err
	}

	charge, err := s.store.UpdateChargeStatus(ctx, current.ProviderChargeID, upd.Status, s.now())
	if err != nil {
		if errors.Is(err, store.ErrDBNotFound) {
			return nil, ErrChargeNotFound
		}
		return nil, fmt.Errorf("failed to update charge status: %w", err)
	}
	if charge.Status != upd.Status {
		s.logger.Printf("Ignoring %s status %q for charge %s already %q", upd.Source, upd.Status, charge.ProviderChargeID, charge.Status)
	}
	if charge.Status.Terminal() {
		s.forgetStatus(ctx, charge.ProviderChargeID)
	} else {
		s.cacheStatus(ctx, charge)
	}

	result := &ApplyResult{Charge: charge}
	if charge.Status != models.ChargePaid {
		return result, nil
	}

	fin, err := s.finalizer.Finalize(ctx, FinalizeRequest{
		ReservationID:    charge.ReservationID,
		ProviderChargeID: charge.ProviderChargeID,
		Customer:         charge.Customer,
	})
	if err != nil {
		return result, err
	}
	result.Finalize = fin
	return result, nil
}

func (s *PaymentService) resolveCharge(ctx context.Context, reservationID, providerChargeID string) (*models.Charge, error) {
	reservationID = strings.TrimSpace(reservationID)
	providerChargeID = strings.TrimSpace(providerChargeID)

	var charge *models.Charge
	var err error
	switch {
	case providerChargeID != "":
		charge, err = s.store.GetChargeByProviderID(ctx, providerChargeID)
	case reservationID != "":
		charge, err = s.store.GetChargeByReservation(ctx, reservationID)
	default:
		return nil, ErrChargeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load charge: %w", err)
	}
	if charge == nil {
		return nil, ErrChargeNotFound
	}
	if reservationID != "" && charge.ReservationID != reservationID {
		return nil, ErrChargeMismatch
	}
	return charge, nil
}

type StatusResult struct {
	Charge *models.Charge
	Status models.ChargeStatus
	// Stale is set when the provider could not be reached and the last
	// known status is reported instead.
	Stale    bool
	Finalize *FinalizeResult
}

// RefreshStatus is one polling step: ask the provider for the charge of the
// reservation and apply the answer. Transient provider failures are logged
// and reported as the stored status with Stale set. A charge still pending
// once its reservation has expired yields ErrReservationExpired.
func (s *PaymentService) RefreshStatus(ctx context.Context, reservationID string) (*StatusResult, error) {
	charge, err := s.resolveCharge(ctx, reservationID, "")
	if err != nil {
		return nil, err
	}

	if charge.Status.Terminal() {
		return s.settle(ctx, charge)
	}

	status, fromCache := s.cachedStatus(ctx, charge.ProviderChargeID)
	if !fromCache {
		callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout())
		status, err = s.gateway.GetStatus(callCtx, charge.ProviderChargeID)
		cancel()
		if err != nil {
			if errors.Is(err, payment.ErrNotConfigured) {
				return nil, ErrProviderNotConfigured
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Printf("Warning: status check for charge %s failed, reporting %s: %v", charge.ProviderChargeID, charge.Status, err)
			if err := s.checkHold(ctx, charge.ReservationID); err != nil {
				return nil, err
			}
			return &StatusResult{Charge: charge, Status: charge.Status, Stale: true}, nil
		}
	}

	if status == models.ChargePending {
		if !fromCache {
			s.cacheStatus(ctx, charge)
		}
		if err := s.checkHold(ctx, charge.ReservationID); err != nil {
			return nil, err
		}
		return &StatusResult{Charge: charge, Status: status}, nil
	}

	applied, err := s.ApplyStatus(ctx, StatusUpdate{
		ReservationID:    reservationID,
		ProviderChargeID: charge.ProviderChargeID,
		Status:           status,
		Source:           "poll",
	})
	if err != nil {
		return nil, err
	}
	return &StatusResult{Charge: applied.Charge, Status: applied.Charge.Status, Finalize: applied.Finalize}, nil
}

// settle handles a charge already in a terminal state. A paid charge is run
// through Finalize again, which replays the stored tickets.
func (s *PaymentService) settle(ctx context.Context, charge *models.Charge) (*StatusResult, error) {
	result := &StatusResult{Charge: charge, Status: charge.Status}
	if charge.Status != models.ChargePaid {
		return result, nil
	}
	fin, err := s.finalizer.Finalize(ctx, FinalizeRequest{
		ReservationID:    charge.ReservationID,
		ProviderChargeID: charge.ProviderChargeID,
		Customer:         charge.Customer,
	})
	if err != nil {
		return nil, err
	}
	result.Finalize = fin
	return result, nil
}

// checkHold returns ErrReservationExpired when the reservation behind an
// unpaid charge was released or is past its deadline.
func (s *PaymentService) checkHold(ctx context.Context, reservationID string) error {
	res, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return fmt.Errorf("failed to load reservation: %w", err)
	}
	if res == nil {
		return ErrReservationNotFound
	}
	switch {
	case res.Status == models.ReservationExpired:
		return ErrReservationExpired
	case res.Status == models.ReservationActive && s.now().After(res.ExpiresAt):
		return ErrReservationExpired
	}
	return nil
}

func (s *PaymentService) cachedStatus(ctx context.Context, providerChargeID string) (models.ChargeStatus, bool) {
	if s.cache == nil {
		return "", false
	}
	status, ok, err := s.cache.GetCachedChargeStatus(ctx, providerChargeID)
	if err != nil {
		s.logger.Printf("Warning: failed to read cached status for charge %s: %v", providerChargeID, err)
		return "", false
	}
	return status, ok
}

func (s *PaymentService) cacheStatus(ctx context.Context, charge *models.Charge) {
	if s.cache == nil {
		return
	}
	if err := s.cache.CacheChargeStatus(ctx, charge.ProviderChargeID, charge.Status, s.config.PollInterval); err != nil {
		s.logger.Printf("Warning: failed to cache status for charge %s: %v", charge.ProviderChargeID, err)
	}
}

// forgetStatus drops the cached answer; a settled charge is read from the
// store from then on.
func (s *PaymentService) forgetStatus(ctx context.Context, providerChargeID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteChargeStatus(ctx, providerChargeID); err != nil {
		s.logger.Printf("Warning: failed to drop cached status for charge %s: %v", providerChargeID, err)
	}
}

func (s *PaymentService) providerTimeout() time.Duration {
	if s.config.ProviderTimeout > 0 {
		return s.config.ProviderTimeout
	}
	return 10 * time.Second
}
