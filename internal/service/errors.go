package service

import "errors"

var (
	ErrRaffleNotFound      = errors.New("raffle not found")
	ErrRaffleNotActive     = errors.New("raffle is not accepting reservations")
	ErrInvalidRaffle       = errors.New("raffle needs positive ticket count and price")
	ErrInvalidQuantity     = errors.New("quantity must be between 1 and the per-reservation limit")
	ErrCapacityExceeded    = errors.New("not enough tickets left in this raffle")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrReservationExpired  = errors.New("reservation has expired")
	ErrReservationConsumed = errors.New("reservation has already been finalized")
	ErrReservationNotPaid  = errors.New("reservation has no paid charge")

	ErrAmountMismatch        = errors.New("amount does not match the reservation total")
	ErrChargeNotFound        = errors.New("charge not found")
	ErrChargeMismatch        = errors.New("charge does not belong to this reservation")
	ErrChargeFailed          = errors.New("charge creation failed")
	ErrProviderRejected      = errors.New("payment provider rejected the request")
	ErrProviderNotConfigured = errors.New("payment provider is not configured")
	ErrInvalidStatus         = errors.New("unknown charge status")

	ErrPollExpired        = errors.New("payment was not confirmed before the deadline")
	ErrPaymentNotComplete = errors.New("charge ended without payment")

	ErrNotEligible = errors.New("raffle is not eligible for a winner")
	ErrInvalidDraw = errors.New("drawn numbers are invalid")
)
