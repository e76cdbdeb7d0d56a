package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"rifas_pix/internal/middleware"
	"rifas_pix/internal/models"
	"rifas_pix/internal/service"

	"github.com/go-chi/chi/v5"
)

type CreateChargeHandler struct {
	logger   *log.Logger
	payments *service.PaymentService
}

func NewCreateChargeHandler(logger *log.Logger, payments *service.PaymentService) *CreateChargeHandler {
	return &CreateChargeHandler{logger: logger, payments: payments}
}

type CreateChargeRequestPayload struct {
	AmountCents int64           `json:"amount_cents"`
	Customer    models.Customer `json:"customer"`
}

type QRPayload struct {
	Payload      string    `json:"payload"`
	EncodedImage string    `json:"encoded_image"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type ChargeResponsePayload struct {
	ChargeID      string              `json:"charge_id"`
	ReservationID string              `json:"reservation_id"`
	AmountCents   int64               `json:"amount_cents"`
	Status        models.ChargeStatus `json:"status"`
	QR            QRPayload           `json:"qr"`
}

func (h *CreateChargeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body CreateChargeRequestPayload
	if err := decodeBody(w, r, &body); err != nil {
		writeFailure(h.logger, w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(body.Customer.Name) == "" {
		writeFailure(h.logger, w, http.StatusBadRequest, "customer.name is required")
		return
	}
	owner, _ := middleware.UserID(r.Context())

	charge, created, err := h.payments.CreateCharge(r.Context(), service.CreateChargeRequest{
		ReservationID: chi.URLParam(r, "id"),
		OwnerID:       owner,
		AmountCents:   body.AmountCents,
		Customer:      body.Customer,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrReservationNotFound), errors.Is(err, service.ErrRaffleNotFound):
			writeFailure(h.logger, w, http.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrAmountMismatch):
			writeFailure(h.logger, w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrReservationExpired):
			writeFailure(h.logger, w, http.StatusGone, err.Error())
		case errors.Is(err, service.ErrReservationConsumed):
			writeFailure(h.logger, w, http.StatusConflict, err.Error())
		case errors.Is(err, service.ErrProviderRejected):
			writeFailure(h.logger, w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, service.ErrProviderNotConfigured):
			writeFailure(h.logger, w, http.StatusServiceUnavailable, err.Error())
		case errors.Is(err, service.ErrChargeFailed):
			writeFailure(h.logger, w, http.StatusBadGateway, "Payment provider is unavailable, try again")
		default:
			h.logger.Printf("Error creating charge: %v", err)
			writeFailure(h.logger, w, http.StatusInternalServerError, "An unexpected error occurred while creating the charge")
		}
		return
	}

	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	writeJSON(h.logger, w, code, ChargeResponsePayload{
		ChargeID:      charge.ProviderChargeID,
		ReservationID: charge.ReservationID,
		AmountCents:   charge.AmountCents,
		Status:        charge.Status,
		QR: QRPayload{
			Payload:      charge.QRPayload,
			EncodedImage: charge.QRImage,
			ExpiresAt:    charge.ExpiresAt,
		},
	})
}

type StatusResponsePayload struct {
	ReservationID    string          `json:"reservation_id"`
	Status           string          `json:"status"`
	Stale            bool            `json:"stale,omitempty"`
	AlreadyFinalized bool            `json:"already_finalized,omitempty"`
	Tickets          []models.Ticket `json:"tickets,omitempty"`
}

func statusPayload(reservationID string, res *service.StatusResult) StatusResponsePayload {
	p := StatusResponsePayload{ReservationID: reservationID, Status: string(res.Status), Stale: res.Stale}
	if res.Finalize != nil {
		p.Tickets = res.Finalize.Tickets
		p.AlreadyFinalized = res.Finalize.AlreadyFinalized
	}
	return p
}

// ChargeStatusHandler runs one polling step.
type ChargeStatusHandler struct {
	logger       *log.Logger
	reservations *service.ReservationService
	payments     *service.PaymentService
}

func NewChargeStatusHandler(logger *log.Logger, reservations *service.ReservationService, payments *service.PaymentService) *ChargeStatusHandler {
	return &ChargeStatusHandler{logger: logger, reservations: reservations, payments: payments}
}

func (h *ChargeStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	res, err := loadOwnedReservation(r, h.reservations)
	if err != nil {
		writeReservationLookupFailure(h.logger, w, err)
		return
	}

	result, err := h.payments.RefreshStatus(r.Context(), res.ID)
	if err != nil {
		writePollFailure(h.logger, w, res.ID, err)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, statusPayload(res.ID, result))
}

const maxWait = time.Minute

// ChargeWaitHandler long-polls until the charge settles. The wait ends with
// the request, so a client that goes away stops the provider calls.
type ChargeWaitHandler struct {
	logger       *log.Logger
	reservations *service.ReservationService
	poller       *service.Poller
}

func NewChargeWaitHandler(logger *log.Logger, reservations *service.ReservationService, poller *service.Poller) *ChargeWaitHandler {
	return &ChargeWaitHandler{logger: logger, reservations: reservations, poller: poller}
}

func (h *ChargeWaitHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	res, err := loadOwnedReservation(r, h.reservations)
	if err != nil {
		writeReservationLookupFailure(h.logger, w, err)
		return
	}

	wait := 30 * time.Second
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeFailure(h.logger, w, http.StatusBadRequest, "Invalid timeout")
			return
		}
		wait = min(d, maxWait)
	}
	ctx, cancel := context.WithTimeout(r.Context(), wait)
	defer cancel()

	result, err := h.poller.Run(ctx, res.ID)
	switch {
	case err == nil, errors.Is(err, service.ErrPaymentNotComplete):
		writeJSON(h.logger, w, http.StatusOK, statusPayload(res.ID, result))
	case errors.Is(err, service.ErrPollExpired):
		writeJSON(h.logger, w, http.StatusOK, StatusResponsePayload{ReservationID: res.ID, Status: "timeout"})
	case r.Context().Err() != nil:
		h.logger.Printf("Client left while waiting on reservation %s", res.ID)
	default:
		writePollFailure(h.logger, w, res.ID, err)
	}
}

func writeReservationLookupFailure(logger *log.Logger, w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrReservationNotFound) {
		writeFailure(logger, w, http.StatusNotFound, err.Error())
		return
	}
	logger.Printf("Error loading reservation: %v", err)
	writeFailure(logger, w, http.StatusInternalServerError, "An unexpected error occurred")
}

func writePollFailure(logger *log.Logger, w http.ResponseWriter, reservationID string, err error) {
	switch {
	case errors.Is(err, service.ErrChargeNotFound):
		writeFailure(logger, w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrReservationExpired):
		writeJSON(logger, w, http.StatusOK, StatusResponsePayload{ReservationID: reservationID, Status: "expired"})
	case errors.Is(err, service.ErrProviderNotConfigured):
		writeFailure(logger, w, http.StatusServiceUnavailable, err.Error())
	default:
		logger.Printf("Error checking status of reservation %s: %v", reservationID, err)
		writeJSON(logger, w, http.StatusOK, StatusResponsePayload{ReservationID: reservationID, Status: string(models.ChargePending), Stale: true})
	}
}
