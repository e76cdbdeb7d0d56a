package handler

import (
	"errors"
	"log"
	"net/http"

	"rifas_pix/internal/models"
	"rifas_pix/internal/service"
)

type FinalizeHandler struct {
	logger       *log.Logger
	reservations *service.ReservationService
	finalizer    *service.Finalizer
}

func NewFinalizeHandler(logger *log.Logger, reservations *service.ReservationService, finalizer *service.Finalizer) *FinalizeHandler {
	return &FinalizeHandler{logger: logger, reservations: reservations, finalizer: finalizer}
}

type FinalizeRequestPayload struct {
	ProviderChargeID string          `json:"provider_charge_id"`
	Customer         models.Customer `json:"customer"`
}

type FinalizeResponsePayload struct {
	Status   string          `json:"status"`
	Replayed bool            `json:"replayed"`
	Tickets  []models.Ticket `json:"tickets"`
}

func (h *FinalizeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body FinalizeRequestPayload
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &body); err != nil {
			writeFailure(h.logger, w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	res, err := loadOwnedReservation(r, h.reservations)
	if err != nil {
		writeReservationLookupFailure(h.logger, w, err)
		return
	}

	result, err := h.finalizer.Finalize(r.Context(), service.FinalizeRequest{
		ReservationID:    res.ID,
		ProviderChargeID: body.ProviderChargeID,
		Customer:         body.Customer,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrReservationNotPaid):
			writeFailure(h.logger, w, http.StatusPaymentRequired, err.Error())
		case errors.Is(err, service.ErrChargeMismatch):
			writeFailure(h.logger, w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrReservationExpired):
			writeFailure(h.logger, w, http.StatusGone, err.Error())
		case errors.Is(err, service.ErrReservationNotFound):
			writeFailure(h.logger, w, http.StatusNotFound, err.Error())
		default:
			h.logger.Printf("Error finalizing reservation %s: %v", res.ID, err)
			writeFailure(h.logger, w, http.StatusInternalServerError, "An unexpected error occurred during finalization")
		}
		return
	}

	writeJSON(h.logger, w, http.StatusOK, FinalizeResponsePayload{
		Status:   "success",
		Replayed: result.AlreadyFinalized,
		Tickets:  result.Tickets,
	})
}
