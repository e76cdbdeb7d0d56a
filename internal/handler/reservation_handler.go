package handler

import (
	"errors"
	"log"
	"net/http"
	"time"

	"rifas_pix/internal/middleware"
	"rifas_pix/internal/models"
	"rifas_pix/internal/service"

	"github.com/go-chi/chi/v5"
)

type ReserveHandler struct {
	logger       *log.Logger
	reservations *service.ReservationService
}

func NewReserveHandler(logger *log.Logger, reservations *service.ReservationService) *ReserveHandler {
	return &ReserveHandler{logger: logger, reservations: reservations}
}

type ReserveRequestPayload struct {
	Quantity int     `json:"quantity"`
	Numbers  [][]any `json:"numbers"`
}

type ReserveResponsePayload struct {
	ReservationID string    `json:"reservation_id"`
	RaffleID      string    `json:"raffle_id"`
	Quantity      int       `json:"quantity"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func (h *ReserveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body ReserveRequestPayload
	if err := decodeBody(w, r, &body); err != nil {
		writeFailure(h.logger, w, http.StatusBadRequest, "Invalid request body")
		return
	}
	owner, _ := middleware.UserID(r.Context())

	res, err := h.reservations.Reserve(r.Context(), service.ReserveRequest{
		RaffleID: chi.URLParam(r, "raffleID"),
		OwnerID:  owner,
		Quantity: body.Quantity,
		Numbers:  body.Numbers,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidQuantity):
			writeFailure(h.logger, w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrRaffleNotFound):
			writeFailure(h.logger, w, http.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrCapacityExceeded), errors.Is(err, service.ErrRaffleNotActive):
			writeFailure(h.logger, w, http.StatusConflict, err.Error())
		default:
			h.logger.Printf("Error reserving tickets: %v", err)
			writeFailure(h.logger, w, http.StatusInternalServerError, "An unexpected error occurred during reservation")
		}
		return
	}

	writeJSON(h.logger, w, http.StatusCreated, ReserveResponsePayload{
		ReservationID: res.ID,
		RaffleID:      res.RaffleID,
		Quantity:      res.Quantity,
		ExpiresAt:     res.ExpiresAt,
	})
}

type GetReservationHandler struct {
	logger       *log.Logger
	reservations *service.ReservationService
}

func NewGetReservationHandler(logger *log.Logger, reservations *service.ReservationService) *GetReservationHandler {
	return &GetReservationHandler{logger: logger, reservations: reservations}
}

type ReservationResponsePayload struct {
	*models.Reservation
	Tickets []models.Ticket `json:"tickets,omitempty"`
}

func (h *GetReservationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	res, err := loadOwnedReservation(r, h.reservations)
	if err != nil {
		writeReservationLookupFailure(h.logger, w, err)
		return
	}
	tickets, err := h.reservations.ReservationTickets(r.Context(), res)
	if err != nil {
		h.logger.Printf("Error loading tickets of reservation %s: %v", res.ID, err)
		writeFailure(h.logger, w, http.StatusInternalServerError, "An unexpected error occurred")
		return
	}
	writeJSON(h.logger, w, http.StatusOK, ReservationResponsePayload{Reservation: res, Tickets: tickets})
}

// loadOwnedReservation hides reservations of other callers behind not found.
func loadOwnedReservation(r *http.Request, reservations *service.ReservationService) (*models.Reservation, error) {
	res, err := reservations.GetReservation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	owner, _ := middleware.UserID(r.Context())
	if res.OwnerID != "" && res.OwnerID != owner {
		return nil, service.ErrReservationNotFound
	}
	return res, nil
}
