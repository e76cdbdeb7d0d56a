package handler

import (
	"errors"
	"log"
	"net/http"

	"rifas_pix/internal/middleware"
	"rifas_pix/internal/models"
	"rifas_pix/internal/service"

	"github.com/go-chi/chi/v5"
)

type TicketsHandler struct {
	logger       *log.Logger
	reservations *service.ReservationService
}

func NewTicketsHandler(logger *log.Logger, reservations *service.ReservationService) *TicketsHandler {
	return &TicketsHandler{logger: logger, reservations: reservations}
}

type TicketsResponsePayload struct {
	RaffleID      string          `json:"raffle_id"`
	SoldTickets   int             `json:"sold_tickets"`
	TotalTickets  int             `json:"total_tickets"`
	FundedPercent int64           `json:"funded_percent"`
	Tickets       []models.Ticket `json:"tickets"`
}

// ServeHTTP lists every ticket of the raffle, or only the caller's with
// ?owner=me.
func (h *TicketsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raffleID := chi.URLParam(r, "raffleID")

	owner := ""
	if r.URL.Query().Get("owner") == "me" {
		id, ok := middleware.UserID(r.Context())
		if !ok {
			writeFailure(h.logger, w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		owner = id
	}

	raffle, err := h.reservations.GetRaffle(r.Context(), raffleID)
	if err != nil {
		h.writeLookupFailure(w, err)
		return
	}
	tickets, err := h.reservations.ListTickets(r.Context(), raffleID, owner)
	if err != nil {
		h.writeLookupFailure(w, err)
		return
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}

	writeJSON(h.logger, w, http.StatusOK, TicketsResponsePayload{
		RaffleID:      raffle.ID,
		SoldTickets:   raffle.SoldTickets,
		TotalTickets:  raffle.TotalTickets,
		FundedPercent: raffle.FundedPercent(),
		Tickets:       tickets,
	})
}

func (h *TicketsHandler) writeLookupFailure(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrRaffleNotFound) {
		writeFailure(h.logger, w, http.StatusNotFound, err.Error())
		return
	}
	h.logger.Printf("Error listing tickets: %v", err)
	writeFailure(h.logger, w, http.StatusInternalServerError, "An unexpected error occurred")
}
