package handler

import (
	"errors"
	"log"
	"net/http"
	"time"

	"rifas_pix/internal/models"
	"rifas_pix/internal/service"

	"github.com/go-chi/chi/v5"
)

type CreateRaffleHandler struct {
	logger       *log.Logger
	reservations *service.ReservationService
}

func NewCreateRaffleHandler(logger *log.Logger, reservations *service.ReservationService) *CreateRaffleHandler {
	return &CreateRaffleHandler{logger: logger, reservations: reservations}
}

type CreateRaffleRequestPayload struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	TotalTickets     int        `json:"total_tickets"`
	TicketPriceCents int64      `json:"ticket_price_cents"`
	GoalCents        int64      `json:"goal_cents"`
	DrawDate         *time.Time `json:"draw_date"`
}

func (h *CreateRaffleHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body CreateRaffleRequestPayload
	if err := decodeBody(w, r, &body); err != nil {
		writeFailure(h.logger, w, http.StatusBadRequest, "Invalid request body")
		return
	}

	raffle, err := h.reservations.CreateRaffle(r.Context(), &models.Raffle{
		ID:               body.ID,
		Title:            body.Title,
		TotalTickets:     body.TotalTickets,
		TicketPriceCents: body.TicketPriceCents,
		GoalCents:        body.GoalCents,
		DrawDate:         body.DrawDate,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidRaffle) {
			writeFailure(h.logger, w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Printf("Error creating raffle: %v", err)
		writeFailure(h.logger, w, http.StatusInternalServerError, "An unexpected error occurred while creating the raffle")
		return
	}
	writeJSON(h.logger, w, http.StatusCreated, raffle)
}

type GetRaffleHandler struct {
	logger       *log.Logger
	reservations *service.ReservationService
}

func NewGetRaffleHandler(logger *log.Logger, reservations *service.ReservationService) *GetRaffleHandler {
	return &GetRaffleHandler{logger: logger, reservations: reservations}
}

type RaffleResponsePayload struct {
	*models.Raffle
	FundedPercent int64 `json:"funded_percent"`
}

func (h *GetRaffleHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raffle, err := h.reservations.GetRaffle(r.Context(), chi.URLParam(r, "raffleID"))
	if err != nil {
		if errors.Is(err, service.ErrRaffleNotFound) {
			writeFailure(h.logger, w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Printf("Error loading raffle: %v", err)
		writeFailure(h.logger, w, http.StatusInternalServerError, "An unexpected error occurred")
		return
	}
	writeJSON(h.logger, w, http.StatusOK, RaffleResponsePayload{Raffle: raffle, FundedPercent: raffle.FundedPercent()})
}
