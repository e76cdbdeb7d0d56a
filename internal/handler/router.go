package handler

import (
	"log"
	"net/http"

	"rifas_pix/internal/middleware"
	"rifas_pix/internal/service"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type Services struct {
	Reservations *service.ReservationService
	Payments     *service.PaymentService
	Finalizer    *service.Finalizer
	Poller       *service.Poller
	Winners      *service.WinnerService
	// Draws is optional; without it the winner endpoint needs drawn_numbers.
	Draws         DrawLookup
	Auth          *middleware.Auth
	WebhookSecret string
	HealthChecks  map[string]Pinger
}

func NewRouter(logger *log.Logger, s Services) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Method(http.MethodGet, "/healthz", NewHealthHandler(logger, s.HealthChecks))
	r.Method(http.MethodPost, "/numbers/canonical", NewCanonicalNumbersHandler(logger))
	r.Method(http.MethodPost, "/webhooks/pix", NewWebhookHandler(logger, s.Payments, s.WebhookSecret))

	r.Group(func(r chi.Router) {
		r.Use(s.Auth.Identify)
		r.Method(http.MethodGet, "/raffles/{raffleID}", NewGetRaffleHandler(logger, s.Reservations))
		r.Method(http.MethodGet, "/raffles/{raffleID}/tickets", NewTicketsHandler(logger, s.Reservations))
	})

	r.Group(func(r chi.Router) {
		r.Use(s.Auth.RequireUser)
		r.Method(http.MethodPost, "/raffles/{raffleID}/reservations", NewReserveHandler(logger, s.Reservations))
		r.Method(http.MethodGet, "/reservations/{id}", NewGetReservationHandler(logger, s.Reservations))
		r.Method(http.MethodPost, "/reservations/{id}/charge", NewCreateChargeHandler(logger, s.Payments))
		r.Method(http.MethodPost, "/reservations/{id}/finalize", NewFinalizeHandler(logger, s.Reservations, s.Finalizer))
		r.Method(http.MethodGet, "/charges/{id}/status", NewChargeStatusHandler(logger, s.Reservations, s.Payments))
		r.Method(http.MethodGet, "/charges/{id}/wait", NewChargeWaitHandler(logger, s.Reservations, s.Poller))
	})

	r.Group(func(r chi.Router) {
		r.Use(s.Auth.RequireAdmin)
		r.Method(http.MethodPost, "/raffles", NewCreateRaffleHandler(logger, s.Reservations))
		r.Method(http.MethodPost, "/raffles/{raffleID}/winner", NewWinnerHandler(logger, s.Winners, s.Draws))
	})

	return r
}
