package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"rifas_pix/internal/models"
	"rifas_pix/internal/payment"
	"rifas_pix/internal/service"
)

// StatusApplier is the payment side of the webhook. *service.PaymentService
// implements it.
type StatusApplier interface {
	ApplyStatus(ctx context.Context, upd service.StatusUpdate) (*service.ApplyResult, error)
}

type WebhookHandler struct {
	logger   *log.Logger
	payments StatusApplier
	secret   string
}

func NewWebhookHandler(logger *log.Logger, payments StatusApplier, secret string) *WebhookHandler {
	return &WebhookHandler{logger: logger, payments: payments, secret: secret}
}

// webhookPayload accepts both the normalized body and the provider's native
// {event, payment} body.
type webhookPayload struct {
	ReservationID    string `json:"reservation_id"`
	ProviderChargeID string `json:"provider_charge_id"`
	Status           string `json:"status"`

	Event   string `json:"event"`
	Payment *struct {
		ID                string `json:"id"`
		Status            string `json:"status"`
		ExternalReference string `json:"externalReference"`
	} `json:"payment"`
}

type WebhookResponsePayload struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Tickets int    `json:"tickets,omitempty"`
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeFailure(h.logger, w, http.StatusBadRequest, "Could not read body")
		return
	}
	if !h.authenticate(r, body) {
		h.logger.Printf("Webhook rejected: bad credentials from %s", r.RemoteAddr)
		writeFailure(h.logger, w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	upd, ok, err := parseWebhook(body)
	if err != nil {
		writeFailure(h.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	if !ok {
		writeJSON(h.logger, w, http.StatusOK, WebhookResponsePayload{Status: "ignored"})
		return
	}

	result, err := h.payments.ApplyStatus(r.Context(), upd)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrChargeNotFound):
			h.logger.Printf("Webhook for unknown charge %s/%s ignored", upd.ReservationID, upd.ProviderChargeID)
			writeJSON(h.logger, w, http.StatusOK, WebhookResponsePayload{Status: "ignored", Message: err.Error()})
		case errors.Is(err, service.ErrReservationExpired):
			writeJSON(h.logger, w, http.StatusOK, WebhookResponsePayload{Status: "expired", Message: err.Error()})
		case errors.Is(err, service.ErrChargeMismatch), errors.Is(err, service.ErrInvalidStatus):
			writeFailure(h.logger, w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Printf("Error applying webhook %s/%s: %v", upd.ReservationID, upd.ProviderChargeID, err)
			writeFailure(h.logger, w, http.StatusInternalServerError, "Temporary failure, retry later")
		}
		return
	}

	resp := WebhookResponsePayload{Status: string(result.Charge.Status)}
	if result.Finalize != nil {
		resp.Tickets = len(result.Finalize.Tickets)
		if result.Finalize.AlreadyFinalized {
			resp.Message = "already finalized"
		}
	}
	writeJSON(h.logger, w, http.StatusOK, resp)
}

// authenticate accepts the shared secret in asaas-access-token or
// X-Webhook-Secret, or an HMAC-SHA256 of the body in X-Webhook-Signature.
func (h *WebhookHandler) authenticate(r *http.Request, body []byte) bool {
	if h.secret == "" {
		return false
	}
	for _, header := range []string{"asaas-access-token", "X-Webhook-Secret"} {
		if v := r.Header.Get(header); v != "" {
			return subtle.ConstantTimeCompare([]byte(v), []byte(h.secret)) == 1
		}
	}
	sig := strings.TrimPrefix(r.Header.Get("X-Webhook-Signature"), "sha256=")
	if sig == "" {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

var providerEvents = map[string]models.ChargeStatus{
	"PAYMENT_RECEIVED":  models.ChargePaid,
	"PAYMENT_CONFIRMED": models.ChargePaid,
	"PAYMENT_OVERDUE":   models.ChargeOverdue,
	"PAYMENT_REFUNDED":  models.ChargeRefunded,
	"PAYMENT_DELETED":   models.ChargeOverdue,
}

// parseWebhook returns ok=false for well formed notifications that carry no
// status change this service tracks.
func parseWebhook(body []byte) (service.StatusUpdate, bool, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return service.StatusUpdate{}, false, errors.New("malformed JSON body")
	}

	if p.Payment != nil {
		upd := service.StatusUpdate{
			ReservationID:    p.Payment.ExternalReference,
			ProviderChargeID: p.Payment.ID,
			Source:           "webhook:" + p.Event,
		}
		if upd.ProviderChargeID == "" && upd.ReservationID == "" {
			return upd, false, errors.New("payment.id or payment.externalReference is required")
		}
		if st, ok := providerEvents[p.Event]; ok {
			upd.Status = st
		} else if st, ok := payment.MapStatus(p.Payment.Status); ok {
			upd.Status = st
		} else {
			return upd, false, nil
		}
		return upd, true, nil
	}

	if p.ReservationID == "" && p.ProviderChargeID == "" {
		return service.StatusUpdate{}, false, errors.New("reservation_id or provider_charge_id is required")
	}
	st, ok := payment.MapStatus(p.Status)
	if !ok {
		return service.StatusUpdate{}, false, errors.New("unknown status")
	}
	return service.StatusUpdate{
		ReservationID:    p.ReservationID,
		ProviderChargeID: p.ProviderChargeID,
		Status:           st,
		Source:           "webhook",
	}, true, nil
}
