// Package payment talks to the PIX provider (an Asaas-compatible REST API).
package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rifas_pix/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/skip2/go-qrcode"
)

const (
	customersPath = "/v3/customers"
	paymentsPath  = "/v3/payments"
	paymentPath   = "/v3/payments/%s"
	qrCodePath    = "/v3/payments/%s/pixQrCode"

	providerTimeLayout = "2006-01-02 15:04:05"
	providerDateLayout = "2006-01-02"
)

var (
	ErrNotConfigured = errors.New("pix provider is not configured")
	ErrRejected      = errors.New("pix provider rejected the request")
	ErrUnavailable   = errors.New("pix provider unavailable")
)

type Config struct {
	BaseURL         string
	APIKey          string
	Timeout         time.Duration
	MaxRetries      uint64
	InitialInterval time.Duration
	ChargeTTL       time.Duration
}

type ChargeRequest struct {
	ReservationID string
	AmountCents   int64
	Customer      models.Customer
	Description   string
}

type ChargeResult struct {
	ProviderChargeID string
	Status           models.ChargeStatus
	QRPayload        string
	QRImage          string
	ExpiresAt        time.Time
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *log.Logger
	now    func() time.Time
}

func NewClient(cfg Config, logger *log.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	if cfg.ChargeTTL <= 0 {
		cfg.ChargeTTL = 15 * time.Minute
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		now:    time.Now,
	}
}

func (c *Client) configured() error {
	if c.cfg.BaseURL == "" || c.cfg.APIKey == "" {
		return ErrNotConfigured
	}
	return nil
}

type providerError struct {
	Errors []struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"errors"`
}

func (e providerError) message(status int) string {
	var parts []string
	for _, item := range e.Errors {
		if d := strings.TrimSpace(item.Description); d != "" {
			parts = append(parts, d)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("status %d", status)
	}
	return strings.Join(parts, "; ")
}

type customerResponse struct {
	ID string `json:"id"`
}

type paymentResponse struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	ExternalReference string `json:"externalReference"`
}

type paymentListResponse struct {
	Data []paymentResponse `json:"data"`
}

type qrCodeResponse struct {
	EncodedImage   string `json:"encodedImage"`
	Payload        string `json:"payload"`
	ExpirationDate string `json:"expirationDate"`
}

// CreateCharge opens a PIX charge for the reservation. A pending provider
// charge already referencing the reservation is reused, so a retry after a
// lost response does not open a second one upstream.
func (c *Client) CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}

	existing, err := c.findPending(ctx, req.ReservationID)
	if err != nil {
		return nil, err
	}

	var paymentID string
	status := models.ChargePending
	if existing != nil {
		paymentID = existing.ID
		if mapped, ok := MapStatus(existing.Status); ok {
			status = mapped
		}
	} else {
		var customer customerResponse
		err := c.doJSON(ctx, http.MethodPost, customersPath, map[string]any{
			"name":              req.Customer.Name,
			"email":             req.Customer.Email,
			"cpfCnpj":           onlyDigits(req.Customer.CPF),
			"mobilePhone":       onlyDigits(req.Customer.Phone),
			"externalReference": req.ReservationID,
		}, &customer)
		if err != nil {
			return nil, fmt.Errorf("create customer: %w", err)
		}

		var created paymentResponse
		err = c.doJSON(ctx, http.MethodPost, paymentsPath, map[string]any{
			"customer":          customer.ID,
			"billingType":       "PIX",
			"value":             float64(req.AmountCents) / 100.0,
			"dueDate":           c.now().Add(c.cfg.ChargeTTL).Format(providerDateLayout),
			"description":       req.Description,
			"externalReference": req.ReservationID,
		}, &created)
		if err != nil {
			return nil, fmt.Errorf("create payment: %w", err)
		}
		if strings.TrimSpace(created.ID) == "" {
			return nil, fmt.Errorf("%w: create response missing id", ErrRejected)
		}
		paymentID = created.ID
		if mapped, ok := MapStatus(created.Status); ok {
			status = mapped
		}
	}

	var qr qrCodeResponse
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf(qrCodePath, url.PathEscape(paymentID)), nil, &qr); err != nil {
		return nil, fmt.Errorf("fetch pix qr code: %w", err)
	}

	image := qr.EncodedImage
	if image == "" && qr.Payload != "" {
		image, err = RenderQR(qr.Payload)
		if err != nil {
			c.logger.Printf("Warning: failed to render QR code for charge %s: %v", paymentID, err)
		}
	}

	expiresAt := c.now().Add(c.cfg.ChargeTTL)
	if qr.ExpirationDate != "" {
		if t, err := time.ParseInLocation(providerTimeLayout, qr.ExpirationDate, saoPaulo()); err == nil {
			expiresAt = t
		}
	}

	return &ChargeResult{
		ProviderChargeID: paymentID,
		Status:           status,
		QRPayload:        qr.Payload,
		QRImage:          image,
		ExpiresAt:        expiresAt,
	}, nil
}

func (c *Client) findPending(ctx context.Context, reservationID string) (*paymentResponse, error) {
	q := url.Values{}
	q.Set("externalReference", reservationID)
	q.Set("status", "PENDING")
	var list paymentListResponse
	if err := c.doJSON(ctx, http.MethodGet, paymentsPath+"?"+q.Encode(), nil, &list); err != nil {
		return nil, fmt.Errorf("look up existing payment: %w", err)
	}
	for i := range list.Data {
		if list.Data[i].ExternalReference == reservationID && list.Data[i].ID != "" {
			return &list.Data[i], nil
		}
	}
	return nil, nil
}

// GetStatus asks the provider for the current state of a charge.
func (c *Client) GetStatus(ctx context.Context, providerChargeID string) (models.ChargeStatus, error) {
	if err := c.configured(); err != nil {
		return "", err
	}
	var p paymentResponse
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf(paymentPath, url.PathEscape(providerChargeID)), nil, &p); err != nil {
		return "", err
	}
	status, ok := MapStatus(p.Status)
	if !ok {
		return "", fmt.Errorf("%w: unknown status %q", ErrRejected, p.Status)
	}
	return status, nil
}

// doJSON retries transport failures, 429 and 5xx with exponential backoff.
// Any other 4xx is returned at once wrapped in ErrRejected.
func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body []byte
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = buf
	}

	var raw []byte
	attempt := 0
	op := func() error {
		attempt++
		status, respBody, err := c.do(ctx, method, path, body)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			c.logger.Printf("Provider %s %s attempt %d failed: %v", method, path, attempt, err)
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if status == http.StatusTooManyRequests || status >= 500 {
			c.logger.Printf("Provider %s %s attempt %d returned %d", method, path, attempt, status)
			return fmt.Errorf("%w: status %d", ErrUnavailable, status)
		}
		if status >= 400 {
			var perr providerError
			_ = json.Unmarshal(respBody, &perr)
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrRejected, perr.message(status)))
		}
		raw = respBody
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialInterval
	b.MaxElapsedTime = 0
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, c.cfg.MaxRetries), ctx)); err != nil {
		return err
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("invalid provider response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("access_token", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, raw, nil
}

// MapStatus normalizes a provider payment status.
func MapStatus(raw string) (models.ChargeStatus, bool) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	switch {
	case s == "PENDING" || s == "AWAITING_RISK_ANALYSIS":
		return models.ChargePending, true
	case s == "RECEIVED" || s == "CONFIRMED" || s == "RECEIVED_IN_CASH":
		return models.ChargePaid, true
	case s == "OVERDUE":
		return models.ChargeOverdue, true
	case s == "REFUNDED" || s == "REFUND_REQUESTED" || s == "REFUND_IN_PROGRESS" || strings.HasPrefix(s, "CHARGEBACK"):
		return models.ChargeRefunded, true
	}
	if st := models.ChargeStatus(strings.ToLower(s)); st.Valid() {
		return st, true
	}
	return "", false
}

// RenderQR encodes a PIX copy-and-paste payload as a base64 PNG.
func RenderQR(payload string) (string, error) {
	png, err := qrcode.Encode(payload, qrcode.Medium, 256)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(png), nil
}

func saoPaulo() *time.Location {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		return time.FixedZone("BRT", -3*60*60)
	}
	return loc
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
