package payment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"rifas_pix/internal/models"
)

func testClient(url string, retries uint64) *Client {
	return NewClient(Config{
		BaseURL:         url,
		APIKey:          "key",
		Timeout:         2 * time.Second,
		MaxRetries:      retries,
		InitialInterval: time.Millisecond,
	}, log.New(io.Discard, "", 0))
}

func TestCreateChargeHappyPath(t *testing.T) {
	var created int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("access_token") != "key" {
			t.Errorf("missing access token header")
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v3/payments":
			json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
		case r.Method == http.MethodPost && r.URL.Path == "/v3/customers":
			json.NewEncoder(w).Encode(map[string]any{"id": "cus_1"})
		case r.Method == http.MethodPost && r.URL.Path == "/v3/payments":
			atomic.AddInt32(&created, 1)
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			if body["billingType"] != "PIX" || body["externalReference"] != "res-1" {
				t.Errorf("unexpected payment body: %v", body)
			}
			if body["value"].(float64) != 12.5 {
				t.Errorf("value = %v, want 12.5", body["value"])
			}
			json.NewEncoder(w).Encode(map[string]any{"id": "pay_1", "status": "PENDING"})
		case r.Method == http.MethodGet && r.URL.Path == "/v3/payments/pay_1/pixQrCode":
			json.NewEncoder(w).Encode(map[string]any{
				"encodedImage":   "",
				"payload":        "00020126PIXPAYLOAD",
				"expirationDate": "2030-01-02 10:00:00",
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := testClient(srv.URL, 2)
	got, err := c.CreateCharge(context.Background(), ChargeRequest{
		ReservationID: "res-1",
		AmountCents:   1250,
		Customer:      models.Customer{Name: "Ana", Email: "ana@example.com", CPF: "123.456.789-09"},
	})
	if err != nil {
		t.Fatalf("CreateCharge: %v", err)
	}
	if got.ProviderChargeID != "pay_1" || got.Status != models.ChargePending {
		t.Fatalf("unexpected result %+v", got)
	}
	if got.QRPayload != "00020126PIXPAYLOAD" || got.QRImage == "" {
		t.Fatalf("expected payload and rendered image, got %+v", got)
	}
	if got.ExpiresAt.Year() != 2030 {
		t.Fatalf("expires at = %v", got.ExpiresAt)
	}
	if created != 1 {
		t.Fatalf("payments created = %d", created)
	}
}

func TestCreateChargeReusesPendingProviderCharge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v3/payments":
			json.NewEncoder(w).Encode(map[string]any{"data": []any{
				map[string]any{"id": "pay_9", "status": "PENDING", "externalReference": "res-1"},
			}})
		case r.Method == http.MethodGet && r.URL.Path == "/v3/payments/pay_9/pixQrCode":
			json.NewEncoder(w).Encode(map[string]any{"encodedImage": "aW1n", "payload": "p"})
		case r.Method == http.MethodPost:
			t.Errorf("unexpected POST %s", r.URL.Path)
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	got, err := testClient(srv.URL, 0).CreateCharge(context.Background(), ChargeRequest{ReservationID: "res-1", AmountCents: 100})
	if err != nil {
		t.Fatal(err)
	}
	if got.ProviderChargeID != "pay_9" || got.QRImage != "aW1n" {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestGetStatusRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"id": "pay_1", "status": "RECEIVED"})
	}))
	defer srv.Close()

	status, err := testClient(srv.URL, 5).GetStatus(context.Background(), "pay_1")
	if err != nil {
		t.Fatal(err)
	}
	if status != models.ChargePaid {
		t.Fatalf("status = %s", status)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestGetStatusGivesUpAfterRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 2).GetStatus(context.Background(), "pay_1")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"errors":[{"code":"invalid_value","description":"Valor inválido"}]}`)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 5).GetStatus(context.Background(), "pay_1")
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	if !strings.Contains(err.Error(), "Valor inválido") {
		t.Fatalf("provider message lost: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestMissingConfigurationIsFatal(t *testing.T) {
	c := NewClient(Config{}, log.New(io.Discard, "", 0))
	if _, err := c.GetStatus(context.Background(), "x"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("GetStatus err = %v", err)
	}
	if _, err := c.CreateCharge(context.Background(), ChargeRequest{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("CreateCharge err = %v", err)
	}
}

func TestMapStatus(t *testing.T) {
	tests := map[string]models.ChargeStatus{
		"PENDING":              models.ChargePending,
		"received":             models.ChargePaid,
		"CONFIRMED":            models.ChargePaid,
		"OVERDUE":              models.ChargeOverdue,
		"REFUNDED":             models.ChargeRefunded,
		"CHARGEBACK_REQUESTED": models.ChargeRefunded,
		"paid":                 models.ChargePaid,
	}
	for raw, want := range tests {
		got, ok := MapStatus(raw)
		if !ok || got != want {
			t.Errorf("MapStatus(%q) = %q, %v; want %q", raw, got, ok, want)
		}
	}
	if _, ok := MapStatus("SOMETHING_ELSE"); ok {
		t.Error("unknown status mapped")
	}
}
