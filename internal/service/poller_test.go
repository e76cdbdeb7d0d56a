package service

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"rifas_pix/internal/models"
	"rifas_pix/internal/payment"
)

func pendingReservation(t *testing.T, h *harness) string {
	t.Helper()
	h.raffle(t, "r1", 10)
	ctx := context.Background()
	res, err := h.reservations.Reserve(ctx, ReserveRequest{RaffleID: "r1", Quantity: 2})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := h.payments.CreateCharge(ctx, CreateChargeRequest{ReservationID: res.ID}); err != nil {
		t.Fatal(err)
	}
	return res.ID
}

func testPoller(h *harness, deadline time.Duration) *Poller {
	return NewPoller(log.New(io.Discard, "", 0), h.payments, time.Millisecond, deadline)
}

func TestPollerFinalizesWhenPaid(t *testing.T) {
	h := newHarness(t)
	id := pendingReservation(t, h)
	h.gateway.statuses = []models.ChargeStatus{models.ChargePending, models.ChargePending, models.ChargePaid}

	got, err := testPoller(h, time.Second).Run(context.Background(), id)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.Status != models.ChargePaid || got.Finalize == nil || len(got.Finalize.Tickets) != 2 {
		t.Fatalf("result = %+v", got)
	}
	if _, calls := h.gateway.counts(); calls != 3 {
		t.Fatalf("status calls = %d, want 3", calls)
	}
}

func TestPollerStopsOnOverdue(t *testing.T) {
	h := newHarness(t)
	id := pendingReservation(t, h)
	h.gateway.statuses = []models.ChargeStatus{models.ChargeOverdue}

	got, err := testPoller(h, time.Second).Run(context.Background(), id)
	if !errors.Is(err, ErrPaymentNotComplete) {
		t.Fatalf("err = %v, want ErrPaymentNotComplete", err)
	}
	if got.Status != models.ChargeOverdue {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestPollerDeadline(t *testing.T) {
	h := newHarness(t)
	id := pendingReservation(t, h)

	_, err := testPoller(h, 20*time.Millisecond).Run(context.Background(), id)
	if !errors.Is(err, ErrPollExpired) {
		t.Fatalf("err = %v, want ErrPollExpired", err)
	}
}

func TestPollerKeepsGoingThroughTransientErrors(t *testing.T) {
	h := newHarness(t)
	id := pendingReservation(t, h)
	h.gateway.statusErr = payment.ErrUnavailable

	_, err := testPoller(h, 20*time.Millisecond).Run(context.Background(), id)
	if !errors.Is(err, ErrPollExpired) {
		t.Fatalf("err = %v, want ErrPollExpired", err)
	}
	if _, calls := h.gateway.counts(); calls < 2 {
		t.Fatalf("status calls = %d, poller gave up early", calls)
	}
}

func TestPollerCancellationStopsCalls(t *testing.T) {
	h := newHarness(t)
	id := pendingReservation(t, h)

	ctx, cancel := context.WithCancel(context.Background())
	p := NewPoller(log.New(io.Discard, "", 0), h.payments, 50*time.Millisecond, time.Minute)

	done := make(chan error, 1)
	go func() {
		_, err := p.Run(ctx, id)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after cancel")
	}
	_, before := h.gateway.counts()
	time.Sleep(100 * time.Millisecond)
	if _, after := h.gateway.counts(); after != before {
		t.Fatalf("provider called after cancel: %d -> %d", before, after)
	}
}

func TestPollerFatalErrorStopsImmediately(t *testing.T) {
	h := newHarness(t)
	_, err := testPoller(h, time.Second).Run(context.Background(), "missing")
	if !errors.Is(err, ErrChargeNotFound) {
		t.Fatalf("err = %v, want ErrChargeNotFound", err)
	}
}

func TestPollerStopsWhenHoldExpires(t *testing.T) {
	h := newHarness(t)
	id := pendingReservation(t, h)
	if _, err := h.reservations.Release(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	_, err := testPoller(h, time.Second).Run(context.Background(), id)
	if !errors.Is(err, ErrReservationExpired) {
		t.Fatalf("err = %v, want ErrReservationExpired", err)
	}
	if _, calls := h.gateway.counts(); calls != 1 {
		t.Fatalf("provider status calls = %d, want 1", calls)
	}
}
