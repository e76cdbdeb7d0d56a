package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestConcurrentReservationsRespectCapacity(t *testing.T) {
	h := newHarness(t)
	h.raffle(t, "r1", 10)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.reservations.Reserve(context.Background(), ReserveRequest{RaffleID: "r1", OwnerID: "u", Quantity: 6})
		}(i)
	}
	wg.Wait()

	ok, exceeded := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrCapacityExceeded):
			exceeded++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || exceeded != 1 {
		t.Fatalf("ok=%d exceeded=%d, want 1 and 1", ok, exceeded)
	}
}

func TestManyConcurrentReservationsNeverOversell(t *testing.T) {
	h := newHarness(t)
	h.raffle(t, "r1", 25)

	var wg sync.WaitGroup
	var mu sync.Mutex
	held := 0
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.reservations.Reserve(context.Background(), ReserveRequest{RaffleID: "r1", Quantity: 3})
			if err == nil {
				mu.Lock()
				held += res.Quantity
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if held > 25 || held < 24 {
		t.Fatalf("held %d tickets, want 24", held)
	}
}

func TestExpiryReleasesCapacity(t *testing.T) {
	h := newHarness(t)
	h.raffle(t, "r1", 10)
	ctx := context.Background()

	start := time.Now()
	h.reservations.now = func() time.Time { return start }
	if _, err := h.reservations.Reserve(ctx, ReserveRequest{RaffleID: "r1", Quantity: 10}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.reservations.Reserve(ctx, ReserveRequest{RaffleID: "r1", Quantity: 1}); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("err = %v, want ErrCapacityExceeded", err)
	}

	h.reservations.now = func() time.Time { return start.Add(16 * time.Minute) }
	n, err := h.reservations.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	if _, err := h.reservations.Reserve(ctx, ReserveRequest{RaffleID: "r1", Quantity: 10}); err != nil {
		t.Fatalf("capacity not released: %v", err)
	}
}

func TestReserveLazilyExpiresStaleHolds(t *testing.T) {
	h := newHarness(t)
	h.raffle(t, "r1", 4)
	ctx := context.Background()

	start := time.Now()
	h.reservations.now = func() time.Time { return start }
	if _, err := h.reservations.Reserve(ctx, ReserveRequest{RaffleID: "r1", Quantity: 4}); err != nil {
		t.Fatal(err)
	}
	h.reservations.now = func() time.Time { return start.Add(time.Hour) }
	if _, err := h.reservations.Reserve(ctx, ReserveRequest{RaffleID: "r1", Quantity: 4}); err != nil {
		t.Fatalf("stale hold still counted: %v", err)
	}
}

func TestSweepNeverTouchesConsumedReservations(t *testing.T) {
	h := newHarness(t)
	h.raffle(t, "r1", 5)
	ctx := context.Background()

	tickets := h.buy(t, "r1", "ana", 2, nil)
	h.reservations.now = func() time.Time { return time.Now().Add(24 * time.Hour) }
	if _, err := h.reservations.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	res, err := h.reservations.GetReservation(ctx, tickets[0].ReservationID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "consumed" {
		t.Fatalf("status = %s, want consumed", res.Status)
	}
}

func TestReserveValidation(t *testing.T) {
	h := newHarness(t)
	h.raffle(t, "r1", 100)
	ctx := context.Background()

	tests := []struct {
		name string
		req  ReserveRequest
		want error
	}{
		{"zero quantity", ReserveRequest{RaffleID: "r1", Quantity: 0}, ErrInvalidQuantity},
		{"over limit", ReserveRequest{RaffleID: "r1", Quantity: 21}, ErrInvalidQuantity},
		{"unknown raffle", ReserveRequest{RaffleID: "nope", Quantity: 1}, ErrRaffleNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.reservations.Reserve(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestReleaseIsNoOpWhenInactive(t *testing.T) {
	h := newHarness(t)
	h.raffle(t, "r1", 3)
	ctx := context.Background()

	res, err := h.reservations.Reserve(ctx, ReserveRequest{RaffleID: "r1", Quantity: 3})
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := h.reservations.Release(ctx, res.ID); !ok {
		t.Fatal("first release should succeed")
	}
	if ok, _ := h.reservations.Release(ctx, res.ID); ok {
		t.Fatal("second release should be a no-op")
	}
	if _, err := h.reservations.Reserve(ctx, ReserveRequest{RaffleID: "r1", Quantity: 3}); err != nil {
		t.Fatalf("released capacity not available: %v", err)
	}
}
