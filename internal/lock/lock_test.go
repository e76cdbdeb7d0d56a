package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLocalLockExcludesConcurrentHolders(t *testing.T) {
	l := NewLocalLock()
	ctx := context.Background()

	var running, maxRunning, ran int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := Run(ctx, l, "sweep", time.Minute, func(ctx context.Context) error {
				n := atomic.AddInt32(&running, 1)
				for {
					m := atomic.LoadInt32(&maxRunning)
					if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			})
			if err != nil {
				t.Errorf("Run: %v", err)
			}
			if ok {
				atomic.AddInt32(&ran, 1)
			}
		}()
	}
	wg.Wait()

	if maxRunning != 1 {
		t.Fatalf("max concurrent holders = %d", maxRunning)
	}
	if ran < 1 {
		t.Fatal("nobody ran")
	}
}

func TestLocalLockExpires(t *testing.T) {
	l := NewLocalLock()
	now := time.Now()
	l.now = func() time.Time { return now }
	ctx := context.Background()

	if ok, _ := l.Acquire(ctx, "draw", time.Second); !ok {
		t.Fatal("first acquire failed")
	}
	if ok, _ := l.Acquire(ctx, "draw", time.Second); ok {
		t.Fatal("second acquire should fail while held")
	}
	now = now.Add(2 * time.Second)
	if ok, _ := l.Acquire(ctx, "draw", time.Second); !ok {
		t.Fatal("expired lock not reacquired")
	}
}

func TestRunReleasesOnError(t *testing.T) {
	l := NewLocalLock()
	boom := errors.New("boom")
	ran, err := Run(context.Background(), l, "job", time.Minute, func(ctx context.Context) error { return boom })
	if !ran || !errors.Is(err, boom) {
		t.Fatalf("ran=%v err=%v", ran, err)
	}
	if ok, _ := l.Acquire(context.Background(), "job", time.Minute); !ok {
		t.Fatal("lock not released after error")
	}
}
