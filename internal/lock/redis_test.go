package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisLocks(t *testing.T) (*RedisLock, *RedisLock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLock(client), NewRedisLock(client), mr
}

func TestRedisLockExcludesOtherInstances(t *testing.T) {
	a, b, mr := newTestRedisLocks(t)
	ctx := context.Background()

	if ok, err := a.Acquire(ctx, "sweeper", time.Minute); err != nil || !ok {
		t.Fatalf("a: ok=%v err=%v", ok, err)
	}
	if ok, err := b.Acquire(ctx, "sweeper", time.Minute); err != nil || ok {
		t.Fatalf("b acquired a held lock: ok=%v err=%v", ok, err)
	}

	// b never held it, so its release must leave a's key alone.
	if err := b.Release(ctx, "sweeper"); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("lock:sweeper") {
		t.Fatal("lock removed by a non-holder")
	}

	if err := a.Release(ctx, "sweeper"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := b.Acquire(ctx, "sweeper", time.Minute); !ok {
		t.Fatal("released lock not reacquired")
	}
}

func TestRedisLockExpiresAndKeepsNewHolder(t *testing.T) {
	a, b, mr := newTestRedisLocks(t)
	ctx := context.Background()

	if ok, _ := a.Acquire(ctx, "draw-check", time.Second); !ok {
		t.Fatal("first acquire failed")
	}
	mr.FastForward(2 * time.Second)
	if ok, _ := b.Acquire(ctx, "draw-check", time.Minute); !ok {
		t.Fatal("expired lock not reacquired")
	}

	// a's stale token must not delete b's lock.
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("lock:draw-check") {
		t.Fatal("stale holder released the new holder's lock")
	}
}
