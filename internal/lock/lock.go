// Package lock keeps background jobs from running on more than one instance
// at a time.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type Locker interface {
	// Acquire reports false, nil when another holder has the lock.
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name string) error
	Close() error
}

// Run executes fn only if the named lock could be taken, and releases it
// afterwards. ran is false when someone else holds the lock.
func Run(ctx context.Context, l Locker, name string, ttl time.Duration, fn func(ctx context.Context) error) (ran bool, err error) {
	ok, err := l.Acquire(ctx, name, ttl)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	if !ok {
		return false, nil
	}
	defer func() {
		if rerr := l.Release(context.Background(), name); rerr != nil && err == nil {
			err = fmt.Errorf("failed to release lock %s: %w", name, rerr)
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()
	return true, fn(runCtx)
}

// LocalLock only excludes holders within this process. It backs
// LOCK_BACKEND=none for single instance deployments.
type LocalLock struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewLocalLock() *LocalLock {
	return &LocalLock{held: make(map[string]time.Time), now: time.Now}
}

func (l *LocalLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if until, ok := l.held[name]; ok && now.Before(until) {
		return false, nil
	}
	l.held[name] = now.Add(ttl)
	return true, nil
}

func (l *LocalLock) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, name)
	return nil
}

func (l *LocalLock) Close() error { return nil }
