package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdLock writes /locks/<name> under a lease when the key does not exist.
// The lease expires on its own if the holder dies.
type EtcdLock struct {
	client *clientv3.Client
	mu     sync.Mutex
	held   map[string]clientv3.LeaseID
}

func NewEtcdLock(endpoints []string, dialTimeout time.Duration) (*EtcdLock, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}
	return &EtcdLock{client: cli, held: make(map[string]clientv3.LeaseID)}, nil
}

func (e *EtcdLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.held[name]; ok {
		return false, nil
	}

	seconds := int64(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	grant, err := e.client.Grant(ctx, seconds)
	if err != nil {
		return false, fmt.Errorf("failed to grant lease: %w", err)
	}

	key := "/locks/" + name
	resp, err := e.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, "", clientv3.WithLease(grant.ID))).
		Commit()
	if err != nil {
		e.client.Revoke(context.Background(), grant.ID)
		return false, fmt.Errorf("lock transaction failed: %w", err)
	}
	if !resp.Succeeded {
		e.client.Revoke(context.Background(), grant.ID)
		return false, nil
	}

	e.held[name] = grant.ID
	return true, nil
}

// Release revokes the lease, which deletes the key with it.
func (e *EtcdLock) Release(ctx context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	lease, ok := e.held[name]
	if !ok {
		return nil
	}
	delete(e.held, name)
	if _, err := e.client.Revoke(ctx, lease); err != nil {
		return fmt.Errorf("failed to revoke lease: %w", err)
	}
	return nil
}

func (e *EtcdLock) Close() error {
	e.mu.Lock()
	names := make([]string, 0, len(e.held))
	for name := range e.held {
		names = append(names, name)
	}
	e.mu.Unlock()

	for _, name := range names {
		e.Release(context.Background(), name)
	}
	return e.client.Close()
}
