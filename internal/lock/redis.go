package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

// RedisLock is a single node SET NX lock. Release only deletes the key if it
// still carries this holder's token.
type RedisLock struct {
	client *redis.Client
	mu     sync.Mutex
	tokens map[string]string
}

func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{client: client, tokens: make(map[string]string)}
}

func lockKey(name string) string {
	return fmt.Sprintf("lock:%s", name)
}

func (r *RedisLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, lockKey(name), token, ttl).Result()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	r.mu.Lock()
	r.tokens[name] = token
	r.mu.Unlock()
	return true, nil
}

func (r *RedisLock) Release(ctx context.Context, name string) error {
	r.mu.Lock()
	token, ok := r.tokens[name]
	delete(r.tokens, name)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return releaseScript.Run(ctx, r.client, []string{lockKey(name)}, token).Err()
}

// Close releases held locks; the client is owned by the caller.
func (r *RedisLock) Close() error {
	r.mu.Lock()
	names := make([]string, 0, len(r.tokens))
	for name := range r.tokens {
		names = append(names, name)
	}
	r.mu.Unlock()

	var firstErr error
	for _, name := range names {
		if err := r.Release(context.Background(), name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
