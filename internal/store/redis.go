package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rifas_pix/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the charge status cache shared by every instance. The client
// is owned by the caller.
type RedisStore struct {
	Client *redis.Client
}

func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{Client: client}
}

type cachedStatus struct {
	Status    models.ChargeStatus `json:"status"`
	CheckedAt time.Time           `json:"checked_at"`
}

func chargeStatusKey(providerChargeID string) string {
	return fmt.Sprintf("charge_status:%s", providerChargeID)
}

// CacheChargeStatus remembers the last provider answer so concurrent pollers
// of the same charge share one upstream call per interval.
func (s *RedisStore) CacheChargeStatus(ctx context.Context, providerChargeID string, status models.ChargeStatus, ttl time.Duration) error {
	data, err := json.Marshal(cachedStatus{Status: status, CheckedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to marshal charge status: %w", err)
	}
	if err := s.Client.Set(ctx, chargeStatusKey(providerChargeID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set charge status in redis: %w", err)
	}
	return nil
}

func (s *RedisStore) GetCachedChargeStatus(ctx context.Context, providerChargeID string) (models.ChargeStatus, bool, error) {
	val, err := s.Client.Get(ctx, chargeStatusKey(providerChargeID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get charge status from redis: %w", err)
	}

	var cached cachedStatus
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		return "", false, fmt.Errorf("failed to unmarshal charge status from redis: %w", err)
	}
	return cached.Status, true, nil
}

// DeleteChargeStatus drops the cached answer once the stored charge settles.
func (s *RedisStore) DeleteChargeStatus(ctx context.Context, providerChargeID string) error {
	err := s.Client.Del(ctx, chargeStatusKey(providerChargeID)).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to delete charge status from redis: %w", err)
	}
	return nil
}
