package reconciliation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/angelmondragon/boletos-backend/pkg/redis"
)

const replayScope = "reconcile"

// ReplayCache is a read-through accelerator in front of the durable records.
// It is never the source of truth.
type ReplayCache interface {
	Get(ctx context.Context, key string) (*Result, error)
	Put(ctx context.Context, key string, result Result) error
}

type redisStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	IdempotencyKey(scope, id string) string
}

// RedisReplayCache stores results under bol:idempotency:reconcile:<key>.
type RedisReplayCache struct {
	store redisStore
	ttl   time.Duration
}

func NewRedisReplayCache(store redisStore, ttl time.Duration) *RedisReplayCache {
	return &RedisReplayCache{store: store, ttl: ttl}
}

// Get returns nil when the key is not cached.
func (c *RedisReplayCache) Get(ctx context.Context, key string) (*Result, error) {
	raw, err := c.store.Get(ctx, c.store.IdempotencyKey(replayScope, key))
	if redis.IsNil(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var result Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RedisReplayCache) Put(ctx context.Context, key string, result Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, c.store.IdempotencyKey(replayScope, key), payload, c.ttl)
}
