package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/boletos-backend/pkg/redis"
)

// Deduper remembers which audit entries a consumer already handled, using
// Redis SETNX with a TTL.
type Deduper struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewDeduper(store redis.IdempotencyStore, ttl time.Duration) (*Deduper, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Deduper{store: store, ttl: ttl}, nil
}

// CheckAndMark reports whether entryID was already handled by consumer and
// otherwise marks it.
func (d *Deduper) CheckAndMark(ctx context.Context, consumer string, entryID uuid.UUID) (bool, error) {
	key, err := d.key(consumer, entryID)
	if err != nil {
		return false, err
	}
	set, err := d.store.SetNX(ctx, key, "1", d.ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

// Release forgets the mark so a failed attempt can be redelivered.
func (d *Deduper) Release(ctx context.Context, consumer string, entryID uuid.UUID) error {
	key, err := d.key(consumer, entryID)
	if err != nil {
		return err
	}
	return d.store.Del(ctx, key)
}

func (d *Deduper) key(consumer string, entryID uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if entryID == uuid.Nil {
		return "", errors.New("entry id is required")
	}
	return d.store.IdempotencyKey(fmt.Sprintf("audit:%s", consumer), entryID.String()), nil
}
