package reconciliation

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

type fakeRedis struct {
	values map[string]string
	ttls   map[string]time.Duration
}

func (f *fakeRedis) Get(ctx context.Context, key string) (string, error) {
	value, ok := f.values[key]
	if !ok {
		return "", goredis.Nil
	}
	return value, nil
}

func (f *fakeRedis) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	switch v := value.(type) {
	case []byte:
		f.values[key] = string(v)
	case string:
		f.values[key] = v
	}
	f.ttls[key] = ttl
	return nil
}

func (f *fakeRedis) IdempotencyKey(scope, id string) string {
	return "bol:idempotency:" + scope + ":" + id
}

func TestRedisReplayCacheRoundTrip(t *testing.T) {
	store := &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
	cache := NewRedisReplayCache(store, time.Hour)
	ctx := context.Background()

	missing, err := cache.Get(ctx, "callback:tx-1")
	if err != nil || missing != nil {
		t.Fatalf("expected miss, got %+v err=%v", missing, err)
	}

	paid := "200.00"
	if err := cache.Put(ctx, "callback:tx-1", Result{Success: true, InvoiceID: 1, PaidAmount: &paid, Replayed: true}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if store.ttls["bol:idempotency:reconcile:callback:tx-1"] != time.Hour {
		t.Fatalf("expected namespaced key with ttl, got %v", store.ttls)
	}

	cached, err := cache.Get(ctx, "callback:tx-1")
	if err != nil || cached == nil {
		t.Fatalf("expected hit, got %+v err=%v", cached, err)
	}
	if !cached.Success || cached.InvoiceID != 1 || *cached.PaidAmount != "200.00" {
		t.Fatalf("unexpected cached result %+v", cached)
	}
	if cached.Replayed {
		t.Fatalf("replay flag must not be persisted")
	}
}
