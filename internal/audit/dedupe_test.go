package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeDedupeStore struct {
	keys        map[string]bool
	setNXError  error
	lastTTL     time.Duration
	lastDeleted string
}

func newFakeDedupeStore() *fakeDedupeStore {
	return &fakeDedupeStore{keys: map[string]bool{}}
}

func (f *fakeDedupeStore) Get(context.Context, string) (string, error) { return "", nil }

func (f *fakeDedupeStore) SetNX(_ context.Context, key string, _ any, ttl time.Duration) (bool, error) {
	if f.setNXError != nil {
		return false, f.setNXError
	}
	f.lastTTL = ttl
	if f.keys[key] {
		return false, nil
	}
	f.keys[key] = true
	return true, nil
}

func (f *fakeDedupeStore) IdempotencyKey(scope, id string) string {
	return "bol:idempotency:" + scope + ":" + id
}

func (f *fakeDedupeStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.keys, k)
		f.lastDeleted = k
	}
	return nil
}

func TestDeduperMarksOnce(t *testing.T) {
	store := newFakeDedupeStore()
	deduper, err := NewDeduper(store, 24*time.Hour)
	if err != nil {
		t.Fatalf("NewDeduper: %v", err)
	}
	id := uuid.New()
	ctx := context.Background()

	already, err := deduper.CheckAndMark(ctx, "bigquery-archive", id)
	if err != nil || already {
		t.Fatalf("first mark: already=%v err=%v", already, err)
	}
	if store.lastTTL != 24*time.Hour {
		t.Fatalf("unexpected ttl %v", store.lastTTL)
	}
	already, err = deduper.CheckAndMark(ctx, "bigquery-archive", id)
	if err != nil || !already {
		t.Fatalf("second mark: already=%v err=%v", already, err)
	}

	if err := deduper.Release(ctx, "bigquery-archive", id); err != nil {
		t.Fatalf("release: %v", err)
	}
	want := "bol:idempotency:audit:bigquery-archive:" + id.String()
	if store.lastDeleted != want {
		t.Fatalf("unexpected deleted key %q", store.lastDeleted)
	}
	if already, _ := deduper.CheckAndMark(ctx, "bigquery-archive", id); already {
		t.Fatal("released entry should be markable again")
	}
}

func TestDeduperValidation(t *testing.T) {
	if _, err := NewDeduper(nil, time.Hour); err == nil {
		t.Fatal("expected nil store error")
	}
	if _, err := NewDeduper(newFakeDedupeStore(), -time.Second); err == nil {
		t.Fatal("expected negative ttl error")
	}
	deduper, _ := NewDeduper(newFakeDedupeStore(), time.Hour)
	if _, err := deduper.CheckAndMark(context.Background(), "", uuid.New()); err == nil {
		t.Fatal("expected consumer error")
	}
	if _, err := deduper.CheckAndMark(context.Background(), "c", uuid.Nil); err == nil {
		t.Fatal("expected entry id error")
	}
}

func TestDeduperSurfacesStoreErrors(t *testing.T) {
	store := newFakeDedupeStore()
	store.setNXError = errors.New("redis down")
	deduper, _ := NewDeduper(store, time.Hour)
	if _, err := deduper.CheckAndMark(context.Background(), "c", uuid.New()); err == nil {
		t.Fatal("expected store error")
	}
}
