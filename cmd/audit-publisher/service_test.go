package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/angelmondragon/boletos-backend/internal/audit"
	"github.com/angelmondragon/boletos-backend/pkg/config"
	"github.com/angelmondragon/boletos-backend/pkg/db/models"
	"github.com/angelmondragon/boletos-backend/pkg/enums"
	"github.com/angelmondragon/boletos-backend/pkg/logger"
	"github.com/angelmondragon/boletos-backend/pkg/metrics"
)

func TestServiceProcessBatchContinuesAfterFailure(t *testing.T) {
	repo := &fakeRepo{
		entries: []models.AuditEntry{
			auditEntry(t, enums.AuditActionReconciliationApplied),
			auditEntry(t, enums.AuditActionInvoiceCreated),
		},
	}
	pub := &fakePublisher{
		results: []publishResult{
			fakePublishResult{err: errors.New("transient")},
			fakePublishResult{},
		},
	}
	service := newTestService(t, repo, pub, config.AuditRelayConfig{})

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if len(repo.failed) != 1 || repo.failed[0] != repo.entries[0].ID {
		t.Fatalf("expected first entry marked failed, got %v", repo.failed)
	}
	if len(repo.published) != 1 || repo.published[0] != repo.entries[1].ID {
		t.Fatalf("expected second entry marked published, got %v", repo.published)
	}
}

func TestServicePublishesAttributes(t *testing.T) {
	entry := auditEntry(t, enums.AuditActionReconciliationApplied)
	invoiceID := uint64(42)
	key := "callback:txn-1"
	entry.InvoiceID = &invoiceID
	entry.IdempotencyKey = &key
	entry.Source = enums.ReconciliationSourceCallback

	repo := &fakeRepo{entries: []models.AuditEntry{entry}}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}}}
	service := newTestService(t, repo, pub, config.AuditRelayConfig{})

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(pub.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(pub.messages))
	}
	attrs := pub.messages[0].Attributes
	if attrs[audit.AttrInvoiceID] != "42" || attrs[audit.AttrIdempotencyKey] != key || attrs[audit.AttrSource] != "callback" {
		t.Fatalf("unexpected attributes %v", attrs)
	}
	if attrs[audit.AttrEntryID] != entry.ID.String() {
		t.Fatalf("entry id attribute mismatch")
	}
}

func TestServiceParksUndecodablePayload(t *testing.T) {
	entry := auditEntry(t, enums.AuditActionInvoiceCreated)
	entry.Payload = json.RawMessage(`not json`)
	repo := &fakeRepo{entries: []models.AuditEntry{entry}}
	pub := &fakePublisher{}
	service := newTestService(t, repo, pub, config.AuditRelayConfig{MaxAttempts: 4})

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(repo.terminal) != 1 || repo.terminalAttempts != 4 {
		t.Fatalf("expected entry parked at attempt ceiling, got %v / %d", repo.terminal, repo.terminalAttempts)
	}
	if len(pub.messages) != 0 {
		t.Fatal("undecodable entry must not be published")
	}
}

func TestServiceParksOnMaxAttempts(t *testing.T) {
	entry := auditEntry(t, enums.AuditActionReconciliationRejected)
	entry.AttemptCount = 1
	repo := &fakeRepo{entries: []models.AuditEntry{entry}}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{err: errors.New("transient")}}}
	service := newTestService(t, repo, pub, config.AuditRelayConfig{BatchSize: 1, MaxAttempts: 2})

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(repo.terminal) != 1 {
		t.Fatalf("expected terminal mark, got %d", len(repo.terminal))
	}
	if len(repo.failed) != 0 {
		t.Fatal("terminal entries must not also be marked failed")
	}
}

func TestServiceEmptyBatch(t *testing.T) {
	service := newTestService(t, &fakeRepo{}, &fakePublisher{}, config.AuditRelayConfig{})
	processed, err := service.processBatch(context.Background())
	if err != nil || processed {
		t.Fatalf("expected idle batch, processed=%v err=%v", processed, err)
	}
}

func TestNextBackoffCaps(t *testing.T) {
	base := 100 * time.Millisecond
	if got := nextBackoff(0, base, time.Second); got != 200*time.Millisecond {
		t.Fatalf("unexpected first backoff %v", got)
	}
	if got := nextBackoff(800*time.Millisecond, base, time.Second); got != time.Second {
		t.Fatalf("expected cap, got %v", got)
	}
	if got := withJitter(base); got < base || got >= base+jitterWindow {
		t.Fatalf("jitter out of range: %v", got)
	}
}

func newTestService(t *testing.T, repo auditRepository, pub publisher, relayCfg config.AuditRelayConfig) *Service {
	t.Helper()
	logg := logger.New(logger.Options{
		ServiceName: "audit-publisher-test",
		Output:      io.Discard,
	})
	service, err := NewService(ServiceParams{
		Config:     relayCfg,
		Logger:     logg,
		DB:         &fakeDB{},
		PubSub:     &fakePubSubClient{},
		Repository: repo,
		Publisher:  pub,
		Metrics:    metrics.NewAuditRelayMetrics(prometheus.NewRegistry()),
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func auditEntry(tb testing.TB, action enums.AuditAction) models.AuditEntry {
	tb.Helper()
	id := uuid.New()
	occurred := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	payload, err := json.Marshal(audit.PayloadEnvelope{
		Version:    1,
		EntryID:    id.String(),
		Action:     string(action),
		OccurredAt: occurred,
		Data:       json.RawMessage(`{}`),
	})
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return models.AuditEntry{
		ID:         id,
		Action:     action,
		Payload:    payload,
		OccurredAt: occurred,
	}
}

type fakeRepo struct {
	entries          []models.AuditEntry
	published        []uuid.UUID
	failed           []uuid.UUID
	terminal         []uuid.UUID
	terminalAttempts int
}

func (f *fakeRepo) FetchUnpublishedForPublish(_ *gorm.DB, _, _ int) ([]models.AuditEntry, error) {
	return f.entries, nil
}

func (f *fakeRepo) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, terminalAttempts int) error {
	f.terminal = append(f.terminal, id)
	f.terminalAttempts = terminalAttempts
	return nil
}

type fakeDB struct{}

func (f *fakeDB) Ping(context.Context) error { return nil }

func (f *fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type fakePubSubClient struct{}

func (f *fakePubSubClient) Ping(context.Context) error { return nil }

func (f *fakePubSubClient) AuditPublisher() *gcppubsub.Publisher { return nil }

type fakePublisher struct {
	results  []publishResult
	messages []*gcppubsub.Message
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.messages = append(f.messages, msg)
	if len(f.results) == 0 {
		return nil
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result
}

type fakePublishResult struct {
	err error
}

func (f fakePublishResult) Get(context.Context) (string, error) {
	return "", f.err
}
