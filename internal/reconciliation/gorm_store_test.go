package reconciliation

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/boletos-backend/internal/audit"
	"github.com/angelmondragon/boletos-backend/internal/invoices"
	"github.com/angelmondragon/boletos-backend/pkg/db"
	"github.com/angelmondragon/boletos-backend/pkg/db/models"
	"github.com/angelmondragon/boletos-backend/pkg/enums"
)

func setupReconciliationTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	statements := []string{`
CREATE TABLE IF NOT EXISTS invoices (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  reference_number TEXT NOT NULL UNIQUE,
  principal TEXT NOT NULL,
  due_date DATE NOT NULL,
  student_ref TEXT NOT NULL,
  course_ref TEXT NOT NULL,
  polo_id TEXT NOT NULL,
  created_by TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL DEFAULT 'pending',
  paid_amount TEXT,
  paid_at DATETIME,
  cancel_reason TEXT,
  notes TEXT NOT NULL DEFAULT '',
  discount_offered INTEGER NOT NULL DEFAULT 0,
  discount_consumed INTEGER NOT NULL DEFAULT 0,
  discount_amount TEXT NOT NULL DEFAULT '0',
  discount_floor TEXT NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS reconciliation_records (
  idempotency_key TEXT PRIMARY KEY,
  invoice_id INTEGER NOT NULL,
  source TEXT NOT NULL,
  action TEXT NOT NULL,
  outcome TEXT NOT NULL,
  result TEXT NOT NULL,
  recorded_at DATETIME NOT NULL
);`, `
CREATE TABLE IF NOT EXISTS audit_entries (
  id TEXT PRIMARY KEY,
  invoice_id INTEGER,
  action TEXT NOT NULL,
  source TEXT,
  actor_id TEXT,
  idempotency_key TEXT,
  payload TEXT NOT NULL,
  occurred_at DATETIME NOT NULL,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`}
	for _, stmt := range statements {
		require.NoError(t, conn.Exec(stmt).Error)
	}

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

type gormFixture struct {
	conn    *gorm.DB
	service *Service
	audit   *audit.Repository
	records RecordRepository
}

func newGormFixture(t *testing.T) gormFixture {
	t.Helper()

	conn := setupReconciliationTestDB(t)
	client := db.NewFromConn(conn)
	auditRepo := audit.NewRepository(conn)
	auditSvc := audit.NewService(auditRepo, client, nil, time.Second)
	records := NewRecordRepository(conn)

	store, err := NewGormStore(client, invoices.NewRepository(conn), records, auditSvc)
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Store:          store,
		Audit:          auditSvc,
		Clock:          invoices.NewClock(time.UTC, func() time.Time { return fixedNow }),
		StorageTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	return gormFixture{conn: conn, service: svc, audit: auditRepo, records: records}
}

func TestGormStoreCommitsInvoiceRecordAndAuditTogether(t *testing.T) {
	fx := newGormFixture(t)
	ctx := context.Background()

	inv := testInvoice(0)
	require.NoError(t, invoices.NewRepository(fx.conn).Create(ctx, &inv))

	result, err := fx.service.Reconcile(ctx, payEvent(inv.ID, "callback:tx-1", "150.00", true), nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "150.00", *result.PaidAmount)

	stored, err := invoices.NewRepository(fx.conn).FindByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.InvoiceStatusPaid, stored.Status)
	assert.True(t, stored.DiscountConsumed)

	record, err := fx.records.Find(ctx, "callback:tx-1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, enums.ReconciliationOutcomeApplied, record.Outcome)

	entries, err := fx.audit.ListByInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, enums.AuditActionReconciliationApplied, entries[0].Action)

	replay, err := fx.service.Reconcile(ctx, payEvent(inv.ID, "callback:tx-1", "150.00", true), nil)
	require.NoError(t, err)
	assert.True(t, replay.Replayed)

	entries, err = fx.audit.ListByInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "replay adds a note but no second application")
}

func TestGormStoreRejectionKeepsInvoice(t *testing.T) {
	fx := newGormFixture(t)
	ctx := context.Background()

	inv := testInvoice(0)
	require.NoError(t, invoices.NewRepository(fx.conn).Create(ctx, &inv))

	result, err := fx.service.Reconcile(ctx, payEvent(inv.ID, "callback:tx-low", "10.00", false), nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, ErrorKindUnderpayment, result.ErrorKind)

	stored, err := invoices.NewRepository(fx.conn).FindByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.InvoiceStatusPending, stored.Status)
	assert.Nil(t, stored.PaidAmount)

	record, err := fx.records.Find(ctx, "callback:tx-low")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, enums.ReconciliationOutcomeRejected, record.Outcome)
}

func TestRecordRepositoryInsertIfAbsentAndPurge(t *testing.T) {
	conn := setupReconciliationTestDB(t)
	repo := NewRecordRepository(conn)
	ctx := context.Background()

	old := models.ReconciliationRecord{
		IdempotencyKey: "callback:old",
		InvoiceID:      1,
		Source:         enums.ReconciliationSourceCallback,
		Action:         enums.ReconciliationActionMarkPaid,
		Outcome:        enums.ReconciliationOutcomeApplied,
		Result:         []byte(`{"success":true}`),
		RecordedAt:     fixedNow.Add(-40 * 24 * time.Hour),
	}
	fresh := old
	fresh.IdempotencyKey = "callback:fresh"
	fresh.RecordedAt = fixedNow

	require.NoError(t, repo.Insert(ctx, old))
	require.NoError(t, repo.Insert(ctx, fresh))
	assert.ErrorIs(t, repo.Insert(ctx, old), ErrDuplicateRecord)

	missing, err := repo.Find(ctx, "callback:none")
	require.NoError(t, err)
	assert.Nil(t, missing)

	deleted, err := repo.DeleteRecordedBefore(ctx, fixedNow.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	kept, err := repo.Find(ctx, "callback:fresh")
	require.NoError(t, err)
	assert.NotNil(t, kept)
}
