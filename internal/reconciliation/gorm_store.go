package reconciliation

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/angelmondragon/boletos-backend/internal/audit"
	"github.com/angelmondragon/boletos-backend/internal/invoices"
	"github.com/angelmondragon/boletos-backend/pkg/db/models"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type auditRecorder interface {
	Record(ctx context.Context, tx *gorm.DB, entry audit.Entry) error
}

// GormStore runs each unit of work in a database transaction holding a row
// lock on the invoice.
type GormStore struct {
	tx       txRunner
	invoices invoices.Repository
	records  RecordRepository
	audit    auditRecorder
}

// NewGormStore wires the store from its repositories.
func NewGormStore(tx txRunner, invoiceRepo invoices.Repository, records RecordRepository, recorder auditRecorder) (*GormStore, error) {
	if tx == nil {
		return nil, errors.New("transaction runner required")
	}
	if invoiceRepo == nil {
		return nil, errors.New("invoice repository required")
	}
	if records == nil {
		return nil, errors.New("record repository required")
	}
	if recorder == nil {
		return nil, errors.New("audit recorder required")
	}
	return &GormStore{tx: tx, invoices: invoiceRepo, records: records, audit: recorder}, nil
}

func (s *GormStore) LoadInvoice(ctx context.Context, id uint64) (*models.Invoice, error) {
	return s.invoices.FindByID(ctx, id)
}

func (s *GormStore) FindRecord(ctx context.Context, key string) (*models.ReconciliationRecord, error) {
	return s.records.Find(ctx, key)
}

func (s *GormStore) Exclusive(ctx context.Context, invoiceID uint64, fn func(uow UnitOfWork) error) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.invoices.WithTx(tx)
		invoice, err := repo.FindByIDForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		return fn(&gormUnit{
			tx:       tx,
			invoice:  invoice,
			invoices: repo,
			records:  s.records.WithTx(tx),
			audit:    s.audit,
		})
	})
}

type gormUnit struct {
	tx       *gorm.DB
	invoice  *models.Invoice
	invoices invoices.Repository
	records  RecordRepository
	audit    auditRecorder
}

func (u *gormUnit) Invoice() *models.Invoice {
	return u.invoice
}

func (u *gormUnit) FindRecord(ctx context.Context, key string) (*models.ReconciliationRecord, error) {
	return u.records.Find(ctx, key)
}

func (u *gormUnit) SaveInvoice(ctx context.Context, invoice *models.Invoice) error {
	return u.invoices.Save(ctx, invoice)
}

func (u *gormUnit) InsertRecord(ctx context.Context, record models.ReconciliationRecord) error {
	return u.records.Insert(ctx, record)
}

func (u *gormUnit) AppendAudit(ctx context.Context, entry audit.Entry) error {
	return u.audit.Record(ctx, u.tx, entry)
}
