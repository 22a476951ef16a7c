package reconciliation

import (
	"context"
	"errors"

	"github.com/angelmondragon/boletos-backend/internal/audit"
	"github.com/angelmondragon/boletos-backend/pkg/db/models"
)

// ErrDuplicateRecord signals that another event already claimed the
// idempotency key.
var ErrDuplicateRecord = errors.New("reconciliation record already exists")

// UnitOfWork is the exclusive, atomic view of one invoice. Everything staged
// through it commits together or not at all.
type UnitOfWork interface {
	Invoice() *models.Invoice
	FindRecord(ctx context.Context, key string) (*models.ReconciliationRecord, error)
	SaveInvoice(ctx context.Context, invoice *models.Invoice) error
	InsertRecord(ctx context.Context, record models.ReconciliationRecord) error
	AppendAudit(ctx context.Context, entry audit.Entry) error
}

// Store persists invoices and idempotency records.
type Store interface {
	LoadInvoice(ctx context.Context, id uint64) (*models.Invoice, error)
	// FindRecord returns nil without error when the key is unknown.
	FindRecord(ctx context.Context, key string) (*models.ReconciliationRecord, error)
	// Exclusive runs fn while no other unit of work holds the invoice. A nil
	// return commits; any error rolls back.
	Exclusive(ctx context.Context, invoiceID uint64, fn func(uow UnitOfWork) error) error
}
