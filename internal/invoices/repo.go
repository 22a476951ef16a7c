package invoices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/boletos-backend/pkg/db/models"
	"github.com/angelmondragon/boletos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/boletos-backend/pkg/errors"
	"github.com/angelmondragon/boletos-backend/pkg/pagination"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an invoice repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, invoice *models.Invoice) error {
	if invoice == nil {
		return errors.New("invoice required")
	}
	return r.db.WithContext(ctx).Create(invoice).Error
}

func (r *repository) FindByID(ctx context.Context, id uint64) (*models.Invoice, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uint64) (*models.Invoice, error) {
	return r.first(r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

func (r *repository) FindByReference(ctx context.Context, reference string) (*models.Invoice, error) {
	return r.first(r.db.WithContext(ctx).Where("reference_number = ?", reference))
}

func (r *repository) first(query *gorm.DB) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := query.First(&invoice).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) Save(ctx context.Context, invoice *models.Invoice) error {
	if invoice == nil || invoice.ID == 0 {
		return errors.New("persisted invoice required")
	}
	return r.db.WithContext(ctx).Save(invoice).Error
}

func (r *repository) PromoteOverdue(ctx context.Context, id uint64, today time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ? AND status = ? AND due_date < ?", id, enums.InvoiceStatusPending, today).
		Updates(map[string]any{
			"status":     enums.InvoiceStatusOverdue,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) List(ctx context.Context, filter ListFilter, params pagination.Params) (*List, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(params.Limit)

	query := r.db.WithContext(ctx).Model(&models.Invoice{})
	if filter.PoloID != nil {
		query = query.Where("polo_id = ?", *filter.PoloID)
	}
	switch {
	case filter.Status != nil && filter.IncludeLapsedPending:
		query = query.Where("(status = ?) OR (status = ? AND due_date < ?)",
			*filter.Status, enums.InvoiceStatusPending, filter.Today)
	case filter.Status != nil:
		query = query.Where("status = ?", *filter.Status)
	}
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Invoice
	if err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(limit)).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}

	page, next := pagination.Page(rows, limit, func(inv models.Invoice) pagination.Cursor {
		return pagination.Cursor{CreatedAt: inv.CreatedAt, ID: inv.ID}
	})
	return &List{Invoices: page, NextCursor: next}, nil
}
