package invoices

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/boletos-backend/pkg/db/models"
	"github.com/angelmondragon/boletos-backend/pkg/enums"
	"github.com/angelmondragon/boletos-backend/pkg/pagination"
)

// Repository is the invoice persistence boundary.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, invoice *models.Invoice) error
	FindByID(ctx context.Context, id uint64) (*models.Invoice, error)
	// FindByIDForUpdate loads the invoice holding a row lock until the
	// surrounding transaction ends.
	FindByIDForUpdate(ctx context.Context, id uint64) (*models.Invoice, error)
	FindByReference(ctx context.Context, reference string) (*models.Invoice, error)
	Save(ctx context.Context, invoice *models.Invoice) error
	// PromoteOverdue persists pending -> overdue; it reports false when the
	// row was already promoted or is not eligible.
	PromoteOverdue(ctx context.Context, id uint64, today time.Time) (bool, error)
	List(ctx context.Context, filter ListFilter, params pagination.Params) (*List, error)
}

// ListFilter narrows list queries. A nil PoloID means every polo.
type ListFilter struct {
	PoloID *string
	Status *enums.InvoiceStatus
	// IncludeLapsedPending makes an overdue filter also match pending rows
	// whose due date is before Today.
	IncludeLapsedPending bool
	Today                time.Time
}

// List is a page of invoices.
type List struct {
	Invoices   []models.Invoice
	NextCursor string
}
