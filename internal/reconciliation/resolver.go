package reconciliation

import (
	"context"

	"github.com/angelmondragon/boletos-backend/internal/invoices"
	pkgerrors "github.com/angelmondragon/boletos-backend/pkg/errors"
)

// InvoiceReferenceResolver looks invoices up by reference_number.
type InvoiceReferenceResolver struct {
	repo invoices.Repository
}

func NewInvoiceReferenceResolver(repo invoices.Repository) *InvoiceReferenceResolver {
	return &InvoiceReferenceResolver{repo: repo}
}

func (r *InvoiceReferenceResolver) Resolve(ctx context.Context, reference string) (uint64, error) {
	if reference == "" {
		return 0, pkgerrors.New(pkgerrors.CodeNotFound, "invoice reference is empty")
	}
	invoice, err := r.repo.FindByReference(ctx, reference)
	if err != nil {
		return 0, err
	}
	return invoice.ID, nil
}
