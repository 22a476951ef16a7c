package invoices

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/boletos-backend/api/middleware"
	"github.com/angelmondragon/boletos-backend/api/responses"
	"github.com/angelmondragon/boletos-backend/api/validators"
	"github.com/angelmondragon/boletos-backend/internal/access"
	invoicesvc "github.com/angelmondragon/boletos-backend/internal/invoices"
	"github.com/angelmondragon/boletos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/boletos-backend/pkg/errors"
	"github.com/angelmondragon/boletos-backend/pkg/logger"
)

const (
	defaultListLimit = 25
	maxListLimit     = 100
	dueDateLayout    = "2006-01-02"
)

// Service is the invoice surface the admin console reads and writes.
type Service interface {
	Create(ctx context.Context, actor *access.Actor, input invoicesvc.CreateInput) (*invoicesvc.View, error)
	Get(ctx context.Context, actor *access.Actor, id uint64) (*invoicesvc.View, error)
	List(ctx context.Context, actor *access.Actor, input invoicesvc.ListInput) (*invoicesvc.ListView, error)
}

type createRequest struct {
	ReferenceNumber string  `json:"referenceNumber" validate:"max=64"`
	Principal       string  `json:"principal" validate:"required,money"`
	DueDate         string  `json:"dueDate" validate:"required,datetime=2006-01-02"`
	StudentRef      string  `json:"studentRef" validate:"required,max=64"`
	CourseRef       string  `json:"courseRef" validate:"required,max=64"`
	PoloID          string  `json:"poloId" validate:"required,max=64"`
	Description     string  `json:"description" validate:"max=500"`
	DiscountOffered bool    `json:"discountOffered"`
	DiscountAmount  string  `json:"discountAmount" validate:"omitempty,money"`
	DiscountFloor   *string `json:"discountFloor" validate:"omitempty,money"`
}

func (r createRequest) toInput() (invoicesvc.CreateInput, error) {
	principal, err := decimal.NewFromString(strings.TrimSpace(r.Principal))
	if err != nil {
		return invoicesvc.CreateInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid principal")
	}
	due, err := time.Parse(dueDateLayout, strings.TrimSpace(r.DueDate))
	if err != nil {
		return invoicesvc.CreateInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid dueDate")
	}
	discount := decimal.Zero
	if raw := strings.TrimSpace(r.DiscountAmount); raw != "" {
		if discount, err = decimal.NewFromString(raw); err != nil {
			return invoicesvc.CreateInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid discountAmount")
		}
	}

	input := invoicesvc.CreateInput{
		ReferenceNumber: strings.TrimSpace(r.ReferenceNumber),
		Principal:       principal,
		DueDate:         due,
		StudentRef:      strings.TrimSpace(r.StudentRef),
		CourseRef:       strings.TrimSpace(r.CourseRef),
		PoloID:          strings.TrimSpace(r.PoloID),
		Description:     validators.SanitizeString(r.Description, 500),
		DiscountOffered: r.DiscountOffered,
		DiscountAmount:  discount,
	}
	if r.DiscountFloor != nil {
		floor, err := decimal.NewFromString(strings.TrimSpace(*r.DiscountFloor))
		if err != nil {
			return invoicesvc.CreateInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid discountFloor")
		}
		input.DiscountFloor = &floor
	}
	return input, nil
}

// InvoiceCreate issues a new pending invoice.
func InvoiceCreate(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "invoice service unavailable"))
			return
		}

		var payload createRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		input, err := payload.toInput()
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		view, err := svc.Create(ctx, middleware.ActorFromContext(ctx), input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, view)
	}
}

// InvoiceGet returns one invoice with its discount evaluated as of today.
func InvoiceGet(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "invoice service unavailable"))
			return
		}

		id, err := validators.ParseInvoiceID(r, "invoiceId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			ctx = logg.WithInvoiceID(ctx, id)
		}

		view, err := svc.Get(ctx, middleware.ActorFromContext(ctx), id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// InvoiceList pages through the invoices visible to the caller.
func InvoiceList(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "invoice service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", defaultListLimit, 1, maxListLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		input := invoicesvc.ListInput{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseInvoiceStatus(raw)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status").
					WithDetails(map[string]any{"field": "status"}))
				return
			}
			input.Status = &status
		}

		list, err := svc.List(ctx, middleware.ActorFromContext(ctx), input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}
