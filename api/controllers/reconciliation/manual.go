package reconciliation

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
	reconsvc "github.com/angelmondragon/boletos-backend/internal/reconciliation"
	"github.com/angelmondragon/boletos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/boletos-backend/pkg/errors"
	"github.com/angelmondragon/boletos-backend/pkg/logger"
)

const maxReasonLength = 500

// Submitter runs a manual reconciliation on behalf of an admin.
type Submitter interface {
	Submit(ctx context.Context, actor *access.Actor, req reconsvc.ManualRequest) (reconsvc.Result, error)
}

// InvoiceReader reloads the invoice after an applied action.
type InvoiceReader interface {
	Get(ctx context.Context, actor *access.Actor, id uint64) (*invoicesvc.View, error)
}

type markPaidRequest struct {
	PaidAmount  string     `json:"paidAmount" validate:"required,money"`
	PaidAt      *time.Time `json:"paidAt"`
	UseDiscount bool       `json:"useDiscount"`
	RequestedAt *time.Time `json:"requestedAt"`
}

type cancelRequest struct {
	Reason      string     `json:"reason" validate:"required,max=500"`
	RequestedAt *time.Time `json:"requestedAt"`
}

type manualResponse struct {
	reconsvc.Result
	Invoice *invoicesvc.View `json:"invoice,omitempty"`
}

// MarkPaid records a payment the admin confirmed out of band.
func MarkPaid(submitter Submitter, reader InvoiceReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id, ok := prepare(w, r, submitter, logg)
		if !ok {
			return
		}

		var payload markPaidRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(payload.PaidAmount))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid paidAmount"))
			return
		}

		submit(w, r, submitter, reader, logg, reconsvc.ManualRequest{
			InvoiceID:      id,
			Action:         enums.ReconciliationActionMarkPaid,
			PaidAmount:     &amount,
			PaidAt:         payload.PaidAt,
			UseDiscount:    payload.UseDiscount,
			RequestedAt:    payload.RequestedAt,
			IdempotencyKey: middleware.IdempotencyKeyFromContext(ctx),
		})
	}
}

// Cancel closes an open invoice with the admin's reason.
func Cancel(submitter Submitter, reader InvoiceReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id, ok := prepare(w, r, submitter, logg)
		if !ok {
			return
		}

		var payload cancelRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		submit(w, r, submitter, reader, logg, reconsvc.ManualRequest{
			InvoiceID:      id,
			Action:         enums.ReconciliationActionCancel,
			Reason:         validators.SanitizeString(payload.Reason, maxReasonLength),
			RequestedAt:    payload.RequestedAt,
			IdempotencyKey: middleware.IdempotencyKeyFromContext(ctx),
		})
	}
}

func prepare(w http.ResponseWriter, r *http.Request, submitter Submitter, logg *logger.Logger) (uint64, bool) {
	ctx := r.Context()
	if submitter == nil {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation service unavailable"))
		return 0, false
	}
	id, err := validators.ParseInvoiceID(r, "invoiceId")
	if err != nil {
		responses.WriteError(ctx, logg, w, err)
		return 0, false
	}
	return id, true
}

// submit writes the result. A recorded rejection is a 200 with success false;
// only refusals that were never recorded use the error envelope.
func submit(w http.ResponseWriter, r *http.Request, submitter Submitter, reader InvoiceReader, logg *logger.Logger, req reconsvc.ManualRequest) {
	ctx := r.Context()
	if logg != nil {
		ctx = logg.WithInvoiceID(ctx, req.InvoiceID)
	}
	actor := middleware.ActorFromContext(ctx)

	result, err := submitter.Submit(ctx, actor, req)
	if err != nil {
		responses.WriteError(ctx, logg, w, err)
		return
	}

	resp := manualResponse{Result: result}
	if result.Success && reader != nil {
		view, err := reader.Get(ctx, actor, req.InvoiceID)
		if err != nil {
			if logg != nil {
				logg.Warn(logg.WithField(ctx, "error", err.Error()), "reload invoice after reconciliation failed")
			}
		} else {
			resp.Invoice = view
		}
	}
	responses.WriteSuccess(w, resp)
}
