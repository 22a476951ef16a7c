package reconciliation

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/boletos-backend/internal/audit"
	"github.com/angelmondragon/boletos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/boletos-backend/pkg/errors"
	"github.com/angelmondragon/boletos-backend/pkg/logger"
)

const defaultProcessorCancelReason = "cancelled by payment processor"

// CallbackPayload is the payment processor notification body.
type CallbackPayload struct {
	ExternalTransactionID    string          `json:"externalTransactionId" validate:"required,max=150"`
	ExternalInvoiceReference string          `json:"externalInvoiceReference" validate:"required,max=64"`
	ReportedStatus           string          `json:"reportedStatus" validate:"required"`
	ReportedAmount           decimal.Decimal `json:"reportedAmount"`
	EventTimestamp           time.Time       `json:"eventTimestamp" validate:"required"`
	DiscountApplied          bool            `json:"discountApplied"`
	Reason                   string          `json:"reason,omitempty"`
}

// CallbackAck is what the webhook tells the processor. The processor only
// needs to know whether to retry.
type CallbackAck struct {
	Accepted bool   `json:"accepted"`
	Outcome  string `json:"-"`
}

// ReferenceResolver maps the processor's invoice reference to an invoice id.
type ReferenceResolver interface {
	Resolve(ctx context.Context, reference string) (uint64, error)
}

// CallbackAdapter turns processor notifications into reconciliation events.
type CallbackAdapter struct {
	reconciler Reconciler
	resolver   ReferenceResolver
	sink       audit.Sink
	logg       *logger.Logger
}

func NewCallbackAdapter(reconciler Reconciler, resolver ReferenceResolver, sink audit.Sink, logg *logger.Logger) *CallbackAdapter {
	return &CallbackAdapter{reconciler: reconciler, resolver: resolver, sink: sink, logg: logg}
}

// Handle reconciles one notification. Only malformed payloads and transient
// failures return an error; everything the processor should not retry is
// acknowledged.
func (a *CallbackAdapter) Handle(ctx context.Context, payload CallbackPayload) (CallbackAck, error) {
	action, err := actionForReportedStatus(payload.ReportedStatus)
	if err != nil {
		return CallbackAck{}, err
	}
	key := CallbackKey(payload.ExternalTransactionID)

	invoiceID, err := a.resolver.Resolve(ctx, strings.TrimSpace(payload.ExternalInvoiceReference))
	if err != nil {
		if pkgerrors.CodeOf(err) == pkgerrors.CodeNotFound {
			a.noteUnresolved(ctx, payload, key)
			return CallbackAck{Accepted: true, Outcome: outcomeNotFound}, nil
		}
		return CallbackAck{}, transient(err)
	}

	event := Event{
		InvoiceID:      invoiceID,
		Action:         action,
		AssertedStatus: action.TargetStatus(),
		AssertedAt:     payload.EventTimestamp.UTC(),
		UseDiscount:    payload.DiscountApplied && action == enums.ReconciliationActionMarkPaid,
		Source:         enums.ReconciliationSourceCallback,
		IdempotencyKey: key,
	}
	if action == enums.ReconciliationActionMarkPaid {
		amount := payload.ReportedAmount
		event.PaidAmount = &amount
	} else {
		event.Reason = strings.TrimSpace(payload.Reason)
		if event.Reason == "" {
			event.Reason = defaultProcessorCancelReason
		}
	}

	result, err := a.reconciler.Reconcile(ctx, event, nil)
	if err != nil {
		switch pkgerrors.CodeOf(err) {
		case pkgerrors.CodeNotFound:
			return CallbackAck{Accepted: true, Outcome: outcomeNotFound}, nil
		case pkgerrors.CodeValidation, pkgerrors.CodeIdempotency:
			return CallbackAck{}, err
		default:
			return CallbackAck{}, transient(err)
		}
	}

	outcome := outcomeApplied
	switch {
	case result.Replayed:
		outcome = outcomeReplayed
	case !result.Success:
		outcome = outcomeRejected
	}
	return CallbackAck{Accepted: true, Outcome: outcome}, nil
}

// CallbackKey is the idempotency key of a processor notification.
func CallbackKey(transactionID string) string {
	return "callback:" + strings.TrimSpace(transactionID)
}

func actionForReportedStatus(status string) (enums.ReconciliationAction, error) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "paid", "settled", "confirmed":
		return enums.ReconciliationActionMarkPaid, nil
	case "cancelled", "canceled", "voided":
		return enums.ReconciliationActionCancel, nil
	default:
		return "", pkgerrors.New(pkgerrors.CodeValidation, "unsupported reported status").
			WithDetails(map[string]string{"reportedStatus": status})
	}
}

func (a *CallbackAdapter) noteUnresolved(ctx context.Context, payload CallbackPayload, key string) {
	if a.logg != nil {
		logCtx := a.logg.WithIdempotencyKey(ctx, key)
		logCtx = a.logg.WithField(logCtx, "external_reference", payload.ExternalInvoiceReference)
		a.logg.Warn(logCtx, "callback references unknown invoice")
	}
	if a.sink == nil {
		return
	}
	err := a.sink.Append(context.WithoutCancel(ctx), audit.Entry{
		Action:         enums.AuditActionReconciliationRejected,
		Source:         enums.ReconciliationSourceCallback,
		IdempotencyKey: key,
		OccurredAt:     time.Now(),
		Data: map[string]any{
			"externalInvoiceReference": payload.ExternalInvoiceReference,
			"reportedStatus":           payload.ReportedStatus,
			"reportedAmount":           payload.ReportedAmount.StringFixed(2),
			"errorKind":                ErrorKindNotFound,
		},
	})
	if err != nil && a.logg != nil {
		a.logg.Warn(a.logg.WithField(ctx, "error", err.Error()), "audit append failed")
	}
}
