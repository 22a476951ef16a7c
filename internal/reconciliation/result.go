package reconciliation

import (
	"time"

	"github.com/angelmondragon/boletos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/boletos-backend/pkg/errors"
)

// ErrorKind is the public classification of a failed reconciliation.
type ErrorKind string

const (
	ErrorKindInvalidTransition  ErrorKind = "invalid_transition"
	ErrorKindDiscountIneligible ErrorKind = "discount_ineligible"
	ErrorKindUnderpayment       ErrorKind = "underpayment"
	ErrorKindMalformedEvent     ErrorKind = "malformed_event"
	ErrorKindForbidden          ErrorKind = "forbidden"
	ErrorKindNotFound           ErrorKind = "not_found"
	ErrorKindTransient          ErrorKind = "transient"
)

// KindOf maps an error to its public kind. Unknown errors count as transient.
func KindOf(err error) ErrorKind {
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeInvalidTransition:
		return ErrorKindInvalidTransition
	case pkgerrors.CodeDiscountIneligible:
		return ErrorKindDiscountIneligible
	case pkgerrors.CodeUnderpayment:
		return ErrorKindUnderpayment
	case pkgerrors.CodeValidation, pkgerrors.CodeIdempotency:
		return ErrorKindMalformedEvent
	case pkgerrors.CodeForbidden, pkgerrors.CodeUnauthorized:
		return ErrorKindForbidden
	case pkgerrors.CodeNotFound:
		return ErrorKindNotFound
	default:
		return ErrorKindTransient
	}
}

// recordable reports whether a rejection is bound to the idempotency key.
func recordable(err error) bool {
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeInvalidTransition, pkgerrors.CodeDiscountIneligible, pkgerrors.CodeUnderpayment, pkgerrors.CodeValidation:
		return true
	default:
		return false
	}
}

// Result is what a reconciliation produced. It is stored with the
// idempotency key and returned verbatim on replay.
type Result struct {
	Success         bool                       `json:"success"`
	InvoiceID       uint64                     `json:"invoiceId"`
	Action          enums.ReconciliationAction `json:"action"`
	Status          enums.InvoiceStatus        `json:"status"`
	PaidAmount      *string                    `json:"paidAmount,omitempty"`
	DiscountApplied *string                    `json:"discountApplied,omitempty"`
	ErrorKind       ErrorKind                  `json:"errorKind,omitempty"`
	Code            pkgerrors.Code             `json:"code,omitempty"`
	Message         string                     `json:"message,omitempty"`
	Details         any                        `json:"details,omitempty"`
	RecordedAt      time.Time                  `json:"recordedAt"`

	// Replayed is set when the result came from an earlier event with the
	// same idempotency key. It is never persisted.
	Replayed bool `json:"-"`
}

// Outcome is the stored outcome column for the result.
func (r Result) Outcome() enums.ReconciliationOutcome {
	if r.Success {
		return enums.ReconciliationOutcomeApplied
	}
	return enums.ReconciliationOutcomeRejected
}

func rejectedResult(event Event, status enums.InvoiceStatus, err error, at time.Time) Result {
	result := Result{
		Success:    false,
		InvoiceID:  event.InvoiceID,
		Action:     event.Action,
		Status:     status,
		ErrorKind:  KindOf(err),
		Code:       pkgerrors.CodeOf(err),
		Message:    err.Error(),
		RecordedAt: at.UTC(),
	}
	if typed := pkgerrors.As(err); typed != nil {
		result.Message = typed.Message()
		if pkgerrors.MetadataFor(typed.Code()).DetailsAllowed {
			result.Details = typed.Details()
		}
	}
	return result
}
