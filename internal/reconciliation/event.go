package reconciliation

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/boletos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/boletos-backend/pkg/errors"
)

const maxIdempotencyKeyLength = 200

// Event is an externally reported payment fact. It is built once by an
// adapter and never mutated afterwards.
type Event struct {
	InvoiceID      uint64
	Action         enums.ReconciliationAction
	AssertedStatus enums.InvoiceStatus
	PaidAmount     *decimal.Decimal
	AssertedAt     time.Time
	Reason         string
	UseDiscount    bool
	Source         enums.ReconciliationSource
	IdempotencyKey string
	ActorID        *uuid.UUID
}

// Validate reports a malformed event. Malformed events are rejected before
// any lock is taken and are never recorded.
func (e Event) Validate() error {
	details := map[string]string{}

	key := strings.TrimSpace(e.IdempotencyKey)
	switch {
	case key == "":
		details["idempotencyKey"] = "is required"
	case len(key) > maxIdempotencyKeyLength:
		details["idempotencyKey"] = "is too long"
	}
	if e.InvoiceID == 0 {
		details["invoiceId"] = "is required"
	}
	if !e.Source.IsValid() {
		details["source"] = "is invalid"
	}
	if e.Source == enums.ReconciliationSourceManual && (e.ActorID == nil || *e.ActorID == uuid.Nil) {
		details["actorId"] = "is required for manual events"
	}
	if !e.Action.IsValid() {
		details["action"] = "is invalid"
	} else if e.AssertedStatus != "" && e.AssertedStatus != e.Action.TargetStatus() {
		details["assertedStatus"] = "does not match action"
	}
	if e.AssertedAt.IsZero() {
		details["assertedAt"] = "is required"
	}

	switch e.Action {
	case enums.ReconciliationActionMarkPaid:
		if e.PaidAmount == nil {
			details["paidAmount"] = "is required"
		} else if !e.PaidAmount.IsPositive() {
			details["paidAmount"] = "must be positive"
		} else if !e.PaidAmount.Equal(e.PaidAmount.Round(2)) {
			details["paidAmount"] = "must have at most two decimal places"
		}
	case enums.ReconciliationActionCancel:
		if strings.TrimSpace(e.Reason) == "" {
			details["reason"] = "is required"
		}
		if e.UseDiscount {
			details["useDiscount"] = "does not apply to cancellations"
		}
	}

	if len(details) == 0 {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "malformed reconciliation event").WithDetails(details)
}

// Capability is the admin permission the event's action requires.
func (e Event) Capability() enums.Capability {
	return enums.CapabilityForAction(e.Action)
}
