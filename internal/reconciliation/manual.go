package reconciliation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/boletos-backend/internal/access"
	"github.com/angelmondragon/boletos-backend/internal/invoices"
	"github.com/angelmondragon/boletos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/boletos-backend/pkg/errors"
)

// ManualRequest is an admin console action on one invoice.
type ManualRequest struct {
	InvoiceID   uint64
	Action      enums.ReconciliationAction
	PaidAmount  *decimal.Decimal
	PaidAt      *time.Time
	UseDiscount bool
	Reason      string
	// RequestedAt is the client's submission time; it seeds the idempotency
	// key so a double-submitted form collapses into one event.
	RequestedAt *time.Time
	// IdempotencyKey comes from the Idempotency-Key header when present.
	IdempotencyKey string
}

// ManualAdapter turns admin console actions into reconciliation events.
type ManualAdapter struct {
	reconciler Reconciler
	clock      invoices.Clock
}

func NewManualAdapter(reconciler Reconciler, clock invoices.Clock) *ManualAdapter {
	return &ManualAdapter{reconciler: reconciler, clock: clock}
}

func (a *ManualAdapter) Submit(ctx context.Context, actor *access.Actor, req ManualRequest) (Result, error) {
	if actor == nil || actor.ID == uuid.Nil {
		return Result{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "admin identity missing")
	}
	requestedAt := a.clock.Now()
	if req.RequestedAt != nil && !req.RequestedAt.IsZero() {
		requestedAt = req.RequestedAt.UTC()
	}
	assertedAt := requestedAt
	if req.PaidAt != nil && !req.PaidAt.IsZero() {
		assertedAt = req.PaidAt.UTC()
	}
	actorID := actor.ID

	event := Event{
		InvoiceID:      req.InvoiceID,
		Action:         req.Action,
		AssertedStatus: req.Action.TargetStatus(),
		PaidAmount:     req.PaidAmount,
		AssertedAt:     assertedAt,
		Reason:         strings.TrimSpace(req.Reason),
		UseDiscount:    req.UseDiscount,
		Source:         enums.ReconciliationSourceManual,
		IdempotencyKey: ManualKey(actorID, requestedAt, req.IdempotencyKey),
		ActorID:        &actorID,
	}
	return a.reconciler.Reconcile(ctx, event, actor)
}

// ManualKey derives the idempotency key of a manual action. A client supplied
// key is namespaced by admin so two admins cannot collide.
func ManualKey(adminID uuid.UUID, requestedAt time.Time, clientKey string) string {
	clientKey = strings.TrimSpace(clientKey)
	if clientKey != "" {
		return fmt.Sprintf("manual:%s:%s", adminID, clientKey)
	}
	return fmt.Sprintf("manual:%s:%d", adminID, requestedAt.UnixMilli())
}
