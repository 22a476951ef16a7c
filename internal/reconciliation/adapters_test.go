package reconciliation

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/boletos-backend/internal/access"
	"github.com/angelmondragon/boletos-backend/internal/invoices"
	"github.com/angelmondragon/boletos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/boletos-backend/pkg/errors"
)

type capturingReconciler struct {
	events []Event
	result Result
	err    error
}

func (c *capturingReconciler) Reconcile(ctx context.Context, event Event, actor *access.Actor) (Result, error) {
	c.events = append(c.events, event)
	return c.result, c.err
}

func TestManualKeyDerivation(t *testing.T) {
	admin := uuid.MustParse("2b1f3c3e-0f7e-4d43-9a51-1d2f0b7c9e10")
	requestedAt := time.UnixMilli(1709650800123)

	if got := ManualKey(admin, requestedAt, ""); got != "manual:2b1f3c3e-0f7e-4d43-9a51-1d2f0b7c9e10:1709650800123" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := ManualKey(admin, requestedAt, " form-42 "); got != "manual:2b1f3c3e-0f7e-4d43-9a51-1d2f0b7c9e10:form-42" {
		t.Fatalf("unexpected header key %q", got)
	}
}

func TestManualAdapterBuildsEvent(t *testing.T) {
	reconciler := &capturingReconciler{}
	clock := invoices.NewClock(time.UTC, func() time.Time { return fixedNow })
	adapter := NewManualAdapter(reconciler, clock)
	actor := &access.Actor{ID: uuid.New(), Superuser: true}
	amount := decimal.RequireFromString("150.00")
	requestedAt := fixedNow.Add(-time.Minute)

	_, err := adapter.Submit(context.Background(), actor, ManualRequest{
		InvoiceID:   7,
		Action:      enums.ReconciliationActionMarkPaid,
		PaidAmount:  &amount,
		UseDiscount: true,
		RequestedAt: &requestedAt,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reconciler.events) != 1 {
		t.Fatalf("expected one event")
	}
	event := reconciler.events[0]
	if event.Source != enums.ReconciliationSourceManual || event.ActorID == nil || *event.ActorID != actor.ID {
		t.Fatalf("unexpected event identity %+v", event)
	}
	if event.IdempotencyKey != ManualKey(actor.ID, requestedAt, "") {
		t.Fatalf("unexpected key %q", event.IdempotencyKey)
	}
	if !event.AssertedAt.Equal(requestedAt) {
		t.Fatalf("asserted time should default to the request time")
	}
	if err := event.Validate(); err != nil {
		t.Fatalf("adapter produced an invalid event: %v", err)
	}

	if _, err := adapter.Submit(context.Background(), nil, ManualRequest{}); pkgerrors.CodeOf(err) != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized without actor, got %v", err)
	}
}

type staticResolver struct {
	ids map[string]uint64
}

func (r staticResolver) Resolve(ctx context.Context, reference string) (uint64, error) {
	id, ok := r.ids[reference]
	if !ok {
		return 0, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	return id, nil
}

func callbackPayload(reference, status string) CallbackPayload {
	return CallbackPayload{
		ExternalTransactionID:    "psp-001",
		ExternalInvoiceReference: reference,
		ReportedStatus:           status,
		ReportedAmount:           decimal.RequireFromString("200.00"),
		EventTimestamp:           fixedNow,
	}
}

func TestCallbackAdapterProcessesAndReplays(t *testing.T) {
	store := NewMemoryStore(testInvoice(1))
	svc := newTestService(t, store, store)
	adapter := NewCallbackAdapter(svc, staticResolver{ids: map[string]uint64{"BOL-1": 1}}, store, nil)
	ctx := context.Background()

	ack, err := adapter.Handle(ctx, callbackPayload("BOL-1", "PAID"))
	if err != nil || !ack.Accepted || ack.Outcome != outcomeApplied {
		t.Fatalf("unexpected ack %+v err=%v", ack, err)
	}
	ack, err = adapter.Handle(ctx, callbackPayload("BOL-1", "PAID"))
	if err != nil || !ack.Accepted || ack.Outcome != outcomeReplayed {
		t.Fatalf("expected replay ack, got %+v err=%v", ack, err)
	}
	if record, _ := store.FindRecord(ctx, CallbackKey("psp-001")); record == nil {
		t.Fatalf("callback should be recorded under its transaction id")
	}
}

func TestCallbackAdapterAcknowledgesUnknownReference(t *testing.T) {
	store := NewMemoryStore()
	svc := newTestService(t, store, store)
	adapter := NewCallbackAdapter(svc, staticResolver{}, store, nil)

	ack, err := adapter.Handle(context.Background(), callbackPayload("BOL-missing", "paid"))
	if err != nil || !ack.Accepted || ack.Outcome != outcomeNotFound {
		t.Fatalf("unknown reference should be acknowledged, got %+v err=%v", ack, err)
	}
	if countAudits(store, enums.AuditActionReconciliationRejected) != 1 {
		t.Fatalf("unknown reference should be audited")
	}
}

func TestCallbackAdapterCancelDefaultsReason(t *testing.T) {
	reconciler := &capturingReconciler{result: Result{Success: true}}
	adapter := NewCallbackAdapter(reconciler, staticResolver{ids: map[string]uint64{"BOL-1": 1}}, nil, nil)

	if _, err := adapter.Handle(context.Background(), callbackPayload("BOL-1", "canceled")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	event := reconciler.events[0]
	if event.Action != enums.ReconciliationActionCancel || event.Reason != defaultProcessorCancelReason || event.PaidAmount != nil {
		t.Fatalf("unexpected cancel event %+v", event)
	}
}

func TestCallbackAdapterErrors(t *testing.T) {
	reconciler := &capturingReconciler{}
	adapter := NewCallbackAdapter(reconciler, staticResolver{ids: map[string]uint64{"BOL-1": 1}}, nil, nil)

	_, err := adapter.Handle(context.Background(), callbackPayload("BOL-1", "refunded"))
	if pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}

	reconciler.err = context.DeadlineExceeded
	_, err = adapter.Handle(context.Background(), callbackPayload("BOL-1", "paid"))
	if !pkgerrors.IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestEventValidate(t *testing.T) {
	valid := payEvent(1, "callback:tx", "150.00", true)
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := map[string]func(e *Event){
		"missing key":       func(e *Event) { e.IdempotencyKey = "  " },
		"long key":          func(e *Event) { e.IdempotencyKey = strings.Repeat("k", 201) },
		"missing invoice":   func(e *Event) { e.InvoiceID = 0 },
		"bad action":        func(e *Event) { e.Action = "refund" },
		"status mismatch":   func(e *Event) { e.AssertedStatus = enums.InvoiceStatusCancelled },
		"missing amount":    func(e *Event) { e.PaidAmount = nil },
		"negative amount":   func(e *Event) { e.PaidAmount = money("-1") },
		"sub-cent amount":   func(e *Event) { e.PaidAmount = money("150.001") },
		"missing timestamp": func(e *Event) { e.AssertedAt = time.Time{} },
		"manual no actor":   func(e *Event) { e.Source = enums.ReconciliationSourceManual },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			event := valid
			mutate(&event)
			if err := event.Validate(); pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	cancel := cancelEvent(1, "callback:c")
	cancel.Reason = ""
	if err := cancel.Validate(); pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("cancel without reason should be malformed")
	}
}

func TestKindOf(t *testing.T) {
	cases := map[pkgerrors.Code]ErrorKind{
		pkgerrors.CodeInvalidTransition:  ErrorKindInvalidTransition,
		pkgerrors.CodeDiscountIneligible: ErrorKindDiscountIneligible,
		pkgerrors.CodeUnderpayment:       ErrorKindUnderpayment,
		pkgerrors.CodeValidation:         ErrorKindMalformedEvent,
		pkgerrors.CodeForbidden:          ErrorKindForbidden,
		pkgerrors.CodeDependency:         ErrorKindTransient,
	}
	for code, kind := range cases {
		if got := KindOf(pkgerrors.New(code, "x")); got != kind {
			t.Fatalf("%s: expected %s, got %s", code, kind, got)
		}
	}
	if KindOf(context.DeadlineExceeded) != ErrorKindTransient {
		t.Fatalf("untyped errors are transient")
	}
}
