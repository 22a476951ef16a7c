package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/boletos-backend/internal/access"
	"github.com/angelmondragon/boletos-backend/internal/audit"
	"github.com/angelmondragon/boletos-backend/internal/invoices"
	"github.com/angelmondragon/boletos-backend/pkg/db/models"
	"github.com/angelmondragon/boletos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/boletos-backend/pkg/errors"
	"github.com/angelmondragon/boletos-backend/pkg/logger"
	"github.com/angelmondragon/boletos-backend/pkg/metrics"
)

const defaultStorageTimeout = 5 * time.Second

const (
	outcomeApplied   = "applied"
	outcomeRejected  = "rejected"
	outcomeReplayed  = "replayed"
	outcomeMalformed = "malformed"
	outcomeForbidden = "forbidden"
	outcomeNotFound  = "not_found"
	outcomeTransient = "transient"
)

// Reconciler is the entry point shared by the manual and callback adapters.
type Reconciler interface {
	Reconcile(ctx context.Context, event Event, actor *access.Actor) (Result, error)
}

// ServiceParams groups the reconciliation dependencies. Cache, Metrics and
// Logger are optional.
type ServiceParams struct {
	Store          Store
	Audit          audit.Sink
	Cache          ReplayCache
	Clock          invoices.Clock
	StorageTimeout time.Duration
	Metrics        *metrics.ReconciliationMetrics
	Logger         *logger.Logger
}

// Service applies reconciliation events exactly once per idempotency key.
type Service struct {
	store          Store
	sink           audit.Sink
	cache          ReplayCache
	clock          invoices.Clock
	machine        invoices.Machine
	scope          access.Scope
	storageTimeout time.Duration
	metrics        *metrics.ReconciliationMetrics
	logg           *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("reconciliation store required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit sink required")
	}
	timeout := params.StorageTimeout
	if timeout <= 0 {
		timeout = defaultStorageTimeout
	}
	return &Service{
		store:          params.Store,
		sink:           params.Audit,
		cache:          params.Cache,
		clock:          params.Clock,
		storageTimeout: timeout,
		metrics:        params.Metrics,
		logg:           params.Logger,
	}, nil
}

// Reconcile applies event to its invoice.
//
// Recorded rejections (invalid transition, ineligible discount, underpayment)
// come back as a Result with Success false and a nil error; replaying the
// same idempotency key returns the identical Result. Malformed, forbidden
// and transient failures are returned as errors and never recorded, so a
// retry with the same key runs again.
func (s *Service) Reconcile(ctx context.Context, event Event, actor *access.Actor) (Result, error) {
	started := time.Now()
	result, outcome, err := s.reconcile(ctx, event, actor)
	s.metrics.Observe(event.Source.String(), outcome, time.Since(started))
	s.logOutcome(ctx, event, outcome, err)
	return result, err
}

func (s *Service) reconcile(ctx context.Context, event Event, actor *access.Actor) (Result, string, error) {
	if err := event.Validate(); err != nil {
		s.auditRefusal(ctx, event, actor, err)
		return Result{}, outcomeMalformed, err
	}

	if actor != nil {
		if err := s.authorize(ctx, event, actor); err != nil {
			switch pkgerrors.CodeOf(err) {
			case pkgerrors.CodeForbidden, pkgerrors.CodeUnauthorized:
				s.auditRefusal(ctx, event, actor, err)
				return Result{}, outcomeForbidden, err
			case pkgerrors.CodeNotFound:
				return Result{}, outcomeNotFound, err
			default:
				return Result{}, outcomeTransient, transient(err)
			}
		}
	}

	replay, err := s.lookup(ctx, event)
	if err != nil {
		if pkgerrors.CodeOf(err) == pkgerrors.CodeIdempotency {
			return Result{}, outcomeMalformed, err
		}
		return Result{}, outcomeTransient, transient(err)
	}
	if replay != nil {
		return s.replayed(ctx, event, actor, *replay), outcomeReplayed, nil
	}

	// Once the unit of work starts it runs to completion or to the storage
	// timeout, whatever the caller does with ctx.
	workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storageTimeout)
	defer cancel()

	var result Result
	err = s.store.Exclusive(workCtx, event.InvoiceID, func(uow UnitOfWork) error {
		record, err := uow.FindRecord(workCtx, event.IdempotencyKey)
		if err != nil {
			return err
		}
		if record != nil {
			replay, err = decodeRecord(*record, event)
			return err
		}
		result, err = s.apply(workCtx, uow, event, actor)
		return err
	})
	if errors.Is(err, ErrDuplicateRecord) {
		// A concurrent identical event committed first.
		replay, err = s.readWinner(workCtx, event)
	}
	if err != nil {
		switch pkgerrors.CodeOf(err) {
		case pkgerrors.CodeNotFound:
			return Result{}, outcomeNotFound, err
		case pkgerrors.CodeIdempotency:
			return Result{}, outcomeMalformed, err
		default:
			return Result{}, outcomeTransient, transient(err)
		}
	}
	if replay != nil {
		return s.replayed(ctx, event, actor, *replay), outcomeReplayed, nil
	}

	s.remember(workCtx, event.IdempotencyKey, result)
	if result.Success {
		return result, outcomeApplied, nil
	}
	return result, outcomeRejected, nil
}

func (s *Service) authorize(ctx context.Context, event Event, actor *access.Actor) error {
	if err := s.scope.RequireCapability(actor, event.Capability()); err != nil {
		return err
	}
	loadCtx, cancel := context.WithTimeout(ctx, s.storageTimeout)
	defer cancel()
	invoice, err := s.store.LoadInvoice(loadCtx, event.InvoiceID)
	if err != nil {
		return err
	}
	return s.scope.Require(actor, *invoice)
}

func (s *Service) lookup(ctx context.Context, event Event) (*Result, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, s.storageTimeout)
	defer cancel()

	if s.cache != nil {
		cached, err := s.cache.Get(lookupCtx, event.IdempotencyKey)
		if err != nil {
			s.warn(ctx, "replay cache lookup failed", err)
		} else if cached != nil {
			if err := matchesEvent(*cached, event); err != nil {
				return nil, err
			}
			return cached, nil
		}
	}

	record, err := s.store.FindRecord(lookupCtx, event.IdempotencyKey)
	if err != nil || record == nil {
		return nil, err
	}
	result, err := decodeRecord(*record, event)
	if err != nil {
		return nil, err
	}
	s.remember(lookupCtx, event.IdempotencyKey, *result)
	return result, nil
}

func (s *Service) readWinner(ctx context.Context, event Event) (*Result, error) {
	record, err := s.store.FindRecord(ctx, event.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, errors.New("reconciliation record vanished after duplicate insert")
	}
	return decodeRecord(*record, event)
}

// apply runs inside the unit of work. Only storage failures escape as errors;
// machine rejections become a recorded Result.
func (s *Service) apply(ctx context.Context, uow UnitOfWork, event Event, actor *access.Actor) (Result, error) {
	invoice := uow.Invoice()
	now := s.clock.Now()
	today := s.clock.Today()

	promoted := s.machine.PromoteOverdue(invoice, today)
	if promoted {
		id := invoice.ID
		if err := uow.AppendAudit(ctx, audit.Entry{
			Action:     enums.AuditActionInvoiceOverduePromoted,
			InvoiceID:  &id,
			Source:     event.Source,
			OccurredAt: now,
			Data: map[string]any{
				"dueDate": invoice.DueDate.Format("2006-01-02"),
				"today":   today.Format("2006-01-02"),
			},
		}); err != nil {
			return Result{}, err
		}
	}

	candidate := *invoice
	var (
		outcome    invoices.PaymentOutcome
		transition error
	)
	switch event.Action {
	case enums.ReconciliationActionMarkPaid:
		outcome, transition = s.machine.MarkPaid(&candidate, invoices.PaymentClaim{
			Amount:      *event.PaidAmount,
			PaidAt:      event.AssertedAt,
			UseDiscount: event.UseDiscount,
		}, today)
	case enums.ReconciliationActionCancel:
		transition = s.machine.Cancel(&candidate, event.Reason, now)
	default:
		transition = pkgerrors.New(pkgerrors.CodeValidation, "unsupported action")
	}
	if transition != nil && !recordable(transition) {
		return Result{}, transition
	}

	var result Result
	if transition != nil {
		result = rejectedResult(event, invoice.Status, transition, now)
		if promoted {
			if err := uow.SaveInvoice(ctx, invoice); err != nil {
				return Result{}, err
			}
		}
	} else {
		if err := uow.SaveInvoice(ctx, &candidate); err != nil {
			return Result{}, err
		}
		result = appliedResult(event, candidate, outcome, now)
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return Result{}, err
	}
	if err := uow.InsertRecord(ctx, models.ReconciliationRecord{
		IdempotencyKey: event.IdempotencyKey,
		InvoiceID:      event.InvoiceID,
		Source:         event.Source,
		Action:         event.Action,
		Outcome:        result.Outcome(),
		Result:         payload,
		RecordedAt:     now.UTC(),
	}); err != nil {
		return Result{}, err
	}

	action := enums.AuditActionReconciliationApplied
	if !result.Success {
		action = enums.AuditActionReconciliationRejected
	}
	id := event.InvoiceID
	if err := uow.AppendAudit(ctx, audit.Entry{
		Action:         action,
		InvoiceID:      &id,
		Source:         event.Source,
		Actor:          actorRef(event, actor),
		IdempotencyKey: event.IdempotencyKey,
		OccurredAt:     now,
		Data:           auditData(event, *invoice, candidate, result),
	}); err != nil {
		return Result{}, err
	}
	return result, nil
}

func appliedResult(event Event, invoice models.Invoice, outcome invoices.PaymentOutcome, at time.Time) Result {
	result := Result{
		Success:    true,
		InvoiceID:  invoice.ID,
		Action:     event.Action,
		Status:     invoice.Status,
		RecordedAt: at.UTC(),
	}
	if event.Action == enums.ReconciliationActionMarkPaid {
		paid := outcome.PaidAmount.StringFixed(2)
		discount := outcome.DiscountApplied.StringFixed(2)
		result.PaidAmount = &paid
		result.DiscountApplied = &discount
	}
	return result
}

func (s *Service) replayed(ctx context.Context, event Event, actor *access.Actor, result Result) Result {
	result.Replayed = true
	id := event.InvoiceID
	s.appendBestEffort(ctx, audit.Entry{
		Action:         enums.AuditActionReconciliationReplayed,
		InvoiceID:      &id,
		Source:         event.Source,
		Actor:          actorRef(event, actor),
		IdempotencyKey: event.IdempotencyKey,
		OccurredAt:     s.clock.Now(),
		Data: map[string]any{
			"asserted": asserted(event),
			"outcome":  result.Outcome(),
		},
	})
	return result
}

// auditRefusal notes events refused before any lock was taken.
func (s *Service) auditRefusal(ctx context.Context, event Event, actor *access.Actor, cause error) {
	entry := audit.Entry{
		Action:         enums.AuditActionReconciliationRejected,
		Source:         event.Source,
		Actor:          actorRef(event, actor),
		IdempotencyKey: event.IdempotencyKey,
		OccurredAt:     s.clock.Now(),
		Data: map[string]any{
			"asserted":  asserted(event),
			"errorKind": KindOf(cause),
			"message":   cause.Error(),
		},
	}
	if event.InvoiceID != 0 {
		id := event.InvoiceID
		entry.InvoiceID = &id
	}
	if !entry.Source.IsValid() {
		entry.Source = ""
	}
	s.appendBestEffort(ctx, entry)
}

func (s *Service) appendBestEffort(ctx context.Context, entry audit.Entry) {
	if err := s.sink.Append(context.WithoutCancel(ctx), entry); err != nil {
		s.warn(ctx, "audit append failed", err)
	}
}

func (s *Service) remember(ctx context.Context, key string, result Result) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Put(ctx, key, result); err != nil {
		s.warn(ctx, "replay cache store failed", err)
	}
}

func (s *Service) logOutcome(ctx context.Context, event Event, outcome string, err error) {
	if s.logg == nil {
		return
	}
	logCtx := s.logg.WithInvoiceID(ctx, event.InvoiceID)
	logCtx = s.logg.WithIdempotencyKey(logCtx, event.IdempotencyKey)
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"source": event.Source,
		"action": event.Action,
	})
	msg := "reconciliation." + outcome
	switch outcome {
	case outcomeTransient:
		s.logg.Error(logCtx, msg, err)
	case outcomeApplied, outcomeReplayed:
		s.logg.Info(logCtx, msg)
	default:
		s.logg.Warn(logCtx, msg)
	}
}

func (s *Service) warn(ctx context.Context, msg string, err error) {
	if s.logg == nil {
		return
	}
	s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), msg)
}

func decodeRecord(record models.ReconciliationRecord, event Event) (*Result, error) {
	var result Result
	if err := json.Unmarshal(record.Result, &result); err != nil {
		return nil, fmt.Errorf("decode reconciliation record: %w", err)
	}
	if err := matchesEvent(result, event); err != nil {
		return nil, err
	}
	return &result, nil
}

// matchesEvent rejects an idempotency key reused for a different request.
func matchesEvent(result Result, event Event) error {
	if result.InvoiceID == event.InvoiceID && result.Action == event.Action {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key already used for a different request").
		WithDetails(map[string]any{
			"invoiceId": result.InvoiceID,
			"action":    result.Action,
		})
}

func transient(err error) error {
	if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeDependency {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reconciliation storage unavailable")
}

func actorRef(event Event, actor *access.Actor) *audit.ActorRef {
	if actor != nil {
		return &audit.ActorRef{AdminID: actor.ID, PoloID: actor.PoloID}
	}
	if event.ActorID != nil {
		return &audit.ActorRef{AdminID: *event.ActorID}
	}
	return nil
}

func asserted(event Event) map[string]any {
	values := map[string]any{
		"action":      event.Action,
		"assertedAt":  event.AssertedAt.UTC(),
		"useDiscount": event.UseDiscount,
	}
	if event.AssertedStatus != "" {
		values["status"] = event.AssertedStatus
	}
	if event.PaidAmount != nil {
		values["paidAmount"] = event.PaidAmount.StringFixed(2)
	}
	if event.Reason != "" {
		values["reason"] = event.Reason
	}
	return values
}

func auditData(event Event, before, after models.Invoice, result Result) map[string]any {
	data := map[string]any{
		"asserted":       asserted(event),
		"previousStatus": before.Status,
		"status":         result.Status,
	}
	if result.Success {
		data["discountConsumed"] = after.DiscountConsumed
		if after.PaidAmount != nil {
			data["paidAmount"] = after.PaidAmount.StringFixed(2)
		}
	} else {
		data["errorKind"] = result.ErrorKind
		data["message"] = result.Message
	}
	return data
}
