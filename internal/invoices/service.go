package invoices

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/boletos-backend/internal/access"
	"github.com/angelmondragon/boletos-backend/internal/audit"
	"github.com/angelmondragon/boletos-backend/pkg/db"
	"github.com/angelmondragon/boletos-backend/pkg/db/models"
	"github.com/angelmondragon/boletos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/boletos-backend/pkg/errors"
	"github.com/angelmondragon/boletos-backend/pkg/logger"
	"github.com/angelmondragon/boletos-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type auditRecorder interface {
	Record(ctx context.Context, tx *gorm.DB, entry audit.Entry) error
}

// Service exposes invoice creation and scoped reads.
type Service interface {
	Create(ctx context.Context, actor *access.Actor, input CreateInput) (*View, error)
	Get(ctx context.Context, actor *access.Actor, id uint64) (*View, error)
	List(ctx context.Context, actor *access.Actor, input ListInput) (*ListView, error)
}

// ServiceParams groups the invoice service dependencies.
type ServiceParams struct {
	Repo          Repository
	Tx            txRunner
	Audit         auditRecorder
	Clock         Clock
	DiscountFloor decimal.Decimal
	Logger        *logger.Logger
}

type service struct {
	repo          Repository
	tx            txRunner
	audit         auditRecorder
	scope         access.Scope
	clock         Clock
	discountFloor decimal.Decimal
	logg          *logger.Logger
}

// NewService builds the invoice service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("invoice repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	if params.DiscountFloor.IsNegative() {
		return nil, fmt.Errorf("discount floor must not be negative")
	}
	return &service{
		repo:          params.Repo,
		tx:            params.Tx,
		audit:         params.Audit,
		clock:         params.Clock,
		discountFloor: params.DiscountFloor,
		logg:          params.Logger,
	}, nil
}

func (s *service) Create(ctx context.Context, actor *access.Actor, input CreateInput) (*View, error) {
	if err := s.scope.RequireCapability(actor, enums.CapabilityInvoiceCreate); err != nil {
		return nil, err
	}
	invoice, err := s.buildInvoice(*actor, input)
	if err != nil {
		return nil, err
	}
	if err := s.scope.Require(actor, *invoice); err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, invoice); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "reference number already exists")
			}
			return err
		}
		id := invoice.ID
		return s.audit.Record(ctx, tx, audit.Entry{
			Action:     enums.AuditActionInvoiceCreated,
			InvoiceID:  &id,
			Actor:      actorRef(*actor),
			OccurredAt: invoice.CreatedAt,
			Data: map[string]any{
				"referenceNumber": invoice.ReferenceNumber,
				"principal":       invoice.Principal.StringFixed(2),
				"dueDate":         invoice.DueDate.Format(dateLayout),
				"discountOffered": invoice.DiscountOffered,
				"discountAmount":  invoice.DiscountAmount.StringFixed(2),
				"discountFloor":   invoice.DiscountFloor.StringFixed(2),
			},
		})
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithInvoiceID(ctx, invoice.ID)
		s.logg.Info(logCtx, "invoice created")
	}
	view := NewView(*invoice, s.clock.Today())
	return &view, nil
}

func (s *service) buildInvoice(actor access.Actor, input CreateInput) (*models.Invoice, error) {
	details := map[string]string{}
	if !input.Principal.IsPositive() {
		details["principal"] = "must be positive"
	}
	if input.DueDate.IsZero() {
		details["dueDate"] = "is required"
	}
	if strings.TrimSpace(input.StudentRef) == "" {
		details["studentRef"] = "is required"
	}
	if strings.TrimSpace(input.CourseRef) == "" {
		details["courseRef"] = "is required"
	}
	if strings.TrimSpace(input.PoloID) == "" {
		details["poloId"] = "is required"
	}
	if input.DiscountAmount.IsNegative() {
		details["discountAmount"] = "must not be negative"
	}
	if input.DiscountOffered && !input.DiscountAmount.IsPositive() {
		details["discountAmount"] = "must be positive when a discount is offered"
	}
	floor := s.discountFloor
	if input.DiscountFloor != nil {
		floor = *input.DiscountFloor
		if floor.IsNegative() {
			details["discountFloor"] = "must not be negative"
		}
	}
	if len(details) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid invoice").WithDetails(details)
	}

	reference := strings.TrimSpace(input.ReferenceNumber)
	if reference == "" {
		reference = NewReferenceNumber(s.clock.Now())
	}
	now := s.clock.Now()
	return &models.Invoice{
		ReferenceNumber: reference,
		Principal:       input.Principal.Round(2),
		DueDate:         DateOf(input.DueDate, time.UTC),
		StudentRef:      strings.TrimSpace(input.StudentRef),
		CourseRef:       strings.TrimSpace(input.CourseRef),
		PoloID:          strings.TrimSpace(input.PoloID),
		CreatedBy:       actor.ID,
		Description:     strings.TrimSpace(input.Description),
		Status:          enums.InvoiceStatusPending,
		DiscountOffered: input.DiscountOffered,
		DiscountAmount:  input.DiscountAmount.Round(2),
		DiscountFloor:   floor.Round(2),
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

func (s *service) Get(ctx context.Context, actor *access.Actor, id uint64) (*View, error) {
	if err := s.scope.RequireCapability(actor, enums.CapabilityInvoiceRead); err != nil {
		return nil, err
	}
	invoice, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.scope.Require(actor, *invoice); err != nil {
		return nil, err
	}

	today := s.clock.Today()
	if invoice.Status == enums.InvoiceStatusPending && IsOverdue(*invoice, today) {
		if err := s.promote(ctx, invoice, today); err != nil {
			return nil, err
		}
	}
	view := NewView(*invoice, today)
	return &view, nil
}

// promote persists the overdue status. Only the caller that actually flips
// the row writes the audit entry; everyone else reloads the row, which may
// have been paid or cancelled since it was read.
func (s *service) promote(ctx context.Context, invoice *models.Invoice, today time.Time) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		changed, err := repo.PromoteOverdue(ctx, invoice.ID, today)
		if err != nil {
			return err
		}
		if !changed {
			current, err := repo.FindByID(ctx, invoice.ID)
			if err != nil {
				return err
			}
			*invoice = *current
			return nil
		}
		invoice.Status = enums.InvoiceStatusOverdue
		id := invoice.ID
		return s.audit.Record(ctx, tx, audit.Entry{
			Action:     enums.AuditActionInvoiceOverduePromoted,
			InvoiceID:  &id,
			OccurredAt: s.clock.Now(),
			Data: map[string]any{
				"dueDate": invoice.DueDate.Format(dateLayout),
				"today":   today.Format(dateLayout),
			},
		})
	})
}

func (s *service) List(ctx context.Context, actor *access.Actor, input ListInput) (*ListView, error) {
	if err := s.scope.RequireCapability(actor, enums.CapabilityInvoiceRead); err != nil {
		return nil, err
	}
	filter := FilterFor(s.scope, *actor)
	filter.Status = input.Status

	// Pending invoices past their due date surface as overdue when filtering.
	if input.Status != nil && *input.Status == enums.InvoiceStatusOverdue {
		filter.IncludeLapsedPending = true
		filter.Today = s.clock.Today()
	}

	list, err := s.repo.List(ctx, filter, pagination.Params{Limit: input.Limit, Cursor: input.Cursor})
	if err != nil {
		return nil, err
	}
	today := s.clock.Today()
	out := &ListView{Invoices: make([]View, 0, len(list.Invoices)), NextCursor: list.NextCursor}
	for _, inv := range list.Invoices {
		out.Invoices = append(out.Invoices, NewView(inv, today))
	}
	return out, nil
}

// FilterFor narrows list queries to what actor may see.
func FilterFor(scope access.Scope, actor access.Actor) ListFilter {
	return ListFilter{PoloID: scope.PoloRestriction(actor)}
}

// NewReferenceNumber builds a display reference such as BOL-20240131-1A2B3C4D.
func NewReferenceNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("BOL-%s-%s", now.UTC().Format("20060102"), suffix)
}

func actorRef(actor access.Actor) *audit.ActorRef {
	return &audit.ActorRef{AdminID: actor.ID, PoloID: actor.PoloID}
}
