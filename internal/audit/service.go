package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/boletos-backend/pkg/db/models"
	"github.com/angelmondragon/boletos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/boletos-backend/pkg/errors"
	"github.com/angelmondragon/boletos-backend/pkg/logger"
)

const (
	envelopeVersion      = 1
	defaultAppendTimeout = 2 * time.Second
)

// Entry is a lifecycle fact to append to the trail.
type Entry struct {
	Action         enums.AuditAction
	InvoiceID      *uint64
	Source         enums.ReconciliationSource
	Actor          *ActorRef
	IdempotencyKey string
	Data           any
	OccurredAt     time.Time
}

// Sink appends entries outside of any invoice transaction.
type Sink interface {
	Append(ctx context.Context, entry Entry) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type Service struct {
	repo    *Repository
	db      txRunner
	logg    *logger.Logger
	timeout time.Duration
}

func NewService(repo *Repository, db txRunner, logg *logger.Logger, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = defaultAppendTimeout
	}
	return &Service{repo: repo, db: db, logg: logg, timeout: timeout}
}

// Record stages the entry inside tx so it commits with the invoice change.
func (s *Service) Record(ctx context.Context, tx *gorm.DB, entry Entry) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	row, err := BuildRow(entry)
	if err != nil {
		return err
	}
	if err := s.repo.Insert(ctx, tx, row); err != nil {
		return err
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"audit_id":     row.ID.String(),
			"audit_action": row.Action,
		})
		s.logg.Info(logCtx, "audit entry queued")
	}
	return nil
}

// Append writes the entry in its own transaction bounded by the configured
// timeout. A timeout surfaces as a retryable dependency error.
func (s *Service) Append(ctx context.Context, entry Entry) error {
	if s.db == nil {
		return errors.New("audit sink has no database")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	appendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err := s.db.WithTx(appendCtx, func(tx *gorm.DB) error {
		return s.Record(appendCtx, tx, entry)
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append audit entry")
	}
	return nil
}

// BuildRow renders an entry into its persisted form.
func BuildRow(entry Entry) (models.AuditEntry, error) {
	if !entry.Action.IsValid() {
		return models.AuditEntry{}, errors.New("audit action is invalid")
	}
	occurredAt := entry.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	occurredAt = occurredAt.UTC()

	data, err := json.Marshal(entry.Data)
	if err != nil {
		return models.AuditEntry{}, err
	}
	id := uuid.New()
	envelope := PayloadEnvelope{
		Version:    envelopeVersion,
		EntryID:    id.String(),
		Action:     entry.Action.String(),
		InvoiceID:  entry.InvoiceID,
		OccurredAt: occurredAt,
		Actor:      entry.Actor,
		Data:       data,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return models.AuditEntry{}, err
	}

	row := models.AuditEntry{
		ID:         id,
		InvoiceID:  entry.InvoiceID,
		Action:     entry.Action,
		Source:     entry.Source,
		Payload:    json.RawMessage(payload),
		OccurredAt: occurredAt,
	}
	if entry.Actor != nil {
		actorID := entry.Actor.AdminID
		row.ActorID = &actorID
	}
	if entry.IdempotencyKey != "" {
		key := entry.IdempotencyKey
		row.IdempotencyKey = &key
	}
	return row, nil
}
