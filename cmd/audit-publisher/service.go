package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/boletos-backend/internal/audit"
	"github.com/angelmondragon/boletos-backend/pkg/config"
	"github.com/angelmondragon/boletos-backend/pkg/db/models"
	"github.com/angelmondragon/boletos-backend/pkg/logger"
	"github.com/angelmondragon/boletos-backend/pkg/metrics"
)

const (
	defaultBatchSize      = 50
	defaultPollMs         = 500
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

// errUndecodable marks entries whose payload can never be published.
var errUndecodable = errors.New("audit payload is not a valid envelope")

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	AuditPublisher() *gcppubsub.Publisher
}

type auditRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.AuditEntry, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type ServiceParams struct {
	Config     config.AuditRelayConfig
	Logger     *logger.Logger
	DB         dbClient
	PubSub     pubSubClient
	Repository auditRepository
	Publisher  publisher
	Metrics    *metrics.AuditRelayMetrics
}

// Service relays committed audit entries to the audit topic. Entries are
// claimed with SKIP LOCKED so several relays can run side by side.
type Service struct {
	logg         *logger.Logger
	db           dbClient
	repo         auditRepository
	pubsub       pubSubClient
	publisher    publisher
	metrics      *metrics.AuditRelayMetrics
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.PubSub == nil {
		return nil, errors.New("pubsub client is required")
	}
	if params.Repository == nil {
		return nil, errors.New("audit repository is required")
	}

	pub := params.Publisher
	if pub == nil {
		pub = newGCPPublisher(params.PubSub.AuditPublisher())
	}
	if pub == nil {
		return nil, errors.New("audit publisher not configured")
	}

	batch := params.Config.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	pollMs := params.Config.PollIntervalMS
	if pollMs <= 0 {
		pollMs = defaultPollMs
	}
	maxAttempts := params.Config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	return &Service{
		logg:         params.Logger,
		db:           params.DB,
		repo:         params.Repository,
		pubsub:       params.PubSub,
		publisher:    pub,
		metrics:      params.Metrics,
		batchSize:    batch,
		maxAttempts:  maxAttempts,
		pollInterval: time.Duration(pollMs) * time.Millisecond,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	return pingDependency(ctx, s.logg, "pubsub", s.pubsub.Ping)
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	interval := s.pollInterval
	backoff := interval

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "audit publisher context canceled")
			return ctx.Err()
		default:
		}

		processed, err := s.processBatch(ctx)
		if err != nil {
			s.logg.Error(ctx, "audit publisher batch error", err)
			backoff = nextBackoff(backoff, interval, maxBackoff)
			if err := s.sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}

		backoff = interval
		if processed {
			continue
		}
		if err := s.sleep(ctx, withJitter(interval)); err != nil {
			return err
		}
	}
}

func (s *Service) processBatch(ctx context.Context) (bool, error) {
	processed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		entries, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}

		processed = true
		for _, entry := range entries {
			if err := s.handleEntry(ctx, tx, entry); err != nil {
				return err
			}
		}
		return nil
	})
	return processed, err
}

func (s *Service) handleEntry(ctx context.Context, tx *gorm.DB, entry models.AuditEntry) error {
	fields := s.entryFields(entry)

	err := s.publish(ctx, entry)
	if err == nil {
		if markErr := s.repo.MarkPublishedTx(tx, entry.ID); markErr != nil {
			return fmt.Errorf("mark published %s: %w", entry.ID, markErr)
		}
		s.metrics.IncPublished(string(entry.Action))
		s.logg.Info(s.logg.WithFields(ctx, fields), "audit entry published")
		return nil
	}

	if errors.Is(err, errUndecodable) {
		return s.handleTerminal(ctx, tx, entry, err, fields)
	}

	nextAttempt := entry.AttemptCount + 1
	fields["attempt_count"] = nextAttempt
	if nextAttempt >= s.maxAttempts {
		fields["terminal_reason"] = "max_attempts"
		return s.handleTerminal(ctx, tx, entry, fmt.Errorf("max publish attempts reached: %w", err), fields)
	}

	logCtx := s.logg.WithField(s.logg.WithFields(ctx, fields), "error", err.Error())
	s.logg.Warn(logCtx, "audit publish failed")
	s.metrics.IncFailed(false)
	if markErr := s.repo.MarkFailedTx(tx, entry.ID, err); markErr != nil {
		return fmt.Errorf("mark failure %s: %w", entry.ID, markErr)
	}
	return nil
}

// handleTerminal parks the entry with attempt_count at the ceiling so the
// fetch query skips it from now on.
func (s *Service) handleTerminal(ctx context.Context, tx *gorm.DB, entry models.AuditEntry, err error, fields map[string]any) error {
	logCtx := s.logg.WithField(s.logg.WithFields(ctx, fields), "error", err.Error())
	s.logg.Warn(logCtx, "audit entry will not be retried")
	s.metrics.IncFailed(true)
	if markErr := s.repo.MarkTerminalTx(tx, entry.ID, err, s.maxAttempts); markErr != nil {
		return fmt.Errorf("mark terminal %s: %w", entry.ID, markErr)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, entry models.AuditEntry) error {
	var envelope audit.PayloadEnvelope
	if err := json.Unmarshal(entry.Payload, &envelope); err != nil || envelope.EntryID == "" {
		return errUndecodable
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := s.publisher.Publish(publishCtx, &gcppubsub.Message{
		Data:       entry.Payload,
		Attributes: messageAttributes(entry),
	})
	if result == nil {
		return errors.New("publisher returned no result")
	}
	_, err := result.Get(publishCtx)
	return err
}

func messageAttributes(entry models.AuditEntry) map[string]string {
	attrs := map[string]string{
		audit.AttrEntryID:    entry.ID.String(),
		audit.AttrAction:     string(entry.Action),
		audit.AttrOccurredAt: entry.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	if entry.InvoiceID != nil {
		attrs[audit.AttrInvoiceID] = strconv.FormatUint(*entry.InvoiceID, 10)
	}
	if entry.Source != "" {
		attrs[audit.AttrSource] = string(entry.Source)
	}
	if entry.IdempotencyKey != nil {
		attrs[audit.AttrIdempotencyKey] = *entry.IdempotencyKey
	}
	if entry.ActorID != nil {
		attrs[audit.AttrActorID] = entry.ActorID.String()
	}
	return attrs
}

func (s *Service) entryFields(entry models.AuditEntry) map[string]any {
	fields := map[string]any{
		"audit_id":      entry.ID.String(),
		"action":        entry.Action,
		"batch_size":    s.batchSize,
		"attempt_count": entry.AttemptCount,
	}
	if entry.InvoiceID != nil {
		fields["invoice_id"] = *entry.InvoiceID
	}
	if entry.LastError != nil {
		fields["last_error"] = *entry.LastError
	}
	return fields
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(jitterSource.Int63n(int64(jitterWindow)))
}

func newGCPPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return &gcpPublisher{Publisher: p}
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return p.Publisher.Publish(ctx, msg)
}
