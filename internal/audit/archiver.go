package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/boletos-backend/pkg/bigquery"
	"github.com/angelmondragon/boletos-backend/pkg/logger"
	"github.com/angelmondragon/boletos-backend/pkg/metrics"
)

const archiveConsumerName = "bigquery-archive"

const (
	archiveInserted  = "inserted"
	archiveDuplicate = "duplicate"
	archiveMalformed = "malformed"
	archiveError     = "error"
)

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

type rowWriter interface {
	InsertAuditRows(ctx context.Context, rows []bigquery.AuditRow) error
}

type dedupeChecker interface {
	CheckAndMark(ctx context.Context, consumer string, entryID uuid.UUID) (bool, error)
	Release(ctx context.Context, consumer string, entryID uuid.UUID) error
}

type ArchiverParams struct {
	Subscription receiver
	Writer       rowWriter
	Dedupe       dedupeChecker
	Metrics      *metrics.AuditRelayMetrics
	Logger       *logger.Logger
	Now          func() time.Time
}

// Archiver copies audit messages from Pub/Sub into BigQuery, at most once per
// entry within the dedupe window.
type Archiver struct {
	subscription receiver
	writer       rowWriter
	dedupe       dedupeChecker
	metrics      *metrics.AuditRelayMetrics
	logg         *logger.Logger
	now          func() time.Time
}

func NewArchiver(params ArchiverParams) (*Archiver, error) {
	if params.Subscription == nil {
		return nil, errors.New("audit subscription is required")
	}
	if params.Writer == nil {
		return nil, errors.New("archive writer is required")
	}
	if params.Dedupe == nil {
		return nil, errors.New("dedupe store is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Archiver{
		subscription: params.Subscription,
		writer:       params.Writer,
		dedupe:       params.Dedupe,
		metrics:      params.Metrics,
		logg:         params.Logger,
		now:          now,
	}, nil
}

// Run receives messages until ctx is canceled.
func (a *Archiver) Run(ctx context.Context) error {
	return a.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		if a.process(innerCtx, msg) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// process reports whether the message should be acked.
func (a *Archiver) process(ctx context.Context, msg *gcppubsub.Message) bool {
	logCtx := a.logg.WithField(ctx, "message_id", msg.ID)

	row, entryID, err := buildRow(msg, a.now())
	if err != nil {
		a.logg.Warn(a.logg.WithField(logCtx, "error", err.Error()), "invalid audit message")
		a.metrics.IncArchived(archiveMalformed)
		return true
	}
	logCtx = a.logg.WithFields(logCtx, map[string]any{
		"audit_id": row.EntryID,
		"action":   row.Action,
	})

	already, err := a.dedupe.CheckAndMark(logCtx, archiveConsumerName, entryID)
	if err != nil {
		a.logg.Error(logCtx, "audit archive dedupe check failed", err)
		a.metrics.IncArchived(archiveError)
		return false
	}
	if already {
		a.logg.Info(logCtx, "audit entry already archived")
		a.metrics.IncArchived(archiveDuplicate)
		return true
	}

	if err := a.writer.InsertAuditRows(logCtx, []bigquery.AuditRow{row}); err != nil {
		a.logg.Error(logCtx, "audit archive insert failed", err)
		if releaseErr := a.dedupe.Release(logCtx, archiveConsumerName, entryID); releaseErr != nil {
			a.logg.Error(logCtx, "audit archive dedupe release failed", releaseErr)
		}
		a.metrics.IncArchived(archiveError)
		return false
	}

	a.metrics.IncArchived(archiveInserted)
	a.logg.Info(logCtx, "audit entry archived")
	return true
}

func buildRow(msg *gcppubsub.Message, archivedAt time.Time) (bigquery.AuditRow, uuid.UUID, error) {
	var envelope PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		return bigquery.AuditRow{}, uuid.Nil, fmt.Errorf("decode audit envelope: %w", err)
	}

	rawID := strings.TrimSpace(envelope.EntryID)
	if rawID == "" {
		rawID = strings.TrimSpace(msg.Attributes[AttrEntryID])
	}
	entryID, err := uuid.Parse(rawID)
	if err != nil {
		return bigquery.AuditRow{}, uuid.Nil, fmt.Errorf("entry id: %w", err)
	}
	if strings.TrimSpace(envelope.Action) == "" {
		return bigquery.AuditRow{}, uuid.Nil, errors.New("action missing")
	}

	occurredAt := envelope.OccurredAt
	if occurredAt.IsZero() {
		if parsed, err := time.Parse(time.RFC3339Nano, msg.Attributes[AttrOccurredAt]); err == nil {
			occurredAt = parsed
		}
	}

	row := bigquery.AuditRow{
		EntryID:        entryID.String(),
		Action:         envelope.Action,
		Source:         strings.TrimSpace(msg.Attributes[AttrSource]),
		IdempotencyKey: strings.TrimSpace(msg.Attributes[AttrIdempotencyKey]),
		Payload:        string(msg.Data),
		OccurredAt:     occurredAt.UTC(),
		ArchivedAt:     archivedAt.UTC(),
	}

	switch {
	case envelope.InvoiceID != nil:
		row.InvoiceID = int64(*envelope.InvoiceID)
		row.HasInvoice = true
	case msg.Attributes[AttrInvoiceID] != "":
		id, err := strconv.ParseUint(msg.Attributes[AttrInvoiceID], 10, 64)
		if err != nil {
			return bigquery.AuditRow{}, uuid.Nil, fmt.Errorf("invoice id: %w", err)
		}
		row.InvoiceID = int64(id)
		row.HasInvoice = true
	}

	if envelope.Actor != nil && envelope.Actor.AdminID != uuid.Nil {
		row.ActorID = envelope.Actor.AdminID.String()
	} else {
		row.ActorID = strings.TrimSpace(msg.Attributes[AttrActorID])
	}
	return row, entryID, nil
}
