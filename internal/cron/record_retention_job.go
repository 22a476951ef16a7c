package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/boletos-backend/pkg/logger"
)

const (
	RecordRetentionJobName = "reconciliation-record-retention"
	minimumRecordRetention = 24 * time.Hour
)

type recordPurger interface {
	DeleteRecordedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type purgeObserver interface {
	AddPurged(job string, rows int64)
}

type RecordRetentionJobParams struct {
	Logger    *logger.Logger
	Records   recordPurger
	Retention time.Duration
	Metrics   purgeObserver
	Now       func() time.Time
}

// NewRecordRetentionJob purges idempotency records older than the retention
// window. A replay arriving after that window is treated as a new event.
func NewRecordRetentionJob(params RecordRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Records == nil {
		return nil, fmt.Errorf("record repository required")
	}
	if params.Retention < minimumRecordRetention {
		return nil, fmt.Errorf("retention must be at least %s", minimumRecordRetention)
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &recordRetentionJob{
		logg:      params.Logger,
		records:   params.Records,
		retention: params.Retention,
		metrics:   params.Metrics,
		now:       now,
	}, nil
}

type recordRetentionJob struct {
	logg      *logger.Logger
	records   recordPurger
	retention time.Duration
	metrics   purgeObserver
	now       func() time.Time
}

func (j *recordRetentionJob) Name() string { return RecordRetentionJobName }

func (j *recordRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	deleted, err := j.records.DeleteRecordedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purge reconciliation records: %w", err)
	}
	if j.metrics != nil {
		j.metrics.AddPurged(j.Name(), deleted)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"retention":    j.retention.String(),
		"rows_deleted": deleted,
	})
	j.logg.Info(logCtx, "reconciliation record retention complete")
	return nil
}
