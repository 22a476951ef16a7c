package reconciliation

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/boletos-backend/pkg/db"
	"github.com/angelmondragon/boletos-backend/pkg/db/models"
)

// RecordRepository persists idempotency records.
type RecordRepository interface {
	WithTx(tx *gorm.DB) RecordRepository
	Find(ctx context.Context, key string) (*models.ReconciliationRecord, error)
	Insert(ctx context.Context, record models.ReconciliationRecord) error
	DeleteRecordedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type recordRepository struct {
	db *gorm.DB
}

// NewRecordRepository builds a record repository bound to conn.
func NewRecordRepository(conn *gorm.DB) RecordRepository {
	return &recordRepository{db: conn}
}

func (r *recordRepository) WithTx(tx *gorm.DB) RecordRepository {
	if tx == nil {
		return r
	}
	return &recordRepository{db: tx}
}

func (r *recordRepository) Find(ctx context.Context, key string) (*models.ReconciliationRecord, error) {
	var record models.ReconciliationRecord
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Insert is insert-if-absent: a taken key yields ErrDuplicateRecord.
func (r *recordRepository) Insert(ctx context.Context, record models.ReconciliationRecord) error {
	err := r.db.WithContext(ctx).Create(&record).Error
	if err != nil && db.IsUniqueViolation(err, "") {
		return ErrDuplicateRecord
	}
	return err
}

func (r *recordRepository) DeleteRecordedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("recorded_at < ?", cutoff).
		Delete(&models.ReconciliationRecord{})
	return res.RowsAffected, res.Error
}
