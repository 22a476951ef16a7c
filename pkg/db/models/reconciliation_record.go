package models

import (
	"encoding/json"
	"time"

	"github.com/angelmondragon/boletos-backend/pkg/enums"
)

// ReconciliationRecord binds an idempotency key to the result it produced.
type ReconciliationRecord struct {
	IdempotencyKey string                      `gorm:"column:idempotency_key;primaryKey"`
	InvoiceID      uint64                      `gorm:"column:invoice_id;not null;index"`
	Source         enums.ReconciliationSource  `gorm:"column:source;not null"`
	Action         enums.ReconciliationAction  `gorm:"column:action;not null"`
	Outcome        enums.ReconciliationOutcome `gorm:"column:outcome;not null"`
	Result         json.RawMessage             `gorm:"column:result;type:jsonb;not null"`
	RecordedAt     time.Time                   `gorm:"column:recorded_at;not null;index"`
}

func (ReconciliationRecord) TableName() string { return "reconciliation_records" }
