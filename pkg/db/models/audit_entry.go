package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/boletos-backend/pkg/enums"
)

// AuditEntry is an append-only record of an invoice lifecycle fact. Rows are
// relayed to Pub/Sub by the audit publisher.
type AuditEntry struct {
	ID             uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	InvoiceID      *uint64                    `gorm:"column:invoice_id;index"`
	Action         enums.AuditAction          `gorm:"column:action;not null"`
	Source         enums.ReconciliationSource `gorm:"column:source"`
	ActorID        *uuid.UUID                 `gorm:"column:actor_id;type:uuid"`
	IdempotencyKey *string                    `gorm:"column:idempotency_key"`
	Payload        json.RawMessage            `gorm:"column:payload;type:jsonb;not null"`
	OccurredAt     time.Time                  `gorm:"column:occurred_at;not null"`
	PublishedAt    *time.Time                 `gorm:"column:published_at"`
	AttemptCount   int                        `gorm:"column:attempt_count;not null;default:0"`
	LastError      *string                    `gorm:"column:last_error"`
}

func (AuditEntry) TableName() string { return "audit_entries" }
