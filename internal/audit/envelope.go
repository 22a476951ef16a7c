package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActorRef identifies the admin behind a manual action.
type ActorRef struct {
	AdminID uuid.UUID `json:"adminId"`
	PoloID  *string   `json:"poloId,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in audit_entries and
// published to the audit topic.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EntryID    string          `json:"entryId"`
	Action     string          `json:"action"`
	InvoiceID  *uint64         `json:"invoiceId,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// Pub/Sub message attributes set by the relay.
const (
	AttrEntryID        = "entry_id"
	AttrAction         = "action"
	AttrInvoiceID      = "invoice_id"
	AttrSource         = "source"
	AttrIdempotencyKey = "idempotency_key"
	AttrActorID        = "actor_id"
	AttrOccurredAt     = "occurred_at"
)
