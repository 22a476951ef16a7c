package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/boletos-backend/pkg/enums"
)

// Invoice is a boleto issued to a student for a course.
type Invoice struct {
	ID              uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	ReferenceNumber string          `gorm:"column:reference_number;not null;uniqueIndex"`
	Principal       decimal.Decimal `gorm:"column:principal;type:numeric(12,2);not null"`
	DueDate         time.Time       `gorm:"column:due_date;type:date;not null"`
	StudentRef      string          `gorm:"column:student_ref;not null"`
	CourseRef       string          `gorm:"column:course_ref;not null"`
	PoloID          string          `gorm:"column:polo_id;not null;index"`
	CreatedBy       uuid.UUID       `gorm:"column:created_by;type:uuid;not null"`
	Description     string          `gorm:"column:description;not null;default:''"`

	Status       enums.InvoiceStatus `gorm:"column:status;type:invoice_status;not null;default:'pending'"`
	PaidAmount   *decimal.Decimal    `gorm:"column:paid_amount;type:numeric(12,2)"`
	PaidAt       *time.Time          `gorm:"column:paid_at"`
	CancelReason *string             `gorm:"column:cancel_reason"`
	Notes        string              `gorm:"column:notes;not null;default:''"`

	DiscountOffered  bool            `gorm:"column:discount_offered;not null;default:false"`
	DiscountConsumed bool            `gorm:"column:discount_consumed;not null;default:false"`
	DiscountAmount   decimal.Decimal `gorm:"column:discount_amount;type:numeric(12,2);not null;default:0"`
	DiscountFloor    decimal.Decimal `gorm:"column:discount_floor;type:numeric(12,2);not null"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Invoice) TableName() string { return "invoices" }
