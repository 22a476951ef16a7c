package invoices

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/boletos-backend/pkg/db/models"
	"github.com/angelmondragon/boletos-backend/pkg/enums"
)

const dateLayout = "2006-01-02"

// CreateInput carries the immutable fields of a new invoice.
type CreateInput struct {
	ReferenceNumber string
	Principal       decimal.Decimal
	DueDate         time.Time
	StudentRef      string
	CourseRef       string
	PoloID          string
	Description     string
	DiscountOffered bool
	DiscountAmount  decimal.Decimal
	// DiscountFloor overrides the configured default when set.
	DiscountFloor *decimal.Decimal
}

// ListInput captures list query parameters.
type ListInput struct {
	Status *enums.InvoiceStatus
	Limit  int
	Cursor string
}

// View is the admin-facing representation of an invoice.
type View struct {
	ID               uint64              `json:"id"`
	ReferenceNumber  string              `json:"referenceNumber"`
	Principal        string              `json:"principal"`
	DueDate          string              `json:"dueDate"`
	StudentRef       string              `json:"studentRef"`
	CourseRef        string              `json:"courseRef"`
	PoloID           string              `json:"poloId"`
	CreatedBy        uuid.UUID           `json:"createdBy"`
	Description      string              `json:"description,omitempty"`
	Status           enums.InvoiceStatus `json:"status"`
	PaidAmount       *string             `json:"paidAmount,omitempty"`
	PaidAt           *time.Time          `json:"paidAt,omitempty"`
	CancelReason     *string             `json:"cancelReason,omitempty"`
	Notes            string              `json:"notes,omitempty"`
	DiscountOffered  bool                `json:"discountOffered"`
	DiscountConsumed bool                `json:"discountConsumed"`
	DiscountAmount   string              `json:"discountAmount"`
	DiscountFloor    string              `json:"discountFloor"`
	Discount         *DiscountView       `json:"discount,omitempty"`
	CreatedAt        time.Time           `json:"createdAt"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}

// DiscountView is the discount evaluation as of the read.
type DiscountView struct {
	Eligible        bool                 `json:"eligible"`
	PayableAmount   string               `json:"payableAmount"`
	AppliedDiscount string               `json:"appliedDiscount"`
	Reason          enums.DiscountReason `json:"reason"`
}

// ListView is a page of invoice views.
type ListView struct {
	Invoices   []View `json:"invoices"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// NewView maps a persisted invoice. The discount block is only filled for open
// invoices.
func NewView(inv models.Invoice, today time.Time) View {
	view := View{
		ID:               inv.ID,
		ReferenceNumber:  inv.ReferenceNumber,
		Principal:        inv.Principal.StringFixed(2),
		DueDate:          inv.DueDate.Format(dateLayout),
		StudentRef:       inv.StudentRef,
		CourseRef:        inv.CourseRef,
		PoloID:           inv.PoloID,
		CreatedBy:        inv.CreatedBy,
		Description:      inv.Description,
		Status:           EffectiveStatus(inv, today),
		PaidAt:           inv.PaidAt,
		CancelReason:     inv.CancelReason,
		Notes:            inv.Notes,
		DiscountOffered:  inv.DiscountOffered,
		DiscountConsumed: inv.DiscountConsumed,
		DiscountAmount:   inv.DiscountAmount.StringFixed(2),
		DiscountFloor:    inv.DiscountFloor.StringFixed(2),
		CreatedAt:        inv.CreatedAt,
		UpdatedAt:        inv.UpdatedAt,
	}
	if inv.PaidAmount != nil {
		paid := inv.PaidAmount.StringFixed(2)
		view.PaidAmount = &paid
	}
	if !inv.Status.IsTerminal() && inv.DiscountOffered {
		eval := EvaluateDiscount(inv, today)
		view.Discount = &DiscountView{
			Eligible:        eval.Eligible,
			PayableAmount:   eval.PayableAmount.StringFixed(2),
			AppliedDiscount: eval.AppliedDiscount.StringFixed(2),
			Reason:          eval.Reason,
		}
	}
	return view
}
