package invoices

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/boletos-backend/pkg/db/models"
	"github.com/angelmondragon/boletos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/boletos-backend/pkg/errors"
)

// Machine enforces the invoice lifecycle:
//
//	pending -> overdue (lazy, date driven)
//	pending|overdue -> paid
//	pending|overdue -> cancelled
//
// paid and cancelled are terminal. Methods mutate the invoice only when the
// transition succeeds.
type Machine struct{}

// PaymentClaim is the payment asserted by a reconciliation event.
type PaymentClaim struct {
	Amount      decimal.Decimal
	PaidAt      time.Time
	UseDiscount bool
}

// PaymentOutcome describes an applied payment.
type PaymentOutcome struct {
	PaidAmount      decimal.Decimal
	DiscountApplied decimal.Decimal
	Discount        *DiscountEvaluation
}

// PromoteOverdue flips a pending invoice to overdue once its due date has
// passed. It reports whether the invoice changed; repeating it is a no-op.
func (Machine) PromoteOverdue(inv *models.Invoice, today time.Time) bool {
	if inv == nil || inv.Status != enums.InvoiceStatusPending {
		return false
	}
	if !today.After(dueDate(*inv)) {
		return false
	}
	inv.Status = enums.InvoiceStatusOverdue
	return true
}

// MarkPaid settles the invoice. A discounted claim must be backed by the
// discount policy; otherwise the claim must cover the full principal.
func (m Machine) MarkPaid(inv *models.Invoice, claim PaymentClaim, today time.Time) (PaymentOutcome, error) {
	if err := m.ensureOpen(inv, enums.InvoiceStatusPaid); err != nil {
		return PaymentOutcome{}, err
	}
	if !claim.Amount.IsPositive() {
		return PaymentOutcome{}, pkgerrors.New(pkgerrors.CodeValidation, "paid amount must be positive")
	}
	if claim.PaidAt.IsZero() {
		return PaymentOutcome{}, pkgerrors.New(pkgerrors.CodeValidation, "paid at is required")
	}

	amountDue := inv.Principal
	outcome := PaymentOutcome{DiscountApplied: decimal.Zero}
	if claim.UseDiscount {
		eval := EvaluateDiscount(*inv, today)
		if !eval.Eligible {
			return PaymentOutcome{}, pkgerrors.New(pkgerrors.CodeDiscountIneligible, discountMessage(eval.Reason)).
				WithDetails(map[string]any{"reason": eval.Reason})
		}
		amountDue = eval.PayableAmount
		outcome.Discount = &eval
		outcome.DiscountApplied = eval.AppliedDiscount
	}

	if claim.Amount.LessThan(amountDue) {
		return PaymentOutcome{}, pkgerrors.Newf(pkgerrors.CodeUnderpayment,
			"paid amount %s is below amount due %s", claim.Amount.StringFixed(2), amountDue.StringFixed(2)).
			WithDetails(map[string]any{
				"amount_due":  amountDue.StringFixed(2),
				"paid_amount": claim.Amount.StringFixed(2),
			})
	}

	paidAmount := claim.Amount
	if claim.UseDiscount {
		paidAmount = amountDue
	}
	paidAt := claim.PaidAt.UTC()

	inv.Status = enums.InvoiceStatusPaid
	inv.PaidAmount = &paidAmount
	inv.PaidAt = &paidAt
	if claim.UseDiscount {
		inv.DiscountConsumed = true
	}
	AppendNote(inv, paidAt, fmt.Sprintf("paid %s", paidAmount.StringFixed(2)))

	outcome.PaidAmount = paidAmount
	return outcome, nil
}

// Cancel closes an open invoice with a mandatory reason.
func (m Machine) Cancel(inv *models.Invoice, reason string, at time.Time) error {
	if err := m.ensureOpen(inv, enums.InvoiceStatusCancelled); err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "cancel reason is required")
	}
	inv.Status = enums.InvoiceStatusCancelled
	inv.CancelReason = &reason
	AppendNote(inv, at, "cancelled: "+reason)
	return nil
}

func (Machine) ensureOpen(inv *models.Invoice, requested enums.InvoiceStatus) error {
	if inv == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	if !inv.Status.IsTerminal() {
		return nil
	}
	return pkgerrors.Newf(pkgerrors.CodeInvalidTransition, "invoice is already %s", inv.Status).
		WithDetails(map[string]any{
			"current_status":   inv.Status,
			"requested_status": requested,
		})
}

// AppendNote adds a timestamped line to the invoice notes.
func AppendNote(inv *models.Invoice, at time.Time, line string) {
	line = strings.TrimSpace(line)
	if inv == nil || line == "" {
		return
	}
	entry := fmt.Sprintf("[%s] %s", at.UTC().Format(time.RFC3339), line)
	if inv.Notes == "" {
		inv.Notes = entry
		return
	}
	inv.Notes = inv.Notes + "\n" + entry
}

func discountMessage(reason enums.DiscountReason) string {
	switch reason {
	case enums.DiscountReasonNotOffered:
		return "discount was not offered for this invoice"
	case enums.DiscountReasonAlreadyConsumed:
		return "discount was already used"
	case enums.DiscountReasonWrongStatus:
		return "discount does not apply to a closed invoice"
	case enums.DiscountReasonPastDue:
		return "discount expired at the due date"
	case enums.DiscountReasonMisconfiguredAmount:
		return "discount amount is misconfigured"
	default:
		return "discount not applicable"
	}
}
