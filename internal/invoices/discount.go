package invoices

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/boletos-backend/pkg/db/models"
	"github.com/angelmondragon/boletos-backend/pkg/enums"
)

// DiscountEvaluation is the outcome of the PIX discount policy.
type DiscountEvaluation struct {
	Eligible        bool                 `json:"eligible"`
	PayableAmount   decimal.Decimal      `json:"payableAmount"`
	AppliedDiscount decimal.Decimal      `json:"appliedDiscount"`
	Reason          enums.DiscountReason `json:"reason"`
}

// EvaluateDiscount decides whether the early-payment discount applies to inv
// on the given date. It never mutates the invoice.
//
// The floor clamps the effective discount: the payable amount never drops
// below DiscountFloor, so the applied discount can be smaller than
// DiscountAmount.
func EvaluateDiscount(inv models.Invoice, today time.Time) DiscountEvaluation {
	switch {
	case !inv.DiscountOffered:
		return ineligible(inv, enums.DiscountReasonNotOffered)
	case inv.DiscountConsumed:
		return ineligible(inv, enums.DiscountReasonAlreadyConsumed)
	case inv.Status.IsTerminal():
		return ineligible(inv, enums.DiscountReasonWrongStatus)
	case today.After(dueDate(inv)):
		return ineligible(inv, enums.DiscountReasonPastDue)
	case !inv.DiscountAmount.IsPositive():
		return ineligible(inv, enums.DiscountReasonMisconfiguredAmount)
	case inv.Principal.LessThanOrEqual(inv.DiscountFloor):
		// nothing left to discount above the floor
		return ineligible(inv, enums.DiscountReasonMisconfiguredAmount)
	}

	payable := decimal.Max(inv.Principal.Sub(inv.DiscountAmount), inv.DiscountFloor).Round(2)
	return DiscountEvaluation{
		Eligible:        true,
		PayableAmount:   payable,
		AppliedDiscount: inv.Principal.Sub(payable),
		Reason:          enums.DiscountReasonEligible,
	}
}

func ineligible(inv models.Invoice, reason enums.DiscountReason) DiscountEvaluation {
	return DiscountEvaluation{
		Eligible:        false,
		PayableAmount:   inv.Principal,
		AppliedDiscount: decimal.Zero,
		Reason:          reason,
	}
}
