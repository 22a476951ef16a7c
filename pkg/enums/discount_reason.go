package enums

// DiscountReason explains a discount evaluation. The values are part of the
// public reconciliation response.
type DiscountReason string

const (
	DiscountReasonEligible            DiscountReason = "eligible"
	DiscountReasonNotOffered          DiscountReason = "not_offered"
	DiscountReasonAlreadyConsumed     DiscountReason = "already_consumed"
	DiscountReasonWrongStatus         DiscountReason = "wrong_status"
	DiscountReasonPastDue             DiscountReason = "past_due"
	DiscountReasonMisconfiguredAmount DiscountReason = "misconfigured_amount"
)

func (r DiscountReason) String() string {
	return string(r)
}
