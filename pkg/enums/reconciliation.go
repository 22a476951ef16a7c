package enums

import "fmt"

// ReconciliationSource identifies which entry point produced an event.
type ReconciliationSource string

const (
	ReconciliationSourceManual   ReconciliationSource = "manual"
	ReconciliationSourceCallback ReconciliationSource = "callback"
)

var validReconciliationSources = []ReconciliationSource{
	ReconciliationSourceManual,
	ReconciliationSourceCallback,
}

func (s ReconciliationSource) String() string {
	return string(s)
}

func (s ReconciliationSource) IsValid() bool {
	for _, candidate := range validReconciliationSources {
		if candidate == s {
			return true
		}
	}
	return false
}

// ReconciliationAction is the transition an event asks for.
type ReconciliationAction string

const (
	ReconciliationActionMarkPaid ReconciliationAction = "mark_paid"
	ReconciliationActionCancel   ReconciliationAction = "cancel"
)

var validReconciliationActions = []ReconciliationAction{
	ReconciliationActionMarkPaid,
	ReconciliationActionCancel,
}

func (a ReconciliationAction) String() string {
	return string(a)
}

func (a ReconciliationAction) IsValid() bool {
	for _, candidate := range validReconciliationActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// TargetStatus returns the status the action asserts.
func (a ReconciliationAction) TargetStatus() InvoiceStatus {
	switch a {
	case ReconciliationActionMarkPaid:
		return InvoiceStatusPaid
	case ReconciliationActionCancel:
		return InvoiceStatusCancelled
	default:
		return ""
	}
}

// ParseReconciliationAction converts raw input into a ReconciliationAction.
func ParseReconciliationAction(value string) (ReconciliationAction, error) {
	for _, candidate := range validReconciliationActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid reconciliation action %q", value)
}

// ReconciliationOutcome is persisted alongside each idempotency key.
type ReconciliationOutcome string

const (
	ReconciliationOutcomeApplied  ReconciliationOutcome = "applied"
	ReconciliationOutcomeRejected ReconciliationOutcome = "rejected"
)

func (o ReconciliationOutcome) String() string {
	return string(o)
}
