package enums

import "fmt"

// AuditAction classifies entries appended to the audit trail.
type AuditAction string

const (
	AuditActionInvoiceCreated         AuditAction = "invoice.created"
	AuditActionInvoiceOverduePromoted AuditAction = "invoice.overdue_promoted"
	AuditActionReconciliationApplied  AuditAction = "reconciliation.applied"
	AuditActionReconciliationRejected AuditAction = "reconciliation.rejected"
	AuditActionReconciliationReplayed AuditAction = "reconciliation.replayed"
)

var validAuditActions = []AuditAction{
	AuditActionInvoiceCreated,
	AuditActionInvoiceOverduePromoted,
	AuditActionReconciliationApplied,
	AuditActionReconciliationRejected,
	AuditActionReconciliationReplayed,
}

func (a AuditAction) String() string {
	return string(a)
}

func (a AuditAction) IsValid() bool {
	for _, candidate := range validAuditActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAuditAction converts raw input into an AuditAction.
func ParseAuditAction(value string) (AuditAction, error) {
	for _, candidate := range validAuditActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid audit action %q", value)
}
