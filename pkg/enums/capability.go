package enums

// Capability names a single admin permission checked per action.
type Capability string

const (
	CapabilityInvoiceRead     Capability = "boletos:read"
	CapabilityInvoiceCreate   Capability = "boletos:create"
	CapabilityInvoiceMarkPaid Capability = "boletos:mark_paid"
	CapabilityInvoiceCancel   Capability = "boletos:cancel"
)

var validCapabilities = []Capability{
	CapabilityInvoiceRead,
	CapabilityInvoiceCreate,
	CapabilityInvoiceMarkPaid,
	CapabilityInvoiceCancel,
}

func (c Capability) String() string {
	return string(c)
}

// IsValid reports whether the value is a known Capability.
func (c Capability) IsValid() bool {
	for _, candidate := range validCapabilities {
		if candidate == c {
			return true
		}
	}
	return false
}

// CapabilityForAction maps a reconciliation action to the permission it needs.
func CapabilityForAction(action ReconciliationAction) Capability {
	switch action {
	case ReconciliationActionCancel:
		return CapabilityInvoiceCancel
	default:
		return CapabilityInvoiceMarkPaid
	}
}
