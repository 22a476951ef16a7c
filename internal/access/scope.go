package access

import (
	"strings"

	"github.com/angelmondragon/boletos-backend/pkg/db/models"
	"github.com/angelmondragon/boletos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/boletos-backend/pkg/errors"
)

// Scope decides which invoices an admin may observe or mutate.
type Scope struct{}

// Authorize reports whether actor may act on invoice.
func (Scope) Authorize(actor Actor, invoice models.Invoice) bool {
	if !actor.Restricted() {
		return true
	}
	return strings.TrimSpace(invoice.PoloID) == strings.TrimSpace(*actor.PoloID)
}

// Require is Authorize returning a typed error.
func (s Scope) Require(actor *Actor, invoice models.Invoice) error {
	if actor == nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "actor required")
	}
	if !s.Authorize(*actor, invoice) {
		return pkgerrors.New(pkgerrors.CodeForbidden, "invoice belongs to another polo")
	}
	return nil
}

// Can is the per-action capability check. Superusers hold every capability.
func (Scope) Can(actor Actor, capability enums.Capability) bool {
	if actor.Superuser {
		return true
	}
	for _, held := range actor.Capabilities {
		if held == capability {
			return true
		}
	}
	return false
}

// RequireCapability is Can returning a typed error.
func (s Scope) RequireCapability(actor *Actor, capability enums.Capability) error {
	if actor == nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "actor required")
	}
	if !s.Can(*actor, capability) {
		return pkgerrors.New(pkgerrors.CodeForbidden, "missing permission "+capability.String())
	}
	return nil
}

// PoloRestriction returns the polo list queries must be narrowed to, or nil
// for unrestricted actors.
func (Scope) PoloRestriction(actor Actor) *string {
	if !actor.Restricted() {
		return nil
	}
	polo := strings.TrimSpace(*actor.PoloID)
	return &polo
}
