package access

import (
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/boletos-backend/pkg/enums"
)

// Actor is the admin performing an action. A nil PoloID means the admin is
// not restricted to a single polo.
type Actor struct {
	ID           uuid.UUID
	PoloID       *string
	Superuser    bool
	Capabilities []enums.Capability
}

// Restricted reports whether the actor only sees one polo.
func (a Actor) Restricted() bool {
	if a.Superuser {
		return false
	}
	return a.PoloID != nil && strings.TrimSpace(*a.PoloID) != ""
}
