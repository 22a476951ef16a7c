package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/boletos-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	AdminID      uuid.UUID
	PoloID       *string
	Superuser    bool
	Capabilities []enums.Capability
	JTI          string
}

// AccessTokenClaims is the token presented by admin console users. A nil
// PoloID leaves the admin unrestricted across polos.
type AccessTokenClaims struct {
	AdminID      uuid.UUID          `json:"admin_id"`
	PoloID       *string            `json:"polo_id,omitempty"`
	Superuser    bool               `json:"superuser"`
	Capabilities []enums.Capability `json:"capabilities,omitempty"`
	jwt.RegisteredClaims
}

var _ jwt.ClaimsValidator = (*AccessTokenClaims)(nil)

// Validate runs after the registered claims checks on every parse.
func (c *AccessTokenClaims) Validate() error {
	if c.AdminID == uuid.Nil {
		return errors.New("token is missing admin_id")
	}
	if c.PoloID != nil && strings.TrimSpace(*c.PoloID) == "" {
		return errors.New("polo_id must not be blank")
	}
	for _, capability := range c.Capabilities {
		if !capability.IsValid() {
			return fmt.Errorf("unknown capability %q", capability)
		}
	}
	return nil
}
