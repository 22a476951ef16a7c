package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/boletos-backend/api/responses"
	pkgerrors "github.com/angelmondragon/boletos-backend/pkg/errors"
	"github.com/angelmondragon/boletos-backend/pkg/logger"
)

const callbackTokenHeader = "X-Webhook-Token"

type tokenVerifier interface {
	Verify(token string) bool
}

// CallbackToken authenticates the payment processor by its shared secret.
func CallbackToken(verifier tokenVerifier, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimSpace(r.Header.Get(callbackTokenHeader))
			if token == "" {
				token = bearerToken(r.Header.Get("Authorization"))
			}
			if verifier == nil || !verifier.Verify(token) {
				if logg != nil {
					logg.Warn(logg.WithField(r.Context(), "ip", clientIP(r)), "callback.auth.rejected")
				}
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid callback credentials"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
