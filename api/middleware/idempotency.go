package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/boletos-backend/api/responses"
	pkgerrors "github.com/angelmondragon/boletos-backend/pkg/errors"
	"github.com/angelmondragon/boletos-backend/pkg/logger"
)

const (
	idempotencyHeader    = "Idempotency-Key"
	maxIdempotencyKeyLen = 128
)

// IdempotencyKey captures the optional client supplied key for manual actions.
// Requests without the header pass through untouched.
func IdempotencyKey(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKeyLen || strings.ContainsAny(key, " \t\r\n") {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid idempotency key").
					WithDetails(map[string]any{"header": idempotencyHeader}))
				return
			}
			ctx := withIdempotencyKey(r.Context(), key)
			if logg != nil {
				ctx = logg.WithIdempotencyKey(ctx, key)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
