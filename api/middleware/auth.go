package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/boletos-backend/api/responses"
	"github.com/angelmondragon/boletos-backend/internal/access"
	pkgAuth "github.com/angelmondragon/boletos-backend/pkg/auth"
	"github.com/angelmondragon/boletos-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/boletos-backend/pkg/errors"
	"github.com/angelmondragon/boletos-backend/pkg/logger"
)

// Auth validates an admin bearer token and seeds the request context with the
// resulting actor.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r.Header.Get("Authorization"))
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			actor := &access.Actor{
				ID:           claims.AdminID,
				PoloID:       claims.PoloID,
				Superuser:    claims.Superuser,
				Capabilities: claims.Capabilities,
			}
			ctx := WithActor(r.Context(), actor)
			if logg != nil {
				ctx = logg.WithActorID(ctx, actor.ID.String())
				if actor.PoloID != nil {
					ctx = logg.WithPoloID(ctx, *actor.PoloID)
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(raw string) string {
	token := strings.TrimSpace(raw)
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return token
}
