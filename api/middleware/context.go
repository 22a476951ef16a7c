package middleware

import (
	"context"

	"github.com/angelmondragon/boletos-backend/internal/access"
)

type contextKey string

const (
	ctxActor          contextKey = "actor"
	ctxIdempotencyKey contextKey = "idempotency_key"
)

// ActorFromContext returns the authenticated admin, or nil for anonymous requests.
func ActorFromContext(ctx context.Context) *access.Actor {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxActor).(*access.Actor); ok {
		return v
	}
	return nil
}

// WithActor injects the authenticated admin into the context.
func WithActor(ctx context.Context, actor *access.Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxActor, actor)
}

func IdempotencyKeyFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxIdempotencyKey).(string); ok {
		return v
	}
	return ""
}

func withIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ctxIdempotencyKey, key)
}
