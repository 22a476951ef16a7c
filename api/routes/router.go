package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/boletos-backend/api/controllers"
	invoicecontrollers "github.com/angelmondragon/boletos-backend/api/controllers/invoices"
	reconcontrollers "github.com/angelmondragon/boletos-backend/api/controllers/reconciliation"
	webhookcontrollers "github.com/angelmondragon/boletos-backend/api/controllers/webhooks"
	"github.com/angelmondragon/boletos-backend/api/middleware"
	"github.com/angelmondragon/boletos-backend/pkg/config"
	"github.com/angelmondragon/boletos-backend/pkg/logger"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// RedisClient is the Redis surface the router needs: readiness and rate limits.
type RedisClient interface {
	pinger
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

type secretVerifier interface {
	Verify(token string) bool
}

// Deps groups what the HTTP surface is wired to.
type Deps struct {
	DB               pinger
	Redis            RedisClient
	Invoices         invoicecontrollers.Service
	Manual           reconcontrollers.Submitter
	Callback         webhookcontrollers.CallbackHandler
	CallbackVerifier secretVerifier
	Metrics          prometheus.Gatherer
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	callbackPolicy := middleware.NewRateLimitPolicy(
		"callback",
		cfg.Callback.RateLimitWindow,
		cfg.Callback.RateLimitPerIP,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DB, deps.Redis))
	})

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Use(middleware.RateLimit(callbackPolicy, deps.Redis, logg))
		r.Use(middleware.CallbackToken(deps.CallbackVerifier, logg))
		r.Post("/payments", webhookcontrollers.PaymentCallback(deps.Callback, logg))
	})

	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Use(middleware.CORS(cfg.App.CORSAllowedOrigins))
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", invoicecontrollers.InvoiceList(deps.Invoices, logg))
			r.Post("/", invoicecontrollers.InvoiceCreate(deps.Invoices, logg))
			r.Get("/{invoiceId}", invoicecontrollers.InvoiceGet(deps.Invoices, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.IdempotencyKey(logg))
				r.Post("/{invoiceId}/mark-paid", reconcontrollers.MarkPaid(deps.Manual, deps.Invoices, logg))
				r.Post("/{invoiceId}/cancel", reconcontrollers.Cancel(deps.Manual, deps.Invoices, logg))
			})
		})
	})

	return r
}
