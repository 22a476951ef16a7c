package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/angelmondragon/boletos-backend/api"
	"github.com/angelmondragon/boletos-backend/api/routes"
	"github.com/angelmondragon/boletos-backend/internal/audit"
	"github.com/angelmondragon/boletos-backend/internal/invoices"
	"github.com/angelmondragon/boletos-backend/internal/reconciliation"
	"github.com/angelmondragon/boletos-backend/pkg/config"
	"github.com/angelmondragon/boletos-backend/pkg/db"
	"github.com/angelmondragon/boletos-backend/pkg/logger"
	"github.com/angelmondragon/boletos-backend/pkg/metrics"
	"github.com/angelmondragon/boletos-backend/pkg/migrate"
	"github.com/angelmondragon/boletos-backend/pkg/redis"
	"github.com/angelmondragon/boletos-backend/pkg/security"
)

const (
	serviceName     = "api"
	shutdownTimeout = 20 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(context.Background(), logg, "config", err)
	cfg.Service.Kind = serviceName

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Environment: cfg.App.Env,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	requireResource(context.Background(), logg, "database", err)

	requireResource(context.Background(), logg, "dev migrations", migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient))

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	requireResource(context.Background(), logg, "redis", err)

	verifier, err := security.NewSecretVerifier(cfg.Callback.SecretHash)
	requireResource(context.Background(), logg, "callback secret", err)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	clock := invoices.NewClock(cfg.Reconciliation.Location(), nil)
	auditService := audit.NewService(audit.NewRepository(dbClient.DB()), dbClient, logg, cfg.Reconciliation.AuditTimeout)
	invoiceRepo := invoices.NewRepository(dbClient.DB())

	invoiceService, err := invoices.NewService(invoices.ServiceParams{
		Repo:          invoiceRepo,
		Tx:            dbClient,
		Audit:         auditService,
		Clock:         clock,
		DiscountFloor: cfg.Reconciliation.DiscountFloor(),
		Logger:        logg,
	})
	requireResource(context.Background(), logg, "invoice service", err)

	store, err := reconciliation.NewGormStore(dbClient, invoiceRepo, reconciliation.NewRecordRepository(dbClient.DB()), auditService)
	requireResource(context.Background(), logg, "reconciliation store", err)

	reconService, err := reconciliation.NewService(reconciliation.ServiceParams{
		Store:          store,
		Audit:          auditService,
		Cache:          reconciliation.NewRedisReplayCache(redisClient, cfg.Reconciliation.ReplayCacheTTL),
		Clock:          clock,
		StorageTimeout: cfg.Reconciliation.StorageTimeout,
		Metrics:        metrics.NewReconciliationMetrics(registry),
		Logger:         logg,
	})
	requireResource(context.Background(), logg, "reconciliation service", err)

	handler := routes.NewRouter(cfg, logg, routes.Deps{
		DB:               dbClient,
		Redis:            redisClient,
		Invoices:         invoiceService,
		Manual:           reconciliation.NewManualAdapter(reconService, clock),
		Callback:         reconciliation.NewCallbackAdapter(reconService, reconciliation.NewInvoiceReferenceResolver(invoiceRepo), auditService, logg),
		CallbackVerifier: verifier,
		Metrics:          registry,
	})
	server := api.NewServer(cfg, handler)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"addr": server.Addr,
	})

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	exitCode := 0
	select {
	case err := <-serveErr:
		if err != nil {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			exitCode = 1
		}
	case <-ctx.Done():
		logg.Info(ctx, "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	err = multierr.Combine(
		server.Shutdown(shutdownCtx),
		redisClient.Close(),
		dbClient.Close(),
	)
	if err != nil {
		logg.Error(shutdownCtx, "api shutdown incomplete", err)
		exitCode = 1
	}
	logg.Info(shutdownCtx, "api server stopped")
	os.Exit(exitCode)
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
