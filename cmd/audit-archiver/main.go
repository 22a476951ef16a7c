package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/boletos-backend/internal/audit"
	"github.com/angelmondragon/boletos-backend/pkg/bigquery"
	"github.com/angelmondragon/boletos-backend/pkg/config"
	"github.com/angelmondragon/boletos-backend/pkg/logger"
	"github.com/angelmondragon/boletos-backend/pkg/metrics"
	"github.com/angelmondragon/boletos-backend/pkg/pubsub"
	"github.com/angelmondragon/boletos-backend/pkg/redis"
)

const serviceName = "audit-archiver"

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: serviceName})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)
	cfg.Service.Kind = serviceName

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Environment: cfg.App.Env,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "failed to close redis client", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "failed to close pubsub client", err)
		}
	}()
	requireResource(ctx, logg, "audit subscription", pubsubClient.EnsureAuditSubscription(ctx))

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	requireResource(ctx, logg, "bigquery client", err)
	defer func() {
		if err := bqClient.Close(); err != nil {
			logg.Error(ctx, "failed to close bigquery client", err)
		}
	}()

	subscriber := pubsubClient.AuditSubscriber()
	if subscriber == nil {
		requireResource(ctx, logg, "audit subscription", errors.New("subscription not configured"))
	}

	deduper, err := audit.NewDeduper(redisClient, cfg.AuditRelay.ArchiveDedupe)
	requireResource(ctx, logg, "archive dedupe", err)

	archiver, err := audit.NewArchiver(audit.ArchiverParams{
		Subscription: subscriber,
		Writer:       bqClient,
		Dedupe:       deduper,
		Metrics:      metrics.NewAuditRelayMetrics(prometheus.DefaultRegisterer),
		Logger:       logg,
	})
	requireResource(ctx, logg, "audit archiver", err)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"serviceKind":  cfg.Service.Kind,
		"subscription": cfg.PubSub.AuditSubscription,
	})
	logg.Info(runCtx, "audit archiver ready")

	if err := archiver.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "audit archiver failed", err)
		os.Exit(1)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
