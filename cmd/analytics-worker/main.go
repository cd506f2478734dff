package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/adtrail-backend/internal/analytics/router"
	"github.com/angelmondragon/adtrail-backend/internal/analytics/worker"
	"github.com/angelmondragon/adtrail-backend/internal/analytics/writer"
	"github.com/angelmondragon/adtrail-backend/pkg/bigquery"
	"github.com/angelmondragon/adtrail-backend/pkg/config"
	"github.com/angelmondragon/adtrail-backend/pkg/logger"
	"github.com/angelmondragon/adtrail-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/adtrail-backend/pkg/pubsub"
	"github.com/angelmondragon/adtrail-backend/pkg/redis"
)

const (
	serviceName       = "analytics-worker"
	analyticsConsumer = "analytics"
	flushTimeout      = 10 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "unable to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceName
	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":          cfg.App.Env,
		"serviceKind":  serviceName,
		"subscription": cfg.PubSub.AnalyticsSubscription,
	})

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "analytics worker failed", err)
		stop()
		os.Exit(1)
	}
	logg.Info(ctx, "analytics worker stopped")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return initErr("redis", err)
	}
	defer closeWith(ctx, logg, "redis client", redisClient.Close)

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg, pubsub.Requirements{
		Subscriptions: []string{cfg.PubSub.AnalyticsSubscription},
	})
	if err != nil {
		return initErr("pubsub", err)
	}
	defer closeWith(ctx, logg, "pubsub client", pubsubClient.Close)

	writerCfg := writer.Config{
		AttributionEventTable: cfg.BigQuery.AttributionEventTable,
		ConversionFactTable:   cfg.BigQuery.ConversionFactTable,
	}
	tables, err := writer.TableSpecs(writerCfg)
	if err != nil {
		return initErr("bigquery schema", err)
	}
	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg, tables...)
	if err != nil {
		return initErr("bigquery", err)
	}
	defer closeWith(ctx, logg, "bigquery client", bqClient.Close)

	subscription := pubsubClient.AnalyticsSubscription()
	if subscription == nil {
		return initErr("analytics subscription", errors.New("subscription not configured"))
	}

	guard, err := idempotency.NewGuard(redisClient, analyticsConsumer, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		return initErr("idempotency guard", err)
	}
	ctx = logg.WithField(ctx, "consumer", guard.Consumer())

	bqWriter, err := writer.New(bqClient, writerCfg)
	if err != nil {
		return initErr("bigquery writer", err)
	}
	// Runs before the bigquery client closes, so buffered rows still have somewhere to go.
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
		defer cancel()
		if err := bqWriter.Flush(flushCtx); err != nil {
			logg.Error(ctx, "failed to flush bigquery rows", err)
		}
	}()

	eventRouter, err := router.NewRouter(bqWriter, logg)
	if err != nil {
		return initErr("analytics router", err)
	}
	service, err := worker.NewService(subscription, eventRouter, guard, logg)
	if err != nil {
		return initErr("analytics worker", err)
	}

	logg.Info(ctx, "analytics worker ready")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func initErr(resource string, err error) error {
	return fmt.Errorf("unable to initialize %s: %w", resource, err)
}

func closeWith(ctx context.Context, logg *logger.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(ctx, "failed to close "+what, err)
	}
}
