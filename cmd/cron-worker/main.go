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

	"github.com/angelmondragon/adtrail-backend/internal/cron"
	"github.com/angelmondragon/adtrail-backend/internal/ingestion"
	"github.com/angelmondragon/adtrail-backend/internal/settlement"
	"github.com/angelmondragon/adtrail-backend/pkg/config"
	"github.com/angelmondragon/adtrail-backend/pkg/db"
	"github.com/angelmondragon/adtrail-backend/pkg/logger"
	"github.com/angelmondragon/adtrail-backend/pkg/metrics"
	"github.com/angelmondragon/adtrail-backend/pkg/migrate"
	"github.com/angelmondragon/adtrail-backend/pkg/outbox"
	"github.com/angelmondragon/adtrail-backend/pkg/redis"
)

const serviceName = "cron-worker"

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
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
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "serviceKind": serviceName})

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		stop()
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shut down")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer closeWith(ctx, logg, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer closeWith(ctx, logg, "redis", redisClient.Close)

	pipeline, err := ingestion.NewPipeline(dbClient, cfg, logg, metrics.NewAttributionMetrics(prometheus.DefaultRegisterer))
	if err != nil {
		return fmt.Errorf("sync pipeline: %w", err)
	}

	jobs, err := scheduleJobs(cfg, logg, dbClient, pipeline)
	if err != nil {
		return fmt.Errorf("register jobs: %w", err)
	}

	locker, err := cron.NewRedisLocker(redisClient, 0)
	if err != nil {
		return fmt.Errorf("cron locker: %w", err)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: jobs,
		Locker:   locker,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return fmt.Errorf("create cron service: %w", err)
	}

	logg.Info(logg.WithField(ctx, "jobs", len(jobs.Entries())), "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func closeWith(ctx context.Context, logg *logger.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(ctx, "error closing "+what, err)
	}
}

// scheduleJobs registers order sync, settlement and outbox retention on their configured schedules.
func scheduleJobs(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, pipeline *ingestion.Pipeline) (*cron.Registry, error) {
	orderSync, err := cron.NewOrderSyncJob(logg, pipeline.Service)
	if err != nil {
		return nil, err
	}

	reconciler, err := settlement.NewReconciler(pipeline.Orders, pipeline.Tokens, pipeline.Providers, cfg.Sync, logg)
	if err != nil {
		return nil, err
	}
	settle, err := cron.NewSettlementJob(reconciler)
	if err != nil {
		return nil, err
	}

	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:         logg,
		Repository:     outbox.NewRepository(dbClient.DB()),
		DLQ:            outbox.NewDLQRepository(dbClient.DB()),
		Retention:      cfg.Outbox.RetentionDays,
		DLQRetention:   cfg.Outbox.DLQRetentionDays,
		BatchSize:      cfg.Outbox.RetentionBatch,
		ParkedAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}

	jobs := cron.NewRegistry()
	for _, entry := range []struct {
		schedule string
		job      cron.Job
	}{
		{cfg.Sync.OrderSyncSchedule, orderSync},
		{cfg.Sync.SettlementSchedule, settle},
		{cfg.Sync.RetentionSchedule, retention},
	} {
		if err := jobs.Register(entry.schedule, entry.job); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}
