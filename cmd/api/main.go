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

	"github.com/angelmondragon/adtrail-backend/api/routes"
	"github.com/angelmondragon/adtrail-backend/internal/clicks"
	"github.com/angelmondragon/adtrail-backend/internal/connections"
	"github.com/angelmondragon/adtrail-backend/internal/ingestion"
	"github.com/angelmondragon/adtrail-backend/pkg/config"
	"github.com/angelmondragon/adtrail-backend/pkg/db"
	"github.com/angelmondragon/adtrail-backend/pkg/instance"
	"github.com/angelmondragon/adtrail-backend/pkg/logger"
	"github.com/angelmondragon/adtrail-backend/pkg/metrics"
	"github.com/angelmondragon/adtrail-backend/pkg/migrate"
	"github.com/angelmondragon/adtrail-backend/pkg/redis"
)

const (
	serviceName       = "api"
	shutdownTimeout   = 15 * time.Second
	readHeaderTimeout = 10 * time.Second
)

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
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "instance": instance.ID()})

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		stop()
		os.Exit(1)
	}
	logg.Info(ctx, "api server shut down")
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

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	attributionMetrics := metrics.NewAttributionMetrics(registry)

	clickRepo := clicks.NewRepository(dbClient.DB())
	clickWriter := clicks.NewAsyncWriter(clickRepo, clicks.WriterOptions{
		Buffer:  cfg.Tracking.WriterBuffer,
		Workers: cfg.Tracking.WriterWorkers,
		Timeout: cfg.Tracking.WriterTimeout,
	}, logg, attributionMetrics)
	clickService, err := clicks.NewService(clickRepo, clickWriter, cfg.Tracking, logg, attributionMetrics)
	if err != nil {
		return fmt.Errorf("click service: %w", err)
	}

	pipeline, err := ingestion.NewPipeline(dbClient, cfg, logg, attributionMetrics)
	if err != nil {
		return fmt.Errorf("sync pipeline: %w", err)
	}

	addr := ":" + listenPort(cfg)
	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			registry,
			clickService,
			pipeline.Service,
			connections.NewService(pipeline.Connections),
		),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	logg.Info(logg.WithField(ctx, "addr", addr), "api server listening")

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-ctx.Done():
		logg.Info(ctx, "api server shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "api server shutdown", err)
	}
	// Queued clicks drain only once the listener has stopped accepting redirects.
	if err := clickWriter.Close(shutdownCtx); err != nil {
		logg.Error(ctx, "click writer drain incomplete", err)
	}
	return serveErr
}

// listenPort prefers the platform-assigned PORT over the configured one.
func listenPort(cfg *config.Config) string {
	if port := os.Getenv("PORT"); port != "" {
		return port
	}
	return cfg.App.Port
}

func closeWith(ctx context.Context, logg *logger.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(ctx, "error closing "+what, err)
	}
}
