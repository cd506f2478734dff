package ingestion

import (
	"fmt"

	"github.com/angelmondragon/adtrail-backend/internal/aggregates"
	"github.com/angelmondragon/adtrail-backend/internal/attribution"
	"github.com/angelmondragon/adtrail-backend/internal/connections"
	"github.com/angelmondragon/adtrail-backend/internal/orders"
	"github.com/angelmondragon/adtrail-backend/internal/products"
	"github.com/angelmondragon/adtrail-backend/internal/providers"
	"github.com/angelmondragon/adtrail-backend/pkg/config"
	"github.com/angelmondragon/adtrail-backend/pkg/db"
	"github.com/angelmondragon/adtrail-backend/pkg/logger"
	"github.com/angelmondragon/adtrail-backend/pkg/metrics"
	"github.com/angelmondragon/adtrail-backend/pkg/outbox"
)

// Pipeline is the sync stack shared by the API and the cron worker.
type Pipeline struct {
	Service     *Service
	Tokens      *connections.TokenManager
	Providers   *providers.Registry
	Orders      orders.Repository
	Connections connections.Repository
}

// NewPipeline wires repositories, provider clients and the token manager around one
// database client.
func NewPipeline(dbClient *db.Client, cfg *config.Config, logg *logger.Logger, m *metrics.AttributionMetrics) (*Pipeline, error) {
	gdb := dbClient.DB()

	registry, err := providers.NewRegistry(cfg.Providers)
	if err != nil {
		return nil, fmt.Errorf("provider registry: %w", err)
	}

	emitter := outbox.NewService(outbox.NewRepository(gdb), logg)
	connRepo := connections.NewRepository(gdb)
	tokens, err := connections.NewTokenManager(connRepo, dbClient, registry, emitter, cfg.Sync, logg, m)
	if err != nil {
		return nil, fmt.Errorf("token manager: %w", err)
	}

	orderRepo := orders.NewRepository(gdb)
	svc, err := NewService(ServiceParams{
		Connections: connRepo,
		Tokens:      tokens,
		Sources:     registry,
		Orders:      orderRepo,
		Products:    products.NewRepository(gdb),
		Runs:        NewRunRepository(gdb),
		Matcher:     attribution.NewMatcher(cfg.Sync.AttributionWindow()),
		Updater:     aggregates.NewUpdater(),
		Outbox:      emitter,
		Tx:          dbClient,
		Config:      cfg.Sync,
		Logger:      logg,
		Metrics:     m,
	})
	if err != nil {
		return nil, fmt.Errorf("ingestion service: %w", err)
	}

	return &Pipeline{
		Service:     svc,
		Tokens:      tokens,
		Providers:   registry,
		Orders:      orderRepo,
		Connections: connRepo,
	}, nil
}
