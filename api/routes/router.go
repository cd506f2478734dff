package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/adtrail-backend/api/controllers"
	"github.com/angelmondragon/adtrail-backend/api/middleware"
	"github.com/angelmondragon/adtrail-backend/internal/clicks"
	"github.com/angelmondragon/adtrail-backend/internal/connections"
	"github.com/angelmondragon/adtrail-backend/internal/ingestion"
	"github.com/angelmondragon/adtrail-backend/pkg/config"
	"github.com/angelmondragon/adtrail-backend/pkg/db"
	"github.com/angelmondragon/adtrail-backend/pkg/logger"
	"github.com/angelmondragon/adtrail-backend/pkg/pagination"
	"github.com/angelmondragon/adtrail-backend/pkg/redis"
)

// ClickCapturer resolves redirect hits.
type ClickCapturer interface {
	Capture(ctx context.Context, req clicks.CaptureRequest) clicks.CaptureResult
}

// SyncService runs and lists order syncs.
type SyncService interface {
	Run(ctx context.Context, req ingestion.RunRequest) (*ingestion.Summary, error)
	ListRuns(ctx context.Context, userID uuid.UUID, params pagination.Params) (*ingestion.RunsPage, error)
}

// ConnectionLister lists a user's marketplace connections.
type ConnectionLister interface {
	List(ctx context.Context, userID uuid.UUID) ([]connections.ConnectionView, error)
}

// rateLimiter is the subset of the redis client the manual sync throttle needs.
type rateLimiter interface {
	redis.Pinger
	middleware.WindowLimiter
}

const (
	healthLivePath  = "/health/live"
	healthReadyPath = "/health/ready"
	metricsPath     = "/metrics"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient rateLimiter,
	gatherer prometheus.Gatherer,
	clickService ClickCapturer,
	syncService SyncService,
	connectionService ConnectionLister,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, healthLivePath, healthReadyPath, metricsPath),
	)

	r.Get(healthLivePath, controllers.HealthLive(cfg))
	r.Get(healthReadyPath, controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
		"db":    dbP,
		"redis": redisClient,
	}))
	if gatherer != nil {
		r.Handle(metricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Get("/go/{trackingLinkId}", controllers.Redirect(clickService, controllers.NewRedirectOptions(cfg)))

	r.Post("/internal/sync", controllers.ScheduledSync(syncService, cfg.Sync.SchedulerSecret, logg))

	manualSync := middleware.NewRateLimitPolicy("manual_sync", cfg.Sync.ManualLimit, cfg.Sync.ManualWindow)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CORS(cfg.CORS))
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Get("/connections", controllers.ListConnections(connectionService, logg))
		r.Route("/sync", func(r chi.Router) {
			r.With(middleware.UserRateLimit(manualSync, redisClient, logg)).Post("/", controllers.TriggerSync(syncService, logg))
			r.Get("/runs", controllers.ListSyncRuns(syncService, logg))
		})
	})

	return r
}
