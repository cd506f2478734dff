package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
	CORS         CORSConfig
	Tracking     TrackingConfig
	Sync         SyncConfig
	Providers    ProvidersConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = DBDriverSQLite
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ADTRAIL_APP_ENV" required:"true"`
	Port         string `envconfig:"ADTRAIL_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"ADTRAIL_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ADTRAIL_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"ADTRAIL_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"ADTRAIL_DB_DSN"`
	Driver string `envconfig:"ADTRAIL_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ADTRAIL_DB_HOST"`
	LegacyPort     int    `envconfig:"ADTRAIL_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ADTRAIL_DB_USER"`
	LegacyPassword string `envconfig:"ADTRAIL_DB_PASSWORD"`
	LegacyName     string `envconfig:"ADTRAIL_DB_NAME"`
	LegacySSLMode  string `envconfig:"ADTRAIL_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ADTRAIL_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ADTRAIL_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ADTRAIL_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ADTRAIL_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"ADTRAIL_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ADTRAIL_REDIS_URL" required:"true"`
	Address      string        `envconfig:"ADTRAIL_REDIS_ADDR"`
	Password     string        `envconfig:"ADTRAIL_REDIS_PASSWORD"`
	DB           int           `envconfig:"ADTRAIL_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ADTRAIL_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ADTRAIL_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ADTRAIL_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ADTRAIL_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ADTRAIL_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies dashboard bearer tokens. Tokens are minted by the account service.
type JWTConfig struct {
	Secret            string `envconfig:"ADTRAIL_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"ADTRAIL_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"ADTRAIL_JWT_EXPIRATION_MINUTES" default:"60"`
	Audience          string `envconfig:"ADTRAIL_JWT_AUDIENCE"`

	Leeway time.Duration `envconfig:"ADTRAIL_JWT_LEEWAY" default:"30s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"ADTRAIL_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"ADTRAIL_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"ADTRAIL_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"ADTRAIL_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"ADTRAIL_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"ADTRAIL_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	AttributionTopic      string `envconfig:"ADTRAIL_PUBSUB_ATTRIBUTION_TOPIC" default:"adtrail-attribution-events"`
	AnalyticsSubscription string `envconfig:"ADTRAIL_PUBSUB_ANALYTICS_SUBSCRIPTION" default:"adtrail-attribution-analytics"`
	MaxOutstanding        int    `envconfig:"ADTRAIL_PUBSUB_MAX_OUTSTANDING" default:"100"`
}

type BigQueryConfig struct {
	Dataset               string `envconfig:"ADTRAIL_BIGQUERY_DATASET" default:"adtrail"`
	AttributionEventTable string `envconfig:"ADTRAIL_BIGQUERY_ATTRIBUTION_TABLE" default:"attribution_events"`
	ConversionFactTable   string `envconfig:"ADTRAIL_BIGQUERY_CONVERSION_TABLE" default:"conversion_facts"`
	Location              string `envconfig:"ADTRAIL_BIGQUERY_LOCATION" default:"US"`
	CreateTables          bool   `envconfig:"ADTRAIL_BIGQUERY_CREATE_TABLES" default:"false"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"ADTRAIL_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"ADTRAIL_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"ADTRAIL_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"ADTRAIL_OUTBOX_RETENTION_DAYS" default:"30"`

	DLQRetentionDays int `envconfig:"ADTRAIL_OUTBOX_DLQ_RETENTION_DAYS" default:"90"`
	RetentionBatch   int `envconfig:"ADTRAIL_OUTBOX_RETENTION_BATCH" default:"1000"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"ADTRAIL_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

// TrackingConfig drives the public redirect surface.
type TrackingConfig struct {
	FallbackURL     string        `envconfig:"ADTRAIL_TRACKING_FALLBACK_URL" default:"https://adtrail.io"`
	CookieTTL       time.Duration `envconfig:"ADTRAIL_TRACKING_COOKIE_TTL" default:"720h"`
	CookieDomain    string        `envconfig:"ADTRAIL_TRACKING_COOKIE_DOMAIN"`
	WriterBuffer    int           `envconfig:"ADTRAIL_TRACKING_WRITER_BUFFER" default:"1024"`
	WriterWorkers   int           `envconfig:"ADTRAIL_TRACKING_WRITER_WORKERS" default:"2"`
	WriterTimeout   time.Duration `envconfig:"ADTRAIL_TRACKING_WRITER_TIMEOUT" default:"5s"`
	ExtraBotAgents  []string      `envconfig:"ADTRAIL_TRACKING_EXTRA_BOT_AGENTS"`
	RedirectStatus  int           `envconfig:"ADTRAIL_TRACKING_REDIRECT_STATUS" default:"302"`
	SecureCookies   bool          `envconfig:"ADTRAIL_TRACKING_SECURE_COOKIES" default:"true"`
	DisablePixelIDs bool          `envconfig:"ADTRAIL_TRACKING_DISABLE_PIXEL_IDS" default:"false"`
}

// SyncConfig drives order ingestion, attribution and settlement.
type SyncConfig struct {
	LookbackDays          int           `envconfig:"ADTRAIL_SYNC_LOOKBACK_DAYS" default:"7"`
	AttributionWindowDays int           `envconfig:"ADTRAIL_SYNC_ATTRIBUTION_WINDOW_DAYS" default:"30"`
	RefreshSkew           time.Duration `envconfig:"ADTRAIL_SYNC_REFRESH_SKEW" default:"5m"`
	RefreshClaimTTL       time.Duration `envconfig:"ADTRAIL_SYNC_REFRESH_CLAIM_TTL" default:"30s"`
	Concurrency           int           `envconfig:"ADTRAIL_SYNC_CONCURRENCY" default:"4"`
	SchedulerSecret       string        `envconfig:"ADTRAIL_SYNC_SCHEDULER_SECRET" required:"true"`
	ManualLimit           int           `envconfig:"ADTRAIL_SYNC_MANUAL_LIMIT" default:"6"`
	ManualWindow          time.Duration `envconfig:"ADTRAIL_SYNC_MANUAL_WINDOW" default:"1h"`
	OrderSyncSchedule     string        `envconfig:"ADTRAIL_SYNC_ORDER_SCHEDULE" default:"*/30 * * * *"`
	SettlementSchedule    string        `envconfig:"ADTRAIL_SYNC_SETTLEMENT_SCHEDULE" default:"0 4 * * *"`
	RetentionSchedule     string        `envconfig:"ADTRAIL_SYNC_RETENTION_SCHEDULE" default:"0 3 * * *"`
	SettlementBatchSize   int           `envconfig:"ADTRAIL_SYNC_SETTLEMENT_BATCH_SIZE" default:"50"`
	ProviderRetries       int           `envconfig:"ADTRAIL_SYNC_PROVIDER_RETRIES" default:"4"`
	ProviderBackoff       time.Duration `envconfig:"ADTRAIL_SYNC_PROVIDER_BACKOFF" default:"500ms"`
	ProviderMaxBackoff    time.Duration `envconfig:"ADTRAIL_SYNC_PROVIDER_MAX_BACKOFF" default:"8s"`
}

// LookbackWindow returns the incremental sync lookback as a duration.
func (s SyncConfig) LookbackWindow() time.Duration {
	days := s.LookbackDays
	if days <= 0 {
		days = 7
	}
	return time.Duration(days) * 24 * time.Hour
}

// AttributionWindow returns the recency fallback window as a duration.
func (s SyncConfig) AttributionWindow() time.Duration {
	days := s.AttributionWindowDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

type ProvidersConfig struct {
	SmartstoreBaseURL      string  `envconfig:"ADTRAIL_PROVIDER_SMARTSTORE_BASE_URL"`
	SmartstoreTokenURL     string  `envconfig:"ADTRAIL_PROVIDER_SMARTSTORE_TOKEN_URL"`
	SmartstoreClientID     string  `envconfig:"ADTRAIL_PROVIDER_SMARTSTORE_CLIENT_ID"`
	SmartstoreClientSecret string  `envconfig:"ADTRAIL_PROVIDER_SMARTSTORE_CLIENT_SECRET"`
	SmartstoreRPS          float64 `envconfig:"ADTRAIL_PROVIDER_SMARTSTORE_RPS" default:"2"`

	ShopifyBaseURL      string  `envconfig:"ADTRAIL_PROVIDER_SHOPIFY_BASE_URL"`
	ShopifyTokenURL     string  `envconfig:"ADTRAIL_PROVIDER_SHOPIFY_TOKEN_URL"`
	ShopifyClientID     string  `envconfig:"ADTRAIL_PROVIDER_SHOPIFY_CLIENT_ID"`
	ShopifyClientSecret string  `envconfig:"ADTRAIL_PROVIDER_SHOPIFY_CLIENT_SECRET"`
	ShopifyRPS          float64 `envconfig:"ADTRAIL_PROVIDER_SHOPIFY_RPS" default:"2"`

	PageSize int `envconfig:"ADTRAIL_PROVIDER_PAGE_SIZE" default:"100"`
}

// ProviderConfig is the per-platform view of ProvidersConfig.
type ProviderConfig struct {
	BaseURL           string
	TokenURL          string
	ClientID          string
	ClientSecret      string
	RequestsPerSecond float64
	PageSize          int
}

// Smartstore returns the smartstore client settings.
func (p ProvidersConfig) Smartstore() ProviderConfig {
	return ProviderConfig{
		BaseURL:           p.SmartstoreBaseURL,
		TokenURL:          p.SmartstoreTokenURL,
		ClientID:          p.SmartstoreClientID,
		ClientSecret:      p.SmartstoreClientSecret,
		RequestsPerSecond: p.SmartstoreRPS,
		PageSize:          p.PageSize,
	}
}

// Shopify returns the shopify client settings.
func (p ProvidersConfig) Shopify() ProviderConfig {
	return ProviderConfig{
		BaseURL:           p.ShopifyBaseURL,
		TokenURL:          p.ShopifyTokenURL,
		ClientID:          p.ShopifyClientID,
		ClientSecret:      p.ShopifyClientSecret,
		RequestsPerSecond: p.ShopifyRPS,
		PageSize:          p.PageSize,
	}
}

// Enabled reports whether the provider has enough configuration to be called.
func (p ProviderConfig) Enabled() bool {
	return strings.TrimSpace(p.BaseURL) != ""
}

func (db *DBConfig) ensureDSN(sqlite bool) error {
	if db.DSN != "" {
		return nil
	}
	if sqlite {
		db.DSN = "file:adtrail.db?cache=shared"
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
