package config

const (
	EnvPrefix = "ADTRAIL"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "ADTRAIL_APP_ENV"
	EnvPort     = "ADTRAIL_APP_PORT"
	EnvLogLevel = "ADTRAIL_LOG_LEVEL"

	EnvDBDSN      = "ADTRAIL_DB_DSN"
	EnvDBHost     = "ADTRAIL_DB_HOST"
	EnvDBUser     = "ADTRAIL_DB_USER"
	EnvDBName     = "ADTRAIL_DB_NAME"
	EnvDBPassword = "ADTRAIL_DB_PASSWORD"
	EnvUseSQLite  = "ADTRAIL_USE_SQLITE"

	EnvRedisURL = "ADTRAIL_REDIS_URL"

	EnvJWTSecret  = "ADTRAIL_JWT_SECRET"
	EnvJWTIssuer  = "ADTRAIL_JWT_ISSUER"
	EnvJWTExpMins = "ADTRAIL_JWT_EXPIRATION_MINUTES"

	EnvGCPProjectID = "ADTRAIL_GCP_PROJECT_ID"

	EnvPubSubAttributionTopic = "ADTRAIL_PUBSUB_ATTRIBUTION_TOPIC"
	EnvPubSubAnalyticsSub     = "ADTRAIL_PUBSUB_ANALYTICS_SUBSCRIPTION"

	EnvTrackingFallbackURL = "ADTRAIL_TRACKING_FALLBACK_URL"
	EnvTrackingCookieTTL   = "ADTRAIL_TRACKING_COOKIE_TTL"

	EnvSyncLookbackDays    = "ADTRAIL_SYNC_LOOKBACK_DAYS"
	EnvSyncSchedulerSecret = "ADTRAIL_SYNC_SCHEDULER_SECRET"

	EnvSmartstoreBaseURL = "ADTRAIL_PROVIDER_SMARTSTORE_BASE_URL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
