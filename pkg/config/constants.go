package config

const (
	EnvPrefix = "ESCROW"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv       = "ESCROW_APP_ENV"
	EnvPort         = "ESCROW_APP_PORT"
	EnvDBDSN        = "ESCROW_DB_DSN"
	EnvDBHost       = "ESCROW_DB_HOST"
	EnvDBUser       = "ESCROW_DB_USER"
	EnvDBPassword   = "ESCROW_DB_PASSWORD"
	EnvDBName       = "ESCROW_DB_NAME"
	EnvRedisURL     = "ESCROW_REDIS_URL"
	EnvJWTSecret    = "ESCROW_JWT_SECRET"
	EnvJWTIssuer    = "ESCROW_JWT_ISSUER"
	EnvGCPProjectID = "ESCROW_GCP_PROJECT_ID"

	EnvPubSubNotificationSub = "ESCROW_PUBSUB_NOTIFICATION_SUBSCRIPTION"

	EnvOrderBrand    = "ESCROW_ORDER_BRAND"
	EnvTimezone      = "ESCROW_TIMEZONE"
	EnvHoldDuration  = "ESCROW_HOLD_DURATION"
	EnvSweepInterval = "ESCROW_SWEEP_INTERVAL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
