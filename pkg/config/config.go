package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	_ "time/tzdata"

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
	Outbox       OutboxConfig
	Settlement   SettlementConfig
	VNPay        VNPayConfig
	Momo         MomoConfig
	ZaloPay      ZaloPayConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Settlement.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"ESCROW_APP_ENV" required:"true"`
	Port         string   `envconfig:"ESCROW_APP_PORT" default:"8080"`
	LogLevel     string   `envconfig:"ESCROW_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"ESCROW_LOG_WARN_STACK" default:"false"`
	LogFormat    string   `envconfig:"ESCROW_LOG_FORMAT" default:"json"`
	MetricsPort  string   `envconfig:"ESCROW_METRICS_PORT" default:"9090"`
	CORSOrigins  []string `envconfig:"ESCROW_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"ESCROW_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"ESCROW_DB_DSN"`
	Driver string `envconfig:"ESCROW_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ESCROW_DB_HOST"`
	LegacyPort     int    `envconfig:"ESCROW_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ESCROW_DB_USER"`
	LegacyPassword string `envconfig:"ESCROW_DB_PASSWORD"`
	LegacyName     string `envconfig:"ESCROW_DB_NAME"`
	LegacySSLMode  string `envconfig:"ESCROW_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ESCROW_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ESCROW_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ESCROW_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ESCROW_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	TxRetries     int           `envconfig:"ESCROW_DB_TX_RETRIES" default:"3"`
	SlowQueryTime time.Duration `envconfig:"ESCROW_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ESCROW_REDIS_URL" required:"true"`
	Address      string        `envconfig:"ESCROW_REDIS_ADDR"`
	Password     string        `envconfig:"ESCROW_REDIS_PASSWORD"`
	DB           int           `envconfig:"ESCROW_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ESCROW_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ESCROW_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ESCROW_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ESCROW_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ESCROW_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"ESCROW_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"ESCROW_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"ESCROW_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"ESCROW_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"ESCROW_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"ESCROW_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"ESCROW_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON string `envconfig:"ESCROW_GCP_CREDENTIALS_JSON"`
	CredentialsFile string `envconfig:"GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DomainTopic              string `envconfig:"ESCROW_PUBSUB_DOMAIN_TOPIC" default:"escrow-domain-events"`
	NotificationTopic        string `envconfig:"ESCROW_PUBSUB_NOTIFICATION_TOPIC" default:"escrow-order-updates"`
	NotificationSubscription string `envconfig:"ESCROW_PUBSUB_NOTIFICATION_SUBSCRIPTION" required:"true"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"ESCROW_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"ESCROW_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"ESCROW_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

// SettlementConfig drives order codes, escrow fees and the release sweep.
type SettlementConfig struct {
	Brand                  string        `envconfig:"ESCROW_ORDER_BRAND" default:"EC"`
	Timezone               string        `envconfig:"ESCROW_TIMEZONE" default:"Asia/Ho_Chi_Minh"`
	HoldDuration           time.Duration `envconfig:"ESCROW_HOLD_DURATION" default:"10m"`
	SweepInterval          time.Duration `envconfig:"ESCROW_SWEEP_INTERVAL" default:"1m"`
	ServiceFeeRate         float64       `envconfig:"ESCROW_SERVICE_FEE_RATE" default:"0.079"`
	PaymentFeeRate         float64       `envconfig:"ESCROW_PAYMENT_FEE_RATE" default:"0.02"`
	CallbackIdempotencyTTL time.Duration `envconfig:"ESCROW_CALLBACK_IDEMPOTENCY_TTL" default:"24h"`
}

// Location resolves the configured timezone, defaulting to UTC when blank.
func (s SettlementConfig) Location() (*time.Location, error) {
	if strings.TrimSpace(s.Timezone) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}

func (s SettlementConfig) validate() error {
	if strings.TrimSpace(s.Brand) == "" {
		return fmt.Errorf("%s must not be empty", EnvOrderBrand)
	}
	if s.HoldDuration < 0 {
		return fmt.Errorf("%s must not be negative", EnvHoldDuration)
	}
	if s.SweepInterval <= 0 {
		return fmt.Errorf("%s must be positive", EnvSweepInterval)
	}
	if s.ServiceFeeRate < 0 || s.PaymentFeeRate < 0 || s.ServiceFeeRate+s.PaymentFeeRate >= 1 {
		return fmt.Errorf("fee rates must be non-negative and sum below 1")
	}
	if _, err := s.Location(); err != nil {
		return err
	}
	return nil
}

type VNPayConfig struct {
	TmnCode    string `envconfig:"ESCROW_VNPAY_TMN_CODE"`
	HashSecret string `envconfig:"ESCROW_VNPAY_HASH_SECRET"`
	PayURL     string `envconfig:"ESCROW_VNPAY_PAY_URL" default:"https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"`
	ReturnURL  string `envconfig:"ESCROW_VNPAY_RETURN_URL"`
}

type MomoConfig struct {
	PartnerCode string `envconfig:"ESCROW_MOMO_PARTNER_CODE"`
	AccessKey   string `envconfig:"ESCROW_MOMO_ACCESS_KEY"`
	SecretKey   string `envconfig:"ESCROW_MOMO_SECRET_KEY"`
	Endpoint    string `envconfig:"ESCROW_MOMO_ENDPOINT" default:"https://test-payment.momo.vn/v2/gateway/api/create"`
	RedirectURL string `envconfig:"ESCROW_MOMO_REDIRECT_URL"`
	IPNURL      string `envconfig:"ESCROW_MOMO_IPN_URL"`
}

type ZaloPayConfig struct {
	AppID       string `envconfig:"ESCROW_ZALOPAY_APP_ID"`
	Key1        string `envconfig:"ESCROW_ZALOPAY_KEY1"`
	Key2        string `envconfig:"ESCROW_ZALOPAY_KEY2"`
	Endpoint    string `envconfig:"ESCROW_ZALOPAY_ENDPOINT" default:"https://sb-openapi.zalopay.vn/v2/create"`
	CallbackURL string `envconfig:"ESCROW_ZALOPAY_CALLBACK_URL"`
	RedirectURL string `envconfig:"ESCROW_ZALOPAY_REDIRECT_URL"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, key := range legacyDBEnvVars {
		if legacyValues[key] == "" {
			missing = append(missing, key)
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
