package config

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

const (
	EnvPrefix = "COURSEPAY"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv              = "COURSEPAY_APP_ENV"
	EnvPort                = "COURSEPAY_APP_PORT"
	EnvDBDSN               = "COURSEPAY_DB_DSN"
	EnvDBHost              = "COURSEPAY_DB_HOST"
	EnvDBUser              = "COURSEPAY_DB_USER"
	EnvDBName              = "COURSEPAY_DB_NAME"
	EnvRedisURL            = "COURSEPAY_REDIS_URL"
	EnvJWTSecret           = "COURSEPAY_JWT_SECRET"
	EnvJWTIssuer           = "COURSEPAY_JWT_ISSUER"
	EnvInternalSecret      = "COURSEPAY_INTERNAL_SECRET"
	EnvStripeAPIKey        = "COURSEPAY_STRIPE_API_KEY"
	EnvStripeWebhookSecret = "COURSEPAY_STRIPE_WEBHOOK_SECRET"
	EnvCommissionRate      = "COURSEPAY_COMMISSION_RATE"
)

type Config struct {
	App           AppConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Internal      InternalConfig
	Stripe        StripeConfig
	Commission    CommissionConfig
	Cache         CacheConfig
	Notifications NotificationsConfig
	Dispatch      DispatchConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	Reconcile     ReconcileConfig
	Reports       ReportsConfig
	Payouts       PayoutsConfig
	FeatureFlags  FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Commission.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"COURSEPAY_APP_ENV" required:"true"`
	Port         string   `envconfig:"COURSEPAY_APP_PORT" required:"true"`
	Version      string   `envconfig:"COURSEPAY_APP_VERSION" default:"dev"`
	LogLevel     string   `envconfig:"COURSEPAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"COURSEPAY_LOG_WARN_STACK" default:"false"`
	LogFormat    string   `envconfig:"COURSEPAY_LOG_FORMAT" default:"json"`
	CORSOrigins  []string `envconfig:"COURSEPAY_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type DBConfig struct {
	DSN        string `envconfig:"COURSEPAY_DB_DSN"`
	Driver     string `envconfig:"COURSEPAY_DB_DRIVER" default:"postgres"`
	SQLitePath string `envconfig:"COURSEPAY_DB_SQLITE_PATH" default:"coursepay.db"`

	LegacyHost     string `envconfig:"COURSEPAY_DB_HOST"`
	LegacyPort     int    `envconfig:"COURSEPAY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"COURSEPAY_DB_USER"`
	LegacyPassword string `envconfig:"COURSEPAY_DB_PASSWORD"`
	LegacyName     string `envconfig:"COURSEPAY_DB_NAME"`
	LegacySSLMode  string `envconfig:"COURSEPAY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"COURSEPAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"COURSEPAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"COURSEPAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"COURSEPAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	// SlowQuery logs statements slower than this at warn; zero disables it.
	SlowQuery time.Duration `envconfig:"COURSEPAY_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"COURSEPAY_REDIS_URL"`
	Address      string        `envconfig:"COURSEPAY_REDIS_ADDR"`
	Password     string        `envconfig:"COURSEPAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"COURSEPAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"COURSEPAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"COURSEPAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"COURSEPAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"COURSEPAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"COURSEPAY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig holds the verification settings for tokens minted by the identity service.
type JWTConfig struct {
	Secret string `envconfig:"COURSEPAY_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"COURSEPAY_JWT_ISSUER" required:"true"`
}

// InternalConfig is the shared secret sibling services send on internal routes.
type InternalConfig struct {
	Secret string `envconfig:"COURSEPAY_INTERNAL_SECRET"`
}

type StripeConfig struct {
	APIKey        string        `envconfig:"COURSEPAY_STRIPE_API_KEY"`
	WebhookSecret string        `envconfig:"COURSEPAY_STRIPE_WEBHOOK_SECRET"`
	Env           string        `envconfig:"COURSEPAY_STRIPE_ENV" default:"test"`
	Timeout       time.Duration `envconfig:"COURSEPAY_STRIPE_TIMEOUT" default:"20s"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// CommissionConfig drives the platform/educator split. Percentages are expressed in
// percent units (20 means 20%).
type CommissionConfig struct {
	RatePercent         decimal.Decimal `envconfig:"COURSEPAY_COMMISSION_RATE" default:"20"`
	ProcessorFixedFee   decimal.Decimal `envconfig:"COURSEPAY_PROCESSOR_FIXED_FEE" default:"0.30"`
	ProcessorPercentFee decimal.Decimal `envconfig:"COURSEPAY_PROCESSOR_PERCENT_FEE" default:"2.9"`
	MinCommission       decimal.Decimal `envconfig:"COURSEPAY_COMMISSION_MIN" default:"1"`
	MaxShare            decimal.Decimal `envconfig:"COURSEPAY_COMMISSION_MAX_SHARE" default:"0.5"`
}

func (c CommissionConfig) validate() error {
	if c.RatePercent.IsNegative() || c.RatePercent.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%s must be between 0 and 100", EnvCommissionRate)
	}
	if c.MaxShare.IsNegative() || c.MaxShare.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("commission max share must be between 0 and 1")
	}
	return nil
}

// DefaultCommissionConfig mirrors the envconfig defaults for callers that build the
// calculator without loading the environment.
func DefaultCommissionConfig() CommissionConfig {
	return CommissionConfig{
		RatePercent:         decimal.NewFromInt(20),
		ProcessorFixedFee:   decimal.RequireFromString("0.30"),
		ProcessorPercentFee: decimal.RequireFromString("2.9"),
		MinCommission:       decimal.NewFromInt(1),
		MaxShare:            decimal.RequireFromString("0.5"),
	}
}

type CacheConfig struct {
	HighChurnTTL time.Duration `envconfig:"COURSEPAY_CACHE_HIGH_CHURN_TTL" default:"15m"`
	LowChurnTTL  time.Duration `envconfig:"COURSEPAY_CACHE_LOW_CHURN_TTL" default:"1h"`
}

type NotificationsConfig struct {
	EnrollmentServiceURL   string        `envconfig:"COURSEPAY_ENROLLMENT_SERVICE_URL"`
	CourseServiceURL       string        `envconfig:"COURSEPAY_COURSE_SERVICE_URL"`
	ProgressServiceURL     string        `envconfig:"COURSEPAY_PROGRESS_SERVICE_URL"`
	NotificationServiceURL string        `envconfig:"COURSEPAY_NOTIFICATION_SERVICE_URL"`
	Timeout                time.Duration `envconfig:"COURSEPAY_NOTIFICATIONS_TIMEOUT" default:"5s"`
}

type DispatchConfig struct {
	Workers     int           `envconfig:"COURSEPAY_DISPATCH_WORKERS" default:"4"`
	QueueSize   int           `envconfig:"COURSEPAY_DISPATCH_QUEUE_SIZE" default:"256"`
	TaskTimeout time.Duration `envconfig:"COURSEPAY_DISPATCH_TASK_TIMEOUT" default:"15s"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"COURSEPAY_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	PaymentsTopic string `envconfig:"COURSEPAY_PUBSUB_PAYMENTS_TOPIC"`
}

// Enabled reports whether payment domain events should be published.
func (p PubSubConfig) Enabled() bool {
	return strings.TrimSpace(p.PaymentsTopic) != ""
}

type ReconcileConfig struct {
	Schedule  string        `envconfig:"COURSEPAY_RECONCILE_SCHEDULE" default:"@every 15m"`
	MinAge    time.Duration `envconfig:"COURSEPAY_RECONCILE_MIN_AGE" default:"10m"`
	BatchSize int           `envconfig:"COURSEPAY_RECONCILE_BATCH_SIZE" default:"100"`
}

type ReportsConfig struct {
	PDFEnabled bool          `envconfig:"COURSEPAY_REPORTS_PDF_ENABLED" default:"true"`
	PDFTimeout time.Duration `envconfig:"COURSEPAY_REPORTS_PDF_TIMEOUT" default:"30s"`
}

type PayoutsConfig struct {
	HoldPeriod time.Duration `envconfig:"COURSEPAY_PAYOUT_HOLD_PERIOD" default:"168h"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"COURSEPAY_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"COURSEPAY_AUTO_MIGRATE" default:"false"`
}

// ensureDSN settles the driver and connection string. SQLite mode uses the file
// path; otherwise an explicit DSN wins over one assembled from the discrete
// COURSEPAY_DB_* parts.
func (db *DBConfig) ensureDSN(useSQLite bool) error {
	switch {
	case useSQLite:
		db.Driver = "sqlite"
		if db.DSN == "" {
			db.DSN = db.SQLitePath
		}
		return nil
	case db.DSN != "":
		return nil
	}

	var missing []string
	for env, value := range map[string]string{EnvDBHost: db.LegacyHost, EnvDBUser: db.LegacyUser, EnvDBName: db.LegacyName} {
		if value == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}
	db.DSN = db.partsDSN()
	return nil
}

func (db DBConfig) partsDSN() string {
	user := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		user = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}
	u := url.URL{
		Scheme: "postgres",
		User:   user,
		Host:   net.JoinHostPort(db.LegacyHost, strconv.Itoa(db.LegacyPort)),
		Path:   db.LegacyName,
	}
	if db.LegacySSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {db.LegacySSLMode}}.Encode()
	}
	return u.String()
}
