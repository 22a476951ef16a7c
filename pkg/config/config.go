package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App            AppConfig
	Service        ServiceConfig
	DB             DBConfig
	Redis          RedisConfig
	JWT            JWTConfig
	Password       PasswordConfig
	FeatureFlags   FeatureFlagsConfig
	Reconciliation ReconciliationConfig
	Callback       CallbackConfig
	GCP            GCPConfig
	PubSub         PubSubConfig
	BigQuery       BigQueryConfig
	AuditRelay     AuditRelayConfig
	Cron           CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = "sqlite"
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Reconciliation.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadPassword reads only the argon2 parameters, for tools that do not need
// the full service configuration.
func LoadPassword() (PasswordConfig, error) {
	var cfg PasswordConfig
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return PasswordConfig{}, fmt.Errorf("parsing password config: %w", err)
	}
	return cfg, nil
}

// LoadJWT reads only the token signing settings.
func LoadJWT() (JWTConfig, error) {
	var cfg JWTConfig
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return JWTConfig{}, fmt.Errorf("parsing jwt config: %w", err)
	}
	return cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"BOLETOS_APP_ENV" required:"true"`
	Port         string `envconfig:"BOLETOS_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"BOLETOS_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"BOLETOS_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"BOLETOS_LOG_WARN_STACK" default:"false"`

	CORSAllowedOrigins []string `envconfig:"BOLETOS_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"BOLETOS_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"BOLETOS_DB_DSN"`
	Driver string `envconfig:"BOLETOS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BOLETOS_DB_HOST"`
	LegacyPort     int    `envconfig:"BOLETOS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BOLETOS_DB_USER"`
	LegacyPassword string `envconfig:"BOLETOS_DB_PASSWORD"`
	LegacyName     string `envconfig:"BOLETOS_DB_NAME"`
	LegacySSLMode  string `envconfig:"BOLETOS_DB_SSLMODE" default:"disable"`

	SQLitePath string `envconfig:"BOLETOS_SQLITE_PATH" default:"boletos.db"`

	MaxOpenConns    int           `envconfig:"BOLETOS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BOLETOS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BOLETOS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BOLETOS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"BOLETOS_DB_SLOW_QUERY" default:"200ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BOLETOS_REDIS_URL" required:"true"`
	Address      string        `envconfig:"BOLETOS_REDIS_ADDR"`
	Password     string        `envconfig:"BOLETOS_REDIS_PASSWORD"`
	DB           int           `envconfig:"BOLETOS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BOLETOS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BOLETOS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BOLETOS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BOLETOS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BOLETOS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"BOLETOS_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"BOLETOS_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"BOLETOS_JWT_EXPIRATION_MINUTES" required:"true"`
}

// PasswordConfig tunes the argon2id parameters used when hashing shared secrets.
type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"BOLETOS_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"BOLETOS_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"BOLETOS_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"BOLETOS_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"BOLETOS_ARGON_KEY_LEN" default:"32"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"BOLETOS_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"BOLETOS_AUTO_MIGRATE" default:"false"`
}

// ReconciliationConfig drives the invoice reconciliation core.
type ReconciliationConfig struct {
	StorageTimeout       time.Duration `envconfig:"BOLETOS_RECONCILIATION_STORAGE_TIMEOUT" default:"5s"`
	AuditTimeout         time.Duration `envconfig:"BOLETOS_RECONCILIATION_AUDIT_TIMEOUT" default:"2s"`
	Retention            time.Duration `envconfig:"BOLETOS_RECONCILIATION_RETENTION" default:"720h"`
	ReplayCacheTTL       time.Duration `envconfig:"BOLETOS_RECONCILIATION_REPLAY_CACHE_TTL" default:"24h"`
	DiscountFloorDefault string        `envconfig:"BOLETOS_DISCOUNT_FLOOR_DEFAULT" default:"10.00"`
	Timezone             string        `envconfig:"BOLETOS_BUSINESS_TIMEZONE" default:"America/Sao_Paulo"`
}

// DiscountFloor parses the configured default floor for newly created invoices.
func (r ReconciliationConfig) DiscountFloor() decimal.Decimal {
	floor, err := decimal.NewFromString(strings.TrimSpace(r.DiscountFloorDefault))
	if err != nil {
		return decimal.RequireFromString(DefaultDiscountFloor)
	}
	return floor
}

// Location resolves the business timezone used to compute "today".
func (r ReconciliationConfig) Location() *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(r.Timezone))
	if err != nil {
		return time.UTC
	}
	return loc
}

func (r ReconciliationConfig) validate() error {
	floor, err := decimal.NewFromString(strings.TrimSpace(r.DiscountFloorDefault))
	if err != nil {
		return fmt.Errorf("%s must be a decimal amount: %w", EnvDiscountFloorDefault, err)
	}
	if floor.IsNegative() {
		return fmt.Errorf("%s must not be negative", EnvDiscountFloorDefault)
	}
	if r.StorageTimeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvStorageTimeout)
	}
	if r.Retention < minimumRetention {
		return fmt.Errorf("%s must be at least %s", EnvRetention, minimumRetention)
	}
	return nil
}

// CallbackConfig protects the payment processor webhook.
type CallbackConfig struct {
	SecretHash      string        `envconfig:"BOLETOS_CALLBACK_SECRET_HASH" required:"true"`
	RateLimitWindow time.Duration `envconfig:"BOLETOS_CALLBACK_RATE_LIMIT_WINDOW" default:"1m"`
	RateLimitPerIP  int           `envconfig:"BOLETOS_CALLBACK_RATE_LIMIT_PER_IP" default:"120"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"BOLETOS_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"BOLETOS_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"BOLETOS_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	AuditTopic        string `envconfig:"BOLETOS_PUBSUB_AUDIT_TOPIC" default:"boletos-audit"`
	AuditSubscription string `envconfig:"BOLETOS_PUBSUB_AUDIT_SUBSCRIPTION" default:"boletos-audit-archiver"`
}

type BigQueryConfig struct {
	Dataset    string `envconfig:"BOLETOS_BIGQUERY_DATASET" default:"boletos"`
	AuditTable string `envconfig:"BOLETOS_BIGQUERY_AUDIT_TABLE" default:"reconciliation_audit"`
}

type AuditRelayConfig struct {
	BatchSize      int           `envconfig:"BOLETOS_AUDIT_RELAY_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"BOLETOS_AUDIT_RELAY_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"BOLETOS_AUDIT_RELAY_MAX_ATTEMPTS" default:"10"`
	ArchiveDedupe  time.Duration `envconfig:"BOLETOS_AUDIT_ARCHIVE_DEDUPE_TTL" default:"720h"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"BOLETOS_CRON_INTERVAL" default:"1h"`
	LockTTL  time.Duration `envconfig:"BOLETOS_CRON_LOCK_TTL" default:"10m"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" || useSQLite {
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
