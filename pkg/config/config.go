package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Password      PasswordConfig
	Download      DownloadConfig
	AuthRateLimit AuthRateLimitConfig
	FeatureFlags  FeatureFlagsConfig
	GCP           GCPConfig
	GCS           GCSConfig
	PubSub        PubSubConfig
	Stripe        StripeConfig
	Sendgrid      SendgridConfig
	Outbox        OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"UNLOCKIT_APP_ENV" required:"true"`
	Port         string `envconfig:"UNLOCKIT_APP_PORT" required:"true"`
	BaseURL      string `envconfig:"UNLOCKIT_APP_BASE_URL"`
	LogLevel     string `envconfig:"UNLOCKIT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"UNLOCKIT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"UNLOCKIT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"UNLOCKIT_DB_DSN"`
	Driver string `envconfig:"UNLOCKIT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"UNLOCKIT_DB_HOST"`
	LegacyPort     int    `envconfig:"UNLOCKIT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"UNLOCKIT_DB_USER"`
	LegacyPassword string `envconfig:"UNLOCKIT_DB_PASSWORD"`
	LegacyName     string `envconfig:"UNLOCKIT_DB_NAME"`
	LegacySSLMode  string `envconfig:"UNLOCKIT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"UNLOCKIT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"UNLOCKIT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"UNLOCKIT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"UNLOCKIT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"UNLOCKIT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"UNLOCKIT_REDIS_ADDR"`
	Password     string        `envconfig:"UNLOCKIT_REDIS_PASSWORD"`
	DB           int           `envconfig:"UNLOCKIT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"UNLOCKIT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"UNLOCKIT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"UNLOCKIT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"UNLOCKIT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"UNLOCKIT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret                 string `envconfig:"UNLOCKIT_JWT_SECRET" required:"true"`
	Issuer                 string `envconfig:"UNLOCKIT_JWT_ISSUER" required:"true"`
	ExpirationMinutes      int    `envconfig:"UNLOCKIT_JWT_EXPIRATION_MINUTES" required:"true"`
	RefreshTokenTTLMinutes int    `envconfig:"UNLOCKIT_REFRESH_TOKEN_TTL_MINUTES" default:"43200"`
}

// RefreshTokenTTL returns the refresh token TTL configured in minutes.
func (j JWTConfig) RefreshTokenTTL() time.Duration {
	if j.RefreshTokenTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.RefreshTokenTTLMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"UNLOCKIT_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"UNLOCKIT_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"UNLOCKIT_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"UNLOCKIT_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"UNLOCKIT_ARGON_KEY_LEN" default:"32"`
}

// DownloadConfig drives the payment-gated download flow: the token codec
// secret, the page a buyer lands on to redeem a token, and where failed
// redemptions get redirected.
type DownloadConfig struct {
	TokenSecret    string `envconfig:"UNLOCKIT_DOWNLOAD_TOKEN_SECRET" required:"true"`
	PageURL        string `envconfig:"UNLOCKIT_DOWNLOAD_PAGE_URL" required:"true"`
	ErrorURL       string `envconfig:"UNLOCKIT_DOWNLOAD_ERROR_URL" required:"true"`
	MaxUsageNumber int    `envconfig:"UNLOCKIT_DOWNLOAD_MAX_USAGE" default:"0"`
}

// AuthRateLimitConfig throttles credential-bearing endpoints per IP and per
// email.
type AuthRateLimitConfig struct {
	LoginWindow        time.Duration `envconfig:"UNLOCKIT_AUTH_RATE_LIMIT_LOGIN_WINDOW" default:"1m"`
	LoginEmailLimit    int           `envconfig:"UNLOCKIT_AUTH_RATE_LIMIT_LOGIN_EMAIL_LIMIT" default:"5"`
	LoginIPLimit       int           `envconfig:"UNLOCKIT_AUTH_RATE_LIMIT_LOGIN_IP_LIMIT" default:"20"`
	RegisterWindow     time.Duration `envconfig:"UNLOCKIT_AUTH_RATE_LIMIT_REGISTER_WINDOW" default:"5m"`
	RegisterEmailLimit int           `envconfig:"UNLOCKIT_AUTH_RATE_LIMIT_REGISTER_EMAIL_LIMIT" default:"3"`
	RegisterIPLimit    int           `envconfig:"UNLOCKIT_AUTH_RATE_LIMIT_REGISTER_IP_LIMIT" default:"20"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"UNLOCKIT_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"UNLOCKIT_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"UNLOCKIT_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"UNLOCKIT_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"UNLOCKIT_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	BucketName      string        `envconfig:"UNLOCKIT_GCS_BUCKET_NAME" required:"true"`
	UploadURLExpiry time.Duration `envconfig:"UNLOCKIT_GCS_UPLOAD_URL_EXPIRY" default:"15m"`
}

type PubSubConfig struct {
	DomainTopic              string `envconfig:"UNLOCKIT_PUBSUB_DOMAIN_TOPIC" required:"true"`
	NotificationSubscription string `envconfig:"UNLOCKIT_PUBSUB_NOTIFICATION_SUBSCRIPTION" required:"true"`
}

type StripeConfig struct {
	APIKey         string  `envconfig:"UNLOCKIT_STRIPE_API_KEY"`
	WebhookSecret  string  `envconfig:"UNLOCKIT_STRIPE_WEBHOOK_SECRET"`
	Env            string  `envconfig:"UNLOCKIT_STRIPE_ENV" default:"test"`
	SuccessURL     string  `envconfig:"UNLOCKIT_STRIPE_SUCCESS_URL"`
	CancelURL      string  `envconfig:"UNLOCKIT_STRIPE_CANCEL_URL"`
	PlatformFeePct float64 `envconfig:"UNLOCKIT_PLATFORM_FEE_PERCENT" default:"10"`
	Currency       string  `envconfig:"UNLOCKIT_STRIPE_CURRENCY" default:"usd"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type SendgridConfig struct {
	APIKey      string `envconfig:"UNLOCKIT_SENDGRID_API_KEY"`
	DefaultFrom string `envconfig:"UNLOCKIT_SENDGRID_FROM_EMAIL"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"UNLOCKIT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"UNLOCKIT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"UNLOCKIT_OUTBOX_MAX_ATTEMPTS" default:"10"`
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
