// Package config parses and validates all configuration from environment
// variables using caarlos0/env/v11. A .env file in the working directory is
// loaded first when present; real environment variables win over it.
//
// Call Load once at startup and pass the result (or its sub-structs) to the
// components that need it.
package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/Abraxas-365/jobrelay/pkg/errx"
	"github.com/Abraxas-365/jobrelay/pkg/logx"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var configErrors = errx.NewRegistry("CONFIG")

var (
	ErrParse   = configErrors.Register("PARSE", errx.TypeValidation, 400, "Failed to parse environment")
	ErrInvalid = configErrors.Register("INVALID", errx.TypeValidation, 400, "Invalid configuration")
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Redis    RedisConfig
	Postgres PostgresConfig
	Jobx     JobxConfig    `envPrefix:"JOBX_"`
	Hub      HubConfig     `envPrefix:"HUB_"`
	Alert    AlertConfig   `envPrefix:"ALERT_"`
	Archive  ArchiveConfig `envPrefix:"ARCHIVE_"`
	Auth     AuthConfig
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port            string        `env:"PORT"             envDefault:"8080"`
	Environment     string        `env:"APP_ENV"          envDefault:"development"`
	Version         string        `env:"APP_VERSION"      envDefault:"1.0.0"`
	CORSOrigins     string        `env:"CORS_ORIGINS"     envDefault:"*"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	// Debug includes underlying errors in API error responses.
	Debug bool `env:"DEBUG" envDefault:"false"`
}

// LogConfig maps onto logx.Config.
type LogConfig struct {
	Level      logx.Level  `env:"LOG_LEVEL"       envDefault:"info"`
	Format     logx.Format `env:"LOG_FORMAT"      envDefault:"console"`
	Color      bool        `env:"LOG_COLOR"       envDefault:"true"`
	Caller     bool        `env:"LOG_CALLER"      envDefault:"false"`
	TimeFormat string      `env:"LOG_TIME_FORMAT" envDefault:"RFC3339"`
}

// RedisConfig locates the Redis coordination store. URL wins over the
// discrete fields.
type RedisConfig struct {
	URL      string `env:"REDIS_URL"`
	Host     string `env:"REDIS_HOST"      envDefault:"localhost"`
	Port     string `env:"REDIS_PORT"      envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB"        envDefault:"0"`
	PoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"20"`
}

// PostgresConfig locates the alternative Postgres store.
type PostgresConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS"    envDefault:"20"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS"    envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	AutoMigrate     bool          `env:"DB_AUTO_MIGRATE"      envDefault:"true"`
}

// Backends accepted by JOBX_BACKEND.
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// JobxConfig configures the queue and the worker loop.
type JobxConfig struct {
	Backend           string        `env:"BACKEND"            envDefault:"redis"`
	KeyPrefix         string        `env:"KEY_PREFIX"         envDefault:"jobx"`
	TTL               time.Duration `env:"TTL"                envDefault:"1h"`
	WorkerID          string        `env:"WORKER_ID"`
	MaxRetries        int           `env:"MAX_RETRIES"        envDefault:"3"`
	Concurrency       int           `env:"CONCURRENCY"        envDefault:"1"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`
	PollInterval      time.Duration `env:"POLL_INTERVAL"      envDefault:"1s"`
	DequeueTimeout    time.Duration `env:"DEQUEUE_TIMEOUT"    envDefault:"5s"`
	JobTimeout        time.Duration `env:"JOB_TIMEOUT"        envDefault:"300s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT"   envDefault:"0s"`
}

// HubConfig configures the websocket hub and its upgrade limiter.
type HubConfig struct {
	PingInterval    time.Duration `env:"PING_INTERVAL"    envDefault:"30s"`
	ClientTimeout   time.Duration `env:"CLIENT_TIMEOUT"   envDefault:"2m"`
	SendBuffer      int           `env:"SEND_BUFFER"      envDefault:"256"`
	BroadcastBuffer int           `env:"BROADCAST_BUFFER" envDefault:"256"`
	WriteWait       time.Duration `env:"WRITE_WAIT"       envDefault:"10s"`
	// UpgradeRate is upgrades per second per IP; zero disables limiting.
	UpgradeRate  float64 `env:"UPGRADE_RATE"  envDefault:"5"`
	UpgradeBurst int     `env:"UPGRADE_BURST" envDefault:"10"`
}

// Alert providers accepted by ALERT_PROVIDER.
const (
	AlertConsole = "console"
	AlertSES     = "ses"
)

// AlertConfig configures failure alerts.
type AlertConfig struct {
	Provider      string   `env:"PROVIDER"       envDefault:"console"`
	From          string   `env:"FROM"           envDefault:"noreply@jobrelay.local"`
	Recipients    []string `env:"RECIPIENTS"     envSeparator:","`
	SubjectPrefix string   `env:"SUBJECT_PREFIX" envDefault:"[jobrelay]"`
	AWSRegion     string   `env:"AWS_REGION"     envDefault:"us-east-1"`
}

// Archive modes accepted by ARCHIVE_MODE.
const (
	ArchiveOff   = "off"
	ArchiveLocal = "local"
	ArchiveS3    = "s3"
)

// ArchiveConfig configures the result archive.
type ArchiveConfig struct {
	Mode      string `env:"MODE"       envDefault:"off"`
	Dir       string `env:"DIR"        envDefault:"./archive"`
	Bucket    string `env:"BUCKET"`
	AWSRegion string `env:"AWS_REGION" envDefault:"us-east-1"`
	Prefix    string `env:"PREFIX"     envDefault:"results"`
}

// AuthConfig configures bearer tokens. An empty secret disables auth.
type AuthConfig struct {
	JWTSecret string        `env:"JWT_SECRET"`
	Issuer    string        `env:"JWT_ISSUER"    envDefault:"jobrelay"`
	TokenTTL  time.Duration `env:"JWT_TOKEN_TTL" envDefault:"1h"`
}

// Enabled reports whether tokens are required.
func (a AuthConfig) Enabled() bool { return a.JWTSecret != "" }

// Load reads .env (if present) and the environment, then validates.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, configErrors.NewWithCause(ErrParse, err).WithDetail("file", ".env")
	}
	return parse(env.Options{})
}

// FromMap parses configuration from vars alone, ignoring the process
// environment.
func FromMap(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, configErrors.NewWithCause(ErrParse, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c *Config) Validate() error {
	invalid := func(field, reason string) error {
		return configErrors.New(ErrInvalid).WithDetail("field", field).WithDetail("reason", reason)
	}

	switch c.Jobx.Backend {
	case BackendRedis:
	case BackendPostgres:
		if c.Postgres.URL == "" {
			return invalid("DATABASE_URL", "required for the postgres backend")
		}
	default:
		return invalid("JOBX_BACKEND", "must be redis or postgres")
	}
	if c.Jobx.TTL < time.Second {
		return invalid("JOBX_TTL", "must be at least 1s")
	}
	if c.Jobx.Concurrency < 1 {
		return invalid("JOBX_CONCURRENCY", "must be at least 1")
	}
	if c.Jobx.MaxRetries < 0 {
		return invalid("JOBX_MAX_RETRIES", "must not be negative")
	}
	if c.Jobx.HeartbeatInterval <= 0 {
		return invalid("JOBX_HEARTBEAT_INTERVAL", "must be positive")
	}

	if c.Hub.PingInterval <= 0 {
		return invalid("HUB_PING_INTERVAL", "must be positive")
	}
	if c.Hub.ClientTimeout < c.Hub.PingInterval || c.Hub.ClientTimeout%c.Hub.PingInterval != 0 {
		return invalid("HUB_CLIENT_TIMEOUT", "must be a multiple of HUB_PING_INTERVAL")
	}

	switch c.Alert.Provider {
	case AlertConsole, AlertSES:
	default:
		return invalid("ALERT_PROVIDER", "must be console or ses")
	}

	switch c.Archive.Mode {
	case ArchiveOff, ArchiveLocal:
	case ArchiveS3:
		if c.Archive.Bucket == "" {
			return invalid("ARCHIVE_BUCKET", "required when ARCHIVE_MODE=s3")
		}
	default:
		return invalid("ARCHIVE_MODE", "must be off, local or s3")
	}
	return nil
}

// IsDevelopment reports whether APP_ENV is development.
func (c *Config) IsDevelopment() bool { return c.Server.Environment == "development" }

// RedisAddr returns host:port for the discrete Redis fields.
func (c *Config) RedisAddr() string { return c.Redis.Host + ":" + c.Redis.Port }

// Logger builds the root logger.
func (c *Config) Logger() *logx.Logger {
	lc := logx.DefaultConfig()
	lc.Level = c.Log.Level
	lc.Format = c.Log.Format
	lc.EnableColors = c.Log.Color
	lc.EnableCaller = c.Log.Caller
	lc.TimeFormat = logx.ResolveTimeFormat(c.Log.TimeFormat)
	return logx.New(lc)
}
