// Package config manages environment variables.
//
// It reads variables from the process environment (optionally seeded from
// a `.env` file), loads them into structured Go types, and validates that
// required values are present so the app fails fast on bad config.
//
// Env vars are read with the BATCHD_ prefix and mapped to nested struct
// fields via dot notation, e.g. BATCHD_SERVER.PORT -> Config.Server.Port.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	_ "github.com/joho/godotenv/autoload"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
)

// Config is the root configuration object for the application.
//
// Observability is a pointer because it is optional; defaults are
// injected at load time when it is absent.
type Config struct {
	Primary       Primary              `koanf:"primary" validate:"required"`
	Server        ServerConfig         `koanf:"server" validate:"required"`
	Database      DatabaseConfig       `koanf:"database" validate:"required"`
	Redis         RedisConfig          `koanf:"redis" validate:"required"`
	Auth          AuthConfig           `koanf:"auth" validate:"required"`
	Cache         CacheConfig          `koanf:"cache"`
	Labels        LabelsConfig         `koanf:"labels"`
	Observability *ObservabilityConfig `koanf:"observability"`
}

// Primary holds top-level information about the runtime environment.
type Primary struct {
	Env string `koanf:"env" validate:"required"`
}

// ServerConfig groups settings for the HTTP server runtime.
// Timeouts are stored as seconds.
type ServerConfig struct {
	Port               string   `koanf:"port" validate:"required"`
	ReadTimeout        int      `koanf:"read_timeout" validate:"required"`
	WriteTimeout       int      `koanf:"write_timeout" validate:"required"`
	IdleTimeout        int      `koanf:"idle_timeout" validate:"required"`
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins" validate:"required"`
}

// DatabaseConfig contains PostgreSQL connection parameters and pool tuning.
type DatabaseConfig struct {
	Host            string `koanf:"host" validate:"required"`
	Port            int    `koanf:"port" validate:"required"`
	User            string `koanf:"user" validate:"required"`
	Password        string `koanf:"password" validate:"required"`
	Name            string `koanf:"name" validate:"required"`
	SSLMode         string `koanf:"ssl_mode" validate:"required"`
	MaxOpenConns    int    `koanf:"max_open_conns" validate:"required"`
	MaxIdleConns    int    `koanf:"max_idle_conns" validate:"required"`
	ConnMaxLifetime int    `koanf:"conn_max_lifetime" validate:"required"`
	ConnMaxIdleTime int    `koanf:"conn_max_idle_time" validate:"required"`
}

// RedisConfig contains Redis connection details. Address is "host:port".
type RedisConfig struct {
	Address string `koanf:"address" validate:"required"`
}

// AuthConfig stores authentication-related secrets.
type AuthConfig struct {
	SecretKey string `koanf:"secret_key" validate:"required"`
}

// CacheConfig tunes the batch snapshot cache.
type CacheConfig struct {
	// TTL bounds how long a cached batch snapshot may outlive the record
	// it was taken from. Cross-process staleness is bounded by this value.
	TTL time.Duration `koanf:"ttl"`

	// DefaultPageSize is used when an errors listing request omits pagesize.
	DefaultPageSize int `koanf:"default_page_size"`

	// MaxPageSize is the upper bound for the errors listing pagesize.
	MaxPageSize int `koanf:"max_page_size"`
}

// LabelsConfig configures the label-generation collaborator and the
// processing workflow built on top of it.
type LabelsConfig struct {
	// Endpoint is the carrier label API base URL.
	Endpoint string `koanf:"endpoint"`

	// APIKey authenticates requests to the carrier label API.
	APIKey string `koanf:"api_key"`

	// RequestTimeout bounds a single label generation call.
	RequestTimeout time.Duration `koanf:"request_timeout"`

	// ProcessingDeadline is how long a batch may sit in "processing"
	// before the reconcile task reverts it to "open" for retry.
	ProcessingDeadline time.Duration `koanf:"processing_deadline"`
}

// LoadConfig loads configuration from environment variables, unmarshals it
// into Config, validates it, and applies defaults.
//
// It logs fatally on any failure: the process cannot do anything useful
// with a broken config.
func LoadConfig() (*Config, error) {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	k := koanf.New(".")

	// Only env vars with the BATCHD_ prefix are read; the prefix is
	// stripped and the remainder lowercased to form the koanf key path.
	err := k.Load(env.Provider("BATCHD_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "BATCHD_"))
	}), nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("Could not load initial env variables.")
	}

	mainConfig := &Config{}
	if err := k.Unmarshal("", mainConfig); err != nil {
		logger.Fatal().Err(err).Msg("Could not unmarshal main config.")
	}

	validate := validator.New()
	if err := validate.Struct(mainConfig); err != nil {
		logger.Fatal().Err(err).Msg("Config validation failed.")
	}

	applyCacheDefaults(&mainConfig.Cache)
	applyLabelsDefaults(&mainConfig.Labels)

	if mainConfig.Observability == nil {
		mainConfig.Observability = DefaultObservabilityConfig()
	}

	// Service name and environment are forced so telemetry sees
	// consistent naming regardless of what the env supplied.
	mainConfig.Observability.ServiceName = "batchd"
	mainConfig.Observability.Environment = mainConfig.Primary.Env

	if err := mainConfig.Observability.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid observability config")
	}

	return mainConfig, nil
}

func applyCacheDefaults(c *CacheConfig) {
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
	if c.DefaultPageSize <= 0 {
		c.DefaultPageSize = 25
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = 100
	}
}

func applyLabelsDefaults(c *LabelsConfig) {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.ProcessingDeadline <= 0 {
		c.ProcessingDeadline = 15 * time.Minute
	}
}
