package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatekeep/pkg/observability"
	"github.com/platinummonkey/gatekeep/pkg/storage/postgres"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Schema        SchemaConfig
	Postgres      PostgresConfig
	Redis         RedisConfig
	Roles         RolesConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s liveness and readiness checks)
	HealthPort string

	// RequireUser rejects requests that arrive without an identity header
	RequireUser bool

	// Audit records mutating and denied requests, persisted when a
	// database is configured
	Audit bool
}

// SchemaConfig locates the permission schema
type SchemaConfig struct {
	Path  string
	Watch bool
}

// PostgresConfig holds database settings
type PostgresConfig struct {
	URL         string
	ReplicaURLs string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration

	// ApplyPolicies installs row-level security policies at startup
	ApplyPolicies bool
	PolicyRole    string
	ViewSuffix    string
}

// Connection converts the settings into a connection manager configuration
func (c PostgresConfig) Connection() postgres.ConnectionConfig {
	return postgres.ConnectionConfig{
		PrimaryURL:  c.URL,
		ReplicaURLs: postgres.ParseReplicaURLs(c.ReplicaURLs),
		MaxConns:    c.MaxConns,
		MinConns:    c.MinConns,
		Timeout:     c.Timeout,
		MaxLifetime: 30 * time.Minute,
		MaxIdleTime: 5 * time.Minute,
	}
}

// RedisConfig holds the settings of the role invalidation channel. Redis is
// optional; without it instances only pick up other instances' role
// changes on the periodic refresh.
type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
	Channel  string
}

// RolesConfig tunes the role registry
type RolesConfig struct {
	RefreshSchedule string
	CacheSize       int
	CacheTTL        time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string
	MetricsEnabled bool

	// OpenTelemetry OTLP export
	OTelEnabled     bool
	OTelEndpoint    string
	OTelInsecure    bool
	OTelSampleRatio float64
}

// OTel converts the settings into an exporter configuration
func (c ObservabilityConfig) OTel(version string) observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.OTelEnabled,
		Endpoint:       c.OTelEndpoint,
		ServiceName:    "gatekeep",
		ServiceVersion: version,
		Insecure:       c.OTelInsecure,
		SampleRatio:    c.OTelSampleRatio,
	}
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("GATEKEEP_HOST", "0.0.0.0"),
			Port:            getEnv("GATEKEEP_PORT", "8080"),
			ReadTimeout:     getEnvDuration("GATEKEEP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("GATEKEEP_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("GATEKEEP_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("GATEKEEP_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("GATEKEEP_HEALTH_PORT", "9090"),
			RequireUser:     getEnvBool("GATEKEEP_REQUIRE_USER", false),
			Audit:           getEnvBool("GATEKEEP_AUDIT", true),
		},
		Schema: SchemaConfig{
			Path:  getEnv("GATEKEEP_SCHEMA_PATH", "schema.yaml"),
			Watch: getEnvBool("GATEKEEP_WATCH_SCHEMA", false),
		},
		Postgres: PostgresConfig{
			URL:           getEnv("GATEKEEP_POSTGRES_URL", ""),
			ReplicaURLs:   getEnv("GATEKEEP_POSTGRES_REPLICA_URLS", ""),
			MaxConns:      getEnvInt("GATEKEEP_POSTGRES_MAX_CONNS", 20),
			MinConns:      getEnvInt("GATEKEEP_POSTGRES_MIN_CONNS", 2),
			Timeout:       getEnvDuration("GATEKEEP_POSTGRES_TIMEOUT", 5*time.Second),
			ApplyPolicies: getEnvBool("GATEKEEP_APPLY_POLICIES", false),
			PolicyRole:    getEnv("GATEKEEP_POLICY_ROLE", ""),
			ViewSuffix:    getEnv("GATEKEEP_VIEW_SUFFIX", ""),
		},
		Redis: RedisConfig{
			URL:      getEnv("GATEKEEP_REDIS_URL", ""),
			Password: getEnv("GATEKEEP_REDIS_PASSWORD", ""),
			DB:       getEnvInt("GATEKEEP_REDIS_DB", -1),
			PoolSize: getEnvInt("GATEKEEP_REDIS_POOL_SIZE", 0),
			Channel:  getEnv("GATEKEEP_REDIS_CHANNEL", "gatekeep:roles:invalidate"),
		},
		Roles: RolesConfig{
			RefreshSchedule: getEnv("GATEKEEP_ROLE_REFRESH_SCHEDULE", "@every 5m"),
			CacheSize:       getEnvInt("GATEKEEP_CAPABILITY_CACHE_SIZE", 10000),
			CacheTTL:        getEnvDuration("GATEKEEP_CAPABILITY_CACHE_TTL", 5*time.Minute),
		},
		Observability: ObservabilityConfig{
			LogLevel:       strings.ToLower(getEnv("GATEKEEP_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("GATEKEEP_METRICS_ENABLED", true),

			OTelEnabled:     getEnvBool("GATEKEEP_OTEL_ENABLED", false),
			OTelEndpoint:    getEnv("GATEKEEP_OTEL_ENDPOINT", "localhost:4317"),
			OTelInsecure:    getEnvBool("GATEKEEP_OTEL_INSECURE", true),
			OTelSampleRatio: getEnvFloat("GATEKEEP_OTEL_SAMPLE_RATIO", 1.0),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid. Every problem is reported.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server port is required"))
	}
	if c.Server.HealthPort == "" {
		errs = append(errs, errors.New("health port is required"))
	}
	if c.Server.Port != "" && c.Server.Port == c.Server.HealthPort {
		errs = append(errs, errors.New("server port and health port must be different"))
	}

	if c.Schema.Path == "" {
		errs = append(errs, errors.New("schema path is required"))
	}

	if c.Postgres.ApplyPolicies && c.Postgres.URL == "" {
		errs = append(errs, errors.New("postgres URL is required to apply policies"))
	}
	if c.Postgres.URL != "" {
		if err := c.Postgres.Connection().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}

	if c.Roles.RefreshSchedule != "" {
		if _, err := cron.ParseStandard(c.Roles.RefreshSchedule); err != nil {
			errs = append(errs, fmt.Errorf("invalid role refresh schedule %q: %w", c.Roles.RefreshSchedule, err))
		}
	}
	if c.Roles.CacheSize < 0 {
		errs = append(errs, errors.New("capability cache size must not be negative"))
	}

	if _, err := logrus.ParseLevel(c.Observability.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.Observability.OTelEnabled && c.Observability.OTelEndpoint == "" {
		errs = append(errs, errors.New("otel endpoint is required when otel is enabled"))
	}
	if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("otel sample ratio %v must be between 0 and 1", r))
	}

	return errors.Join(errs...)
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
