// Package config loads application configuration from environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/portcullis/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration (invalidation bus)
	Redis RedisConfig

	// Bundle cache configuration
	Cache CacheConfig

	// Authentication configuration
	Auth AuthConfig

	// Route table configuration
	Routes RoutesConfig

	// Observability configuration
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

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// RedisConfig holds the invalidation bus connection configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// CacheConfig holds bundle cache tuning
type CacheConfig struct {
	Size int
	TTL  time.Duration
}

// AuthConfig selects and configures the authenticator
type AuthConfig struct {
	// Mode is "token" or "oidc"
	Mode string

	OIDCIssuerURL    string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCRedirectURL  string
	OIDCScopes       []string
}

// RoutesConfig holds the route table location
type RoutesConfig struct {
	File  string
	Watch bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// Department tree refresh schedule (cron expression); empty disables
	// the periodic backstop rebuild.
	DeptRefreshSchedule string

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("PORTCULLIS_HOST", "0.0.0.0"),
			Port:            getEnv("PORTCULLIS_PORT", "8080"),
			ReadTimeout:     getEnvDuration("PORTCULLIS_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("PORTCULLIS_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("PORTCULLIS_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("PORTCULLIS_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("PORTCULLIS_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:         getEnv("PORTCULLIS_POSTGRES_URL", ""),
			MaxConns:    getEnvInt("PORTCULLIS_POSTGRES_MAX_CONNS", 25),
			MinConns:    getEnvInt("PORTCULLIS_POSTGRES_MIN_CONNS", 5),
			Timeout:     getEnvDuration("PORTCULLIS_POSTGRES_TIMEOUT", 5*time.Second),
			MaxLifetime: getEnvDuration("PORTCULLIS_POSTGRES_MAX_LIFETIME", 30*time.Minute),
			MaxIdleTime: getEnvDuration("PORTCULLIS_POSTGRES_MAX_IDLE_TIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("PORTCULLIS_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("PORTCULLIS_REDIS_PASSWORD", ""),
			DB:       getEnvInt("PORTCULLIS_REDIS_DB", 0),
		},
		Cache: CacheConfig{
			Size: getEnvInt("PORTCULLIS_CACHE_SIZE", 4096),
			TTL:  getEnvDuration("PORTCULLIS_CACHE_TTL", 5*time.Minute),
		},
		Auth: AuthConfig{
			Mode:             strings.ToLower(getEnv("PORTCULLIS_AUTH_MODE", "token")),
			OIDCIssuerURL:    getEnv("PORTCULLIS_OIDC_ISSUER_URL", ""),
			OIDCClientID:     getEnv("PORTCULLIS_OIDC_CLIENT_ID", ""),
			OIDCClientSecret: getEnv("PORTCULLIS_OIDC_CLIENT_SECRET", ""),
			OIDCRedirectURL:  getEnv("PORTCULLIS_OIDC_REDIRECT_URL", ""),
			OIDCScopes:       getEnvList("PORTCULLIS_OIDC_SCOPES", []string{"openid", "email", "profile"}),
		},
		Routes: RoutesConfig{
			File:  getEnv("PORTCULLIS_ROUTES_FILE", "routes.yaml"),
			Watch: getEnvBool("PORTCULLIS_ROUTES_WATCH", true),
		},
		Observability: ObservabilityConfig{
			LogLevel:            parseLogLevel(getEnv("PORTCULLIS_LOG_LEVEL", "info")),
			MetricsEnabled:      getEnvBool("PORTCULLIS_METRICS_ENABLED", true),
			DeptRefreshSchedule: getEnv("PORTCULLIS_DEPT_REFRESH_SCHEDULE", "@every 10m"),
			OTelEnabled:         getEnvBool("PORTCULLIS_OTEL_ENABLED", false),
			OTelEndpoint:        getEnv("PORTCULLIS_OTEL_ENDPOINT", "localhost:4317"),
			OTelServiceName:     getEnv("PORTCULLIS_OTEL_SERVICE_NAME", "portcullis"),
			OTelServiceVersion:  getEnv("PORTCULLIS_OTEL_SERVICE_VERSION", "1.0.0"),
			OTelInsecure:        getEnvBool("PORTCULLIS_OTEL_INSECURE", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Routes.File == "" {
		return fmt.Errorf("route table file is required")
	}

	switch c.Auth.Mode {
	case "token":
	case "oidc":
		if c.Auth.OIDCIssuerURL == "" {
			return fmt.Errorf("OIDC issuer URL is required when auth mode is oidc")
		}
		if c.Auth.OIDCClientID == "" {
			return fmt.Errorf("OIDC client ID is required when auth mode is oidc")
		}
	default:
		return fmt.Errorf("invalid auth mode: %s (must be token or oidc)", c.Auth.Mode)
	}

	if c.Cache.Size <= 0 {
		return fmt.Errorf("cache size must be positive")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma-separated environment variable or a default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
