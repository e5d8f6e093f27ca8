package config

import (
	"testing"
	"time"

	"github.com/platinummonkey/portcullis/pkg/observability"
)

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "custom")
	if got := getEnv("TEST_VAR", "default"); got != "custom" {
		t.Errorf("getEnv() = %v, want custom", got)
	}
	if got := getEnv("TEST_VAR_NOT_SET", "default"); got != "default" {
		t.Errorf("getEnv() = %v, want default", got)
	}
}

// TestGetEnvBool tests the getEnvBool helper function
func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue bool
		want         bool
	}{
		{"true string", "true", false, true},
		{"TRUE string", "TRUE", false, true},
		{"one", "1", false, true},
		{"false string", "false", true, false},
		{"garbage", "yes please", true, false},
		{"unset uses default", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv("TEST_BOOL", tt.envValue)
			}
			if got := getEnvBool("TEST_BOOL", tt.defaultValue); got != tt.want {
				t.Errorf("getEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvDuration tests the getEnvDuration helper function
func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_DURATION", "45s")
	if got := getEnvDuration("TEST_DURATION", time.Minute); got != 45*time.Second {
		t.Errorf("getEnvDuration() = %v, want 45s", got)
	}

	t.Setenv("TEST_DURATION_BAD", "not-a-duration")
	if got := getEnvDuration("TEST_DURATION_BAD", time.Minute); got != time.Minute {
		t.Errorf("getEnvDuration() = %v, want fallback 1m", got)
	}
}

// TestGetEnvList tests the getEnvList helper function
func TestGetEnvList(t *testing.T) {
	t.Setenv("TEST_LIST", "openid, email ,profile,")
	got := getEnvList("TEST_LIST", nil)
	want := []string{"openid", "email", "profile"}
	if len(got) != len(want) {
		t.Fatalf("getEnvList() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("getEnvList()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

// TestParseLogLevel tests log level parsing
func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  observability.LogLevel
	}{
		{"debug", observability.DebugLevel},
		{"info", observability.InfoLevel},
		{"warn", observability.WarnLevel},
		{"warning", observability.WarnLevel},
		{"error", observability.ErrorLevel},
		{"ERROR", observability.ErrorLevel},
		{"unknown", observability.InfoLevel},
	}

	for _, tt := range tests {
		if got := parseLogLevel(tt.input); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

// TestLoadConfigDefaults tests loading with only the required settings
func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PORTCULLIS_POSTGRES_URL", "postgres://localhost/portcullis_test")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("default port = %v, want 8080", cfg.Server.Port)
	}
	if cfg.Server.HealthPort != "9090" {
		t.Errorf("default health port = %v, want 9090", cfg.Server.HealthPort)
	}
	if cfg.Cache.Size != 4096 {
		t.Errorf("default cache size = %v, want 4096", cfg.Cache.Size)
	}
	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("default cache TTL = %v, want 5m", cfg.Cache.TTL)
	}
	if cfg.Auth.Mode != "token" {
		t.Errorf("default auth mode = %v, want token", cfg.Auth.Mode)
	}
	if cfg.Routes.File != "routes.yaml" {
		t.Errorf("default routes file = %v, want routes.yaml", cfg.Routes.File)
	}
	if !cfg.Routes.Watch {
		t.Error("default routes watch should be enabled")
	}
}

// TestLoadConfigOverrides tests environment variable overrides
func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("PORTCULLIS_POSTGRES_URL", "postgres://db:5432/authz")
	t.Setenv("PORTCULLIS_PORT", "9000")
	t.Setenv("PORTCULLIS_CACHE_TTL", "30s")
	t.Setenv("PORTCULLIS_LOG_LEVEL", "debug")
	t.Setenv("PORTCULLIS_AUTH_MODE", "oidc")
	t.Setenv("PORTCULLIS_OIDC_ISSUER_URL", "https://issuer.example.com")
	t.Setenv("PORTCULLIS_OIDC_CLIENT_ID", "portcullis")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}

	if cfg.Server.Port != "9000" {
		t.Errorf("port = %v, want 9000", cfg.Server.Port)
	}
	if cfg.Cache.TTL != 30*time.Second {
		t.Errorf("cache TTL = %v, want 30s", cfg.Cache.TTL)
	}
	if cfg.Observability.LogLevel != observability.DebugLevel {
		t.Errorf("log level = %v, want debug", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Mode != "oidc" {
		t.Errorf("auth mode = %v, want oidc", cfg.Auth.Mode)
	}
}

// TestValidate tests configuration validation failures
func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server: ServerConfig{Port: "8080", HealthPort: "9090"},
			Database: DatabaseConfig{
				URL: "postgres://localhost/portcullis",
			},
			Cache:  CacheConfig{Size: 1024, TTL: time.Minute},
			Auth:   AuthConfig{Mode: "token"},
			Routes: RoutesConfig{File: "routes.yaml"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing port", func(c *Config) { c.Server.Port = "" }, true},
		{"same ports", func(c *Config) { c.Server.HealthPort = "8080" }, true},
		{"missing postgres URL", func(c *Config) { c.Database.URL = "" }, true},
		{"missing routes file", func(c *Config) { c.Routes.File = "" }, true},
		{"bad auth mode", func(c *Config) { c.Auth.Mode = "ldap" }, true},
		{"oidc without issuer", func(c *Config) { c.Auth.Mode = "oidc" }, true},
		{"zero cache size", func(c *Config) { c.Cache.Size = 0 }, true},
		{"zero cache TTL", func(c *Config) { c.Cache.TTL = 0 }, true},
		{"otel enabled without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelEndpoint = ""
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
