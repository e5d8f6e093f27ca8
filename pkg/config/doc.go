// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	PORTCULLIS_HOST="0.0.0.0"
//	PORTCULLIS_PORT="8080"
//	PORTCULLIS_HEALTH_PORT="9090"
//	PORTCULLIS_READ_TIMEOUT="15s"
//	PORTCULLIS_WRITE_TIMEOUT="15s"
//
// Database settings:
//
//	PORTCULLIS_POSTGRES_URL="postgres://localhost/portcullis"
//	PORTCULLIS_POSTGRES_MAX_CONNS="25"
//
// Invalidation bus and cache settings:
//
//	PORTCULLIS_REDIS_ADDR="localhost:6379"
//	PORTCULLIS_CACHE_SIZE="4096"
//	PORTCULLIS_CACHE_TTL="5m"
//
// Authentication settings:
//
//	PORTCULLIS_AUTH_MODE="token"  # token, oidc
//	PORTCULLIS_OIDC_ISSUER_URL="https://issuer.example.com"
//	PORTCULLIS_OIDC_CLIENT_ID="portcullis"
//
// Route table settings:
//
//	PORTCULLIS_ROUTES_FILE="routes.yaml"
//	PORTCULLIS_ROUTES_WATCH="true"
//
// Observability settings:
//
//	PORTCULLIS_LOG_LEVEL="info"
//	PORTCULLIS_METRICS_ENABLED="true"
//	PORTCULLIS_DEPT_REFRESH_SCHEDULE="@every 10m"
//	PORTCULLIS_OTEL_ENABLED="false"
//	PORTCULLIS_OTEL_ENDPOINT="localhost:4317"
package config
