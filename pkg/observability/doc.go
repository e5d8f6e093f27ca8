// Package observability provides the shared operational surface of the
// authorization engine: a structured JSON logger over log/slog, Prometheus
// metrics for authorization decisions and cache behavior, OpenTelemetry
// trace initialization, dependency health checks, and graceful shutdown
// coordination.
package observability
