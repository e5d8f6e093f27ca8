// Package contextkeys provides centralized context key definitions.
//
// All context keys used across the engine are defined here to prevent
// typos and make key usage discoverable.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains *authz.Principal
	// Set by: the request gate after authentication
	// Required by: permission checks, downstream handlers
	PrincipalKey Key = "principal"

	// GrantKey contains *authz.EffectiveGrant
	// Set by: the request gate after authorization
	// Required by: business-logic handlers applying scope predicates
	// and field filtering
	GrantKey Key = "effective_grant"

	// RequestIDKey contains the request ID string (UUID)
	// Set by: request-ID middleware
	// Used by: logger, diagnostics
	RequestIDKey Key = "request_id"

	// UserIDKey contains the authenticated user ID string
	// Set by: the request gate after authentication
	// Used by: logger, diagnostics
	UserIDKey Key = "user_id"

	// LoggerKey contains *observability.Logger
	// Set by: logging middleware
	LoggerKey Key = "logger"
)

// WithPrincipal adds the authenticated principal to the context
func WithPrincipal(ctx context.Context, principal interface{}) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// WithGrant adds the resolved effective grant to the context
func WithGrant(ctx context.Context, grant interface{}) context.Context {
	return context.WithValue(ctx, GrantKey, grant)
}

// WithRequestID adds the request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds the user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithLogger adds the logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves the user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}
