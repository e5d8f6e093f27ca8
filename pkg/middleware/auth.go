package middleware

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/portcullis/pkg/authz"
)

// Authenticator resolves request credentials to a principal. Implementations
// must return authz.ErrUnauthenticated (possibly wrapped) for missing or
// invalid credentials so the gate can map the failure to 401 rather than 500.
type Authenticator interface {
	Authenticate(r *http.Request) (*authz.Principal, error)
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(r *http.Request) (*authz.Principal, error)

// Authenticate calls f.
func (f AuthenticatorFunc) Authenticate(r *http.Request) (*authz.Principal, error) {
	return f(r)
}

// BearerToken extracts the bearer token from the Authorization header.
// Format: "Bearer <token>"
func BearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
