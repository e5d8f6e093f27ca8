package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/portcullis/pkg/authz"
	"github.com/platinummonkey/portcullis/pkg/middleware"
)

const (
	// TokenPrefix identifies tokens minted by this service
	TokenPrefix = "portcullis_"
	// TokenLength is the total length of random bytes (32 bytes = 256 bits)
	TokenLength = 32
)

// APIToken is the stored token record. The plaintext secret is returned
// exactly once at creation time and only its SHA256 hash is persisted.
type APIToken struct {
	ID          int64      `json:"id"`
	PrincipalID int64      `json:"principal_id"`
	TokenHash   string     `json:"-"`
	TokenPrefix string     `json:"token_prefix"`
	Name        string     `json:"name"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Expired reports whether the token is past its expiry at now.
func (t *APIToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// Revoked reports whether the token has been revoked.
func (t *APIToken) Revoked() bool {
	return t.RevokedAt != nil
}

// TokenStore persists token records and resolves them back to principals.
type TokenStore interface {
	// TokenByHash returns the token record for a hash, or an error wrapping
	// authz.ErrUnauthenticated when no live record exists.
	TokenByHash(ctx context.Context, hash string) (*APIToken, error)

	// PrincipalByID loads the principal a token belongs to, with its role
	// and department assignments.
	PrincipalByID(ctx context.Context, id int64) (*authz.Principal, error)
}

// TokenGenerator generates and validates API tokens
type TokenGenerator struct{}

// NewTokenGenerator creates a new token generator
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// GenerateToken creates a new API token.
// Format: portcullis_<base64url(32 random bytes)>
func (tg *TokenGenerator) GenerateToken() (token string, tokenHash string, tokenPrefix string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encodedToken := base64.RawURLEncoding.EncodeToString(randomBytes)
	fullToken := TokenPrefix + encodedToken

	hash := sha256.Sum256([]byte(fullToken))
	hashStr := hex.EncodeToString(hash[:])

	// First 8 chars after the prefix identify the token in listings
	// without revealing the secret.
	prefix := TokenPrefix
	if len(encodedToken) >= 8 {
		prefix = TokenPrefix + encodedToken[:8]
	}

	return fullToken, hashStr, prefix, nil
}

// HashToken computes the SHA256 hash of a token for lookup
func (tg *TokenGenerator) HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks if a token has the correct format
func (tg *TokenGenerator) ValidateTokenFormat(token string) error {
	if !strings.HasPrefix(token, TokenPrefix) {
		return fmt.Errorf("token must start with %q", TokenPrefix)
	}

	encodedPart := strings.TrimPrefix(token, TokenPrefix)
	if len(encodedPart) == 0 {
		return fmt.Errorf("token is too short")
	}

	if _, err := base64.RawURLEncoding.DecodeString(encodedPart); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}

	return nil
}

// TokenAuthenticator validates bearer API tokens and resolves them to
// principals. It implements middleware.Authenticator.
type TokenAuthenticator struct {
	generator *TokenGenerator
	store     TokenStore
	now       func() time.Time
}

// NewTokenAuthenticator creates a token authenticator over a store.
func NewTokenAuthenticator(store TokenStore) *TokenAuthenticator {
	return &TokenAuthenticator{
		generator: NewTokenGenerator(),
		store:     store,
		now:       time.Now,
	}
}

// Authenticate extracts and validates the bearer token, returning the
// owning principal. All credential failures wrap authz.ErrUnauthenticated.
func (a *TokenAuthenticator) Authenticate(r *http.Request) (*authz.Principal, error) {
	token, ok := middleware.BearerToken(r)
	if !ok {
		return nil, fmt.Errorf("%w: missing bearer token", authz.ErrUnauthenticated)
	}
	if err := a.generator.ValidateTokenFormat(token); err != nil {
		return nil, fmt.Errorf("%w: %v", authz.ErrUnauthenticated, err)
	}

	record, err := a.store.TokenByHash(r.Context(), a.generator.HashToken(token))
	if err != nil {
		return nil, err
	}
	if record.Revoked() {
		return nil, fmt.Errorf("%w: token revoked", authz.ErrUnauthenticated)
	}
	if record.Expired(a.now()) {
		return nil, fmt.Errorf("%w: token expired", authz.ErrUnauthenticated)
	}

	principal, err := a.store.PrincipalByID(r.Context(), record.PrincipalID)
	if err != nil {
		return nil, err
	}
	return principal, nil
}
