package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/portcullis/pkg/authz"
)

type memTokenStore struct {
	tokens     map[string]*APIToken // hash -> record
	principals map[int64]*authz.Principal
}

func (s *memTokenStore) TokenByHash(ctx context.Context, hash string) (*APIToken, error) {
	t, ok := s.tokens[hash]
	if !ok {
		return nil, authz.ErrUnauthenticated
	}
	return t, nil
}

func (s *memTokenStore) PrincipalByID(ctx context.Context, id int64) (*authz.Principal, error) {
	p, ok := s.principals[id]
	if !ok {
		return nil, authz.ErrUnauthenticated
	}
	return p, nil
}

func TestGenerateTokenFormat(t *testing.T) {
	tg := NewTokenGenerator()

	token, hash, prefix, err := tg.GenerateToken()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(token, TokenPrefix))
	assert.True(t, strings.HasPrefix(prefix, TokenPrefix))
	assert.Len(t, hash, 64) // hex-encoded sha256
	assert.NoError(t, tg.ValidateTokenFormat(token))
	assert.Equal(t, hash, tg.HashToken(token))
}

func TestGenerateTokenIsUnique(t *testing.T) {
	tg := NewTokenGenerator()
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		token, _, _, err := tg.GenerateToken()
		require.NoError(t, err)
		assert.False(t, seen[token])
		seen[token] = true
	}
}

func TestValidateTokenFormat(t *testing.T) {
	tg := NewTokenGenerator()

	assert.Error(t, tg.ValidateTokenFormat("sk_not_ours"))
	assert.Error(t, tg.ValidateTokenFormat(TokenPrefix))
	assert.Error(t, tg.ValidateTokenFormat(TokenPrefix+"not!valid!base64!"))
	assert.NoError(t, tg.ValidateTokenFormat(TokenPrefix+"abc123"))
}

func newTokenFixture(t *testing.T) (*TokenAuthenticator, string, *authz.Principal) {
	t.Helper()
	tg := NewTokenGenerator()
	token, hash, _, err := tg.GenerateToken()
	require.NoError(t, err)

	principal := &authz.Principal{ID: 42, Username: "amy", DepartmentID: 3, RoleIDs: []int64{10}}
	store := &memTokenStore{
		tokens: map[string]*APIToken{
			hash: {ID: 1, PrincipalID: 42, TokenHash: hash, CreatedAt: time.Now()},
		},
		principals: map[int64]*authz.Principal{42: principal},
	}
	return NewTokenAuthenticator(store), token, principal
}

func bearerRequest(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestTokenAuthenticatorHappyPath(t *testing.T) {
	authn, token, want := newTokenFixture(t)

	got, err := authn.Authenticate(bearerRequest(token))
	require.NoError(t, err)
	assert.Same(t, want, got)
}

func TestTokenAuthenticatorRejections(t *testing.T) {
	authn, token, _ := newTokenFixture(t)

	tests := []struct {
		name  string
		token string
	}{
		{"missing token", ""},
		{"wrong prefix", "other_" + strings.TrimPrefix(token, TokenPrefix)},
		{"unknown token", TokenPrefix + "dW5rbm93bg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := authn.Authenticate(bearerRequest(tt.token))
			assert.ErrorIs(t, err, authz.ErrUnauthenticated)
		})
	}
}

func TestTokenAuthenticatorExpiredAndRevoked(t *testing.T) {
	tg := NewTokenGenerator()
	token, hash, _, err := tg.GenerateToken()
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	store := &memTokenStore{
		tokens: map[string]*APIToken{
			hash: {ID: 1, PrincipalID: 42, TokenHash: hash, ExpiresAt: &past},
		},
		principals: map[int64]*authz.Principal{42: {ID: 42}},
	}
	authn := NewTokenAuthenticator(store)

	_, err = authn.Authenticate(bearerRequest(token))
	assert.ErrorIs(t, err, authz.ErrUnauthenticated)

	store.tokens[hash].ExpiresAt = nil
	store.tokens[hash].RevokedAt = &past
	_, err = authn.Authenticate(bearerRequest(token))
	assert.ErrorIs(t, err, authz.ErrUnauthenticated)
}

func TestOIDCConfigValidate(t *testing.T) {
	valid := &OIDCConfig{
		IssuerURL: "https://issuer.example.com",
		ClientID:  "portcullis",
		Scopes:    []string{"openid", "email"},
	}
	assert.NoError(t, valid.Validate())

	assert.Error(t, (&OIDCConfig{ClientID: "x", Scopes: []string{"openid"}}).Validate())
	assert.Error(t, (&OIDCConfig{IssuerURL: "https://x", Scopes: []string{"openid"}}).Validate())
	assert.Error(t, (&OIDCConfig{IssuerURL: "https://x", ClientID: "x", Scopes: []string{"email"}}).Validate())
}
