package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/portcullis/pkg/authz"
	"github.com/platinummonkey/portcullis/pkg/middleware"
)

// OIDCConfig configures the OIDC authenticator.
type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// Validate checks the configuration before discovery.
func (c *OIDCConfig) Validate() error {
	if c.IssuerURL == "" {
		return fmt.Errorf("issuer_url is required")
	}
	if c.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	hasOpenID := false
	for _, scope := range c.Scopes {
		if scope == oidc.ScopeOpenID {
			hasOpenID = true
			break
		}
	}
	if !hasOpenID {
		return fmt.Errorf("%q scope is required", oidc.ScopeOpenID)
	}
	return nil
}

// PrincipalSource maps a verified identity to a local principal with its
// role and department assignments.
type PrincipalSource interface {
	// PrincipalBySubject resolves an issuer subject (falling back to email)
	// to a principal, or an error wrapping authz.ErrUnauthenticated when no
	// local account exists.
	PrincipalBySubject(ctx context.Context, subject, email string) (*authz.Principal, error)
}

// OIDCAuthenticator verifies bearer ID tokens against the issuer and maps
// them to principals. It implements middleware.Authenticator.
type OIDCAuthenticator struct {
	provider     *oidc.Provider
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
	principals   PrincipalSource
}

// NewOIDCAuthenticator discovers the issuer and builds the verifier.
func NewOIDCAuthenticator(ctx context.Context, config *OIDCConfig, principals PrincipalSource) (*OIDCAuthenticator, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid OIDC config: %w", err)
	}

	provider, err := oidc.NewProvider(ctx, config.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: config.ClientID})

	oauth2Config := &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  config.RedirectURL,
		Scopes:       config.Scopes,
	}

	return &OIDCAuthenticator{
		provider:     provider,
		verifier:     verifier,
		oauth2Config: oauth2Config,
		principals:   principals,
	}, nil
}

// Authenticate verifies the bearer ID token and resolves it to a local
// principal.
func (a *OIDCAuthenticator) Authenticate(r *http.Request) (*authz.Principal, error) {
	raw, ok := middleware.BearerToken(r)
	if !ok {
		return nil, fmt.Errorf("%w: missing bearer token", authz.ErrUnauthenticated)
	}

	ctx := r.Context()
	idToken, err := a.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", authz.ErrUnauthenticated, err)
	}

	var claims struct {
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: failed to parse claims: %v", authz.ErrUnauthenticated, err)
	}

	return a.principals.PrincipalBySubject(ctx, idToken.Subject, claims.Email)
}

// AuthCodeURL returns the authorization endpoint URL for browser login.
func (a *OIDCAuthenticator) AuthCodeURL(state string) string {
	return a.oauth2Config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for the raw ID token.
func (a *OIDCAuthenticator) Exchange(ctx context.Context, code string) (string, error) {
	token, err := a.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("failed to exchange code: %w", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return "", fmt.Errorf("missing id_token in token response")
	}
	return rawIDToken, nil
}
