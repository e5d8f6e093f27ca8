package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/portcullis/pkg/audit"
	"github.com/platinummonkey/portcullis/pkg/authz"
	"github.com/platinummonkey/portcullis/pkg/contextkeys"
	"github.com/platinummonkey/portcullis/pkg/httputil"
	"github.com/platinummonkey/portcullis/pkg/observability"
)

// Decision outcomes recorded on the decisions counter.
const (
	outcomeAllowed         = "allowed"
	outcomeDenied          = "denied"
	outcomeUnauthenticated = "unauthenticated"
	outcomeStoreError      = "store_error"
)

// Gate executes a route's resolved middleware chain on every request:
// authentication first, then each permission code against the bundle
// cache. On success the principal and the effective grant are attached to
// the request context for downstream handlers.
//
// Failure mapping is strict: missing/invalid credentials are 401, a
// denial is 403 carrying the failing permission code, and a grant-store
// infrastructure failure is 503. A store failure is never presented as a
// denial.
type Gate struct {
	authn    Authenticator
	cache    *authz.BundleCache
	logger   *observability.Logger
	metrics  *observability.Metrics
	recorder *audit.Recorder
}

// NewGate creates a gate. metrics may be nil in tests.
func NewGate(authn Authenticator, cache *authz.BundleCache, logger *observability.Logger, metrics *observability.Metrics) *Gate {
	return &Gate{
		authn:   authn,
		cache:   cache,
		logger:  logger,
		metrics: metrics,
	}
}

// WithAudit attaches a decision recorder. Every authenticated decision is
// recorded; anonymous routes are not, since nothing was decided.
func (g *Gate) WithAudit(recorder *audit.Recorder) *Gate {
	g.recorder = recorder
	return g
}

// Register resolves the declared middleware tokens once and mounts the
// guarded handler on the router.
func (g *Gate) Register(router *mux.Router, path, method string, declared []string, handler http.Handler) *mux.Route {
	chain := ResolveChain(declared)
	return router.Handle(path, g.Handler(chain, handler)).Methods(method)
}

// Handler wraps next with the given chain.
func (g *Gate) Handler(chain Chain, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if !chain.Authenticate {
			// An anonymous chain that still carries permission tokens is a
			// misdeclared route: with no principal there are no roles, so
			// every permission check denies. Failing closed here keeps a
			// bad declaration from becoming a public endpoint.
			if len(chain.Permissions) > 0 {
				code := chain.Permissions[0]
				g.record(outcomeDenied)
				g.audit(r, nil, code, audit.OutcomeDenied, "anonymous_with_permissions")
				g.logger.WithFields(map[string]interface{}{
					"path":            r.URL.Path,
					"permission_code": code,
				}).Warn("anonymous route declares permission codes; denying")
				httputil.WriteDenied(w, code)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		principal, err := g.authn.Authenticate(r)
		if err != nil {
			g.record(outcomeUnauthenticated)
			g.audit(r, nil, "", audit.OutcomeUnauthenticated, "")
			g.logger.WithError(err).Debug("authentication failed")
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		ctx = contextkeys.WithPrincipal(ctx, principal)
		ctx = contextkeys.WithUserID(ctx, principal.Username)

		grant := &authz.EffectiveGrant{Allowed: true, ResolvedAt: time.Now()}
		for _, code := range chain.Permissions {
			resolved, err := g.cache.Authorize(ctx, principal, code)
			if err != nil {
				g.deny(w, r, principal, code, err)
				return
			}
			mergeGrant(grant, resolved)
		}

		g.record(outcomeAllowed)
		g.audit(r, principal, "", audit.OutcomeAllowed, "")
		ctx = contextkeys.WithGrant(ctx, grant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// deny maps an authorization failure to its response. The order matters:
// a DeniedError is a decision, everything else is infrastructure.
func (g *Gate) deny(w http.ResponseWriter, r *http.Request, principal *authz.Principal, code string, err error) {
	if de, ok := authz.Denied(err); ok {
		g.record(outcomeDenied)
		g.audit(r, principal, code, audit.OutcomeDenied, string(de.Reason))
		g.logger.WithFields(map[string]interface{}{
			"principal_id":    principal.ID,
			"permission_code": code,
			"reason":          string(de.Reason),
			"active_roles":    de.ActiveRoles,
		}).Info("request denied")
		httputil.WriteDenied(w, code)
		return
	}

	g.record(outcomeStoreError)
	g.audit(r, principal, code, audit.OutcomeStoreError, "")
	if g.metrics != nil {
		g.metrics.AuthzStoreErrorsTotal.Inc()
	}
	g.logger.WithError(err).WithField("permission_code", code).Error("authorization check failed")
	httputil.WriteServiceUnavailable(w, "authorization temporarily unavailable")
}

func (g *Gate) record(outcome string) {
	if g.metrics != nil {
		g.metrics.RecordDecision(outcome)
	}
}

func (g *Gate) audit(r *http.Request, principal *authz.Principal, code string, outcome audit.Outcome, reason string) {
	if g.recorder == nil {
		return
	}
	event := &audit.DecisionEvent{
		PermissionCode: code,
		Outcome:        outcome,
		Reason:         reason,
		RequestID:      contextkeys.GetRequestID(r.Context()),
		Method:         r.Method,
		Path:           r.URL.Path,
	}
	if principal != nil {
		event.PrincipalID = principal.ID
		event.Username = principal.Username
	}
	g.recorder.Record(event)
}

// mergeGrant folds one per-code grant into the route-level grant. Scope
// predicates accumulate (downstream code AND-combines them); field
// matrices union per boolean, matching the resolver's own OR semantics.
func mergeGrant(dst *authz.EffectiveGrant, src *authz.EffectiveGrant) {
	dst.ScopePredicates = append(dst.ScopePredicates, src.ScopePredicates...)
	if len(src.Fields) == 0 {
		return
	}
	if dst.Fields == nil {
		dst.Fields = authz.FieldMatrix{}
	}
	for key, perm := range src.Fields {
		have := dst.Fields[key]
		have.CanQuery = have.CanQuery || perm.CanQuery
		have.CanCreate = have.CanCreate || perm.CanCreate
		have.CanUpdate = have.CanUpdate || perm.CanUpdate
		dst.Fields[key] = have
	}
}

// PrincipalFromContext returns the authenticated principal attached by the
// gate, or nil for anonymous routes.
func PrincipalFromContext(ctx context.Context) *authz.Principal {
	p, _ := ctx.Value(contextkeys.PrincipalKey).(*authz.Principal)
	return p
}

// GrantFromContext returns the effective grant attached by the gate, or
// nil on anonymous routes. On authenticated routes with no permission
// checks the grant is present but carries no predicates.
func GrantFromContext(ctx context.Context) *authz.EffectiveGrant {
	g, _ := ctx.Value(contextkeys.GrantKey).(*authz.EffectiveGrant)
	return g
}
