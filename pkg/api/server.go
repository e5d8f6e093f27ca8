// Package api assembles the HTTP surface: the guarded routes declared in
// the route table plus a few built-in introspection endpoints.
package api

import (
	"net/http"
	"sync/atomic"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/portcullis/pkg/authz"
	"github.com/platinummonkey/portcullis/pkg/httputil"
	"github.com/platinummonkey/portcullis/pkg/middleware"
	"github.com/platinummonkey/portcullis/pkg/observability"
	"github.com/platinummonkey/portcullis/pkg/routes"
)

// Server routes requests through the gate. The underlying router is
// rebuilt and swapped atomically when the route table reloads, so
// in-flight requests finish on the router they started on.
type Server struct {
	gate    *middleware.Gate
	cache   *authz.BundleCache
	store   authz.GrantStore
	logger  *observability.Logger
	metrics *observability.Metrics

	router atomic.Pointer[mux.Router]
}

// NewServer creates the server and installs the initial route table.
func NewServer(gate *middleware.Gate, cache *authz.BundleCache, store authz.GrantStore, logger *observability.Logger, metrics *observability.Metrics, table *routes.Table) *Server {
	s := &Server{
		gate:    gate,
		cache:   cache,
		store:   store,
		logger:  logger,
		metrics: metrics,
	}
	s.Reload(table)
	return s
}

// ServeHTTP dispatches to the current router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.Load().ServeHTTP(w, r)
}

// Reload swaps in a router built from the given table.
func (s *Server) Reload(table *routes.Table) {
	s.router.Store(s.buildRouter(table))
	s.logger.WithField("routes", len(table.Routes)).Info("route table installed")
}

func (s *Server) buildRouter(table *routes.Table) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestID)

	// Introspection endpoints, always present.
	s.register(r, "/api/v1/me", http.MethodGet, []string{middleware.TokenAuth}, s.handleMe)
	s.register(r, "/api/v1/me/menus", http.MethodGet, []string{middleware.TokenAuth}, s.handleMenus)

	for _, route := range table.Routes {
		s.register(r, route.Path, route.Method, route.Middleware, s.handleDecision)
	}
	return r
}

func (s *Server) register(r *mux.Router, path, method string, declared []string, handler http.HandlerFunc) {
	var h http.Handler = handler
	if s.metrics != nil {
		h = s.metrics.HTTPMiddleware(path, h)
	}
	s.gate.Register(r, path, method, declared, h)
}

// decisionResponse is the body served on a guarded route once the gate has
// allowed the request: everything downstream query builders need.
type decisionResponse struct {
	Allowed         bool                   `json:"allowed"`
	PrincipalID     int64                  `json:"principal_id,omitempty"`
	ScopePredicates []authz.ScopePredicate `json:"scope_predicates,omitempty"`
	Fields          authz.FieldMatrix      `json:"fields,omitempty"`
}

// handleDecision serves the effective grant the gate resolved. Anonymous
// routes have no grant; they answer allowed with no predicates.
func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	resp := decisionResponse{Allowed: true}
	if p := middleware.PrincipalFromContext(r.Context()); p != nil {
		resp.PrincipalID = p.ID
	}
	if grant := middleware.GrantFromContext(r.Context()); grant != nil {
		resp.ScopePredicates = grant.ScopePredicates
		resp.Fields = grant.Fields
	}
	httputil.WriteSuccess(w, resp)
}

// handleMe returns the authenticated principal.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, middleware.PrincipalFromContext(r.Context()))
}

// handleMenus returns the menu IDs visible to the principal. Visibility is
// navigation-only; holding a menu implies nothing about its actions.
func (s *Server) handleMenus(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFromContext(r.Context())
	menuIDs, err := s.store.MenusFor(r.Context(), principal.RoleIDs)
	if err != nil {
		s.logger.WithError(err).Error("menu lookup failed")
		httputil.WriteServiceUnavailable(w, "menu lookup temporarily unavailable")
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"menu_ids": menuIDs})
}
