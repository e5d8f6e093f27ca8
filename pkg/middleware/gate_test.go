package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/portcullis/pkg/audit"
	"github.com/platinummonkey/portcullis/pkg/authz"
	"github.com/platinummonkey/portcullis/pkg/observability"
)

// gateStore is an in-memory grant store for gate tests.
type gateStore struct {
	buttonGrants map[int64][]authz.ButtonGrant
	fieldGrants  map[int64][]authz.FieldGrant
	failWith     error
}

func (s *gateStore) MenusFor(ctx context.Context, roleIDs []int64) ([]int64, error) {
	return nil, s.failWith
}

func (s *gateStore) ActiveRoles(ctx context.Context, roleIDs []int64) ([]int64, error) {
	if s.failWith != nil {
		return nil, authz.StoreUnavailable(s.failWith)
	}
	return roleIDs, nil
}

func (s *gateStore) ButtonGrantsFor(ctx context.Context, roleIDs []int64) ([]authz.ButtonGrant, error) {
	if s.failWith != nil {
		return nil, authz.StoreUnavailable(s.failWith)
	}
	var out []authz.ButtonGrant
	for _, id := range roleIDs {
		out = append(out, s.buttonGrants[id]...)
	}
	return out, nil
}

func (s *gateStore) FieldGrantsFor(ctx context.Context, roleIDs []int64, modelName string) ([]authz.FieldGrant, error) {
	if s.failWith != nil {
		return nil, authz.StoreUnavailable(s.failWith)
	}
	var out []authz.FieldGrant
	for _, id := range roleIDs {
		out = append(out, s.fieldGrants[id]...)
	}
	return out, nil
}

type gateDeptSource struct{}

func (gateDeptSource) AllDepartments(ctx context.Context) ([]authz.Department, error) {
	parent := func(id int64) *int64 { return &id }
	return []authz.Department{
		{ID: 1, Name: "hq"},
		{ID: 2, ParentID: parent(1), Name: "sales"},
	}, nil
}

func staticAuthn(p *authz.Principal) Authenticator {
	return AuthenticatorFunc(func(r *http.Request) (*authz.Principal, error) {
		if _, ok := BearerToken(r); !ok {
			return nil, authz.ErrUnauthenticated
		}
		return p, nil
	})
}

func newGateFixture(t *testing.T, store *gateStore, principal *authz.Principal) *Gate {
	t.Helper()
	depts := authz.NewDeptIndex()
	require.NoError(t, depts.Rebuild(context.Background(), gateDeptSource{}))
	resolver := authz.NewResolver(store, depts, nil)
	cache := authz.NewBundleCache(resolver, depts, 0, 0)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewGate(staticAuthn(principal), cache, logger, nil)
}

func okHandler(got **http.Request) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got != nil {
			*got = r
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestGateMissingCredentialsIs401(t *testing.T) {
	store := &gateStore{}
	gate := newGateFixture(t, store, &authz.Principal{ID: 7})
	handler := gate.Handler(ResolveChain([]string{"order.read"}), okHandler(nil))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGateDeniedIs403WithFailingCode(t *testing.T) {
	store := &gateStore{
		buttonGrants: map[int64][]authz.ButtonGrant{
			10: {{RoleID: 10, PermissionCode: "order.read", Scope: authz.ScopeAll}},
		},
	}
	principal := &authz.Principal{ID: 7, DepartmentID: 2, RoleIDs: []int64{10}}
	gate := newGateFixture(t, store, principal)
	handler := gate.Handler(ResolveChain([]string{"order.read", "order.delete"}), okHandler(nil))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/orders/1", nil)
	req.Header.Set("Authorization", "Bearer tok")
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	var body struct {
		Error          string `json:"error"`
		PermissionCode string `json:"permission_code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "order.delete", body.PermissionCode)
}

func TestGateStoreFailureIs503NotForbidden(t *testing.T) {
	store := &gateStore{failWith: io.ErrUnexpectedEOF}
	principal := &authz.Principal{ID: 7, DepartmentID: 2, RoleIDs: []int64{10}}
	gate := newGateFixture(t, store, principal)
	handler := gate.Handler(ResolveChain([]string{"order.read"}), okHandler(nil))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Authorization", "Bearer tok")
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEqual(t, http.StatusForbidden, rec.Code)
}

func TestGateAllowedAttachesPrincipalAndGrant(t *testing.T) {
	store := &gateStore{
		buttonGrants: map[int64][]authz.ButtonGrant{
			10: {{RoleID: 10, PermissionCode: "order.read", Scope: authz.ScopeDeptAndBelow}},
		},
		fieldGrants: map[int64][]authz.FieldGrant{
			10: {{RoleID: 10, ModelName: "order", FieldName: "amount", CanQuery: true}},
		},
	}
	principal := &authz.Principal{ID: 7, DepartmentID: 1, RoleIDs: []int64{10}}
	gate := newGateFixture(t, store, principal)

	var got *http.Request
	handler := gate.Handler(ResolveChain([]string{"order.read"}), okHandler(&got))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Authorization", "Bearer tok")
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)

	assert.Same(t, principal, PrincipalFromContext(got.Context()))

	grant := GrantFromContext(got.Context())
	require.NotNil(t, grant)
	assert.True(t, grant.Allowed)
	require.Len(t, grant.ScopePredicates, 1)
	pred := grant.ScopePredicates[0]
	assert.Equal(t, "order.read", pred.PermissionCode)
	assert.Equal(t, authz.ScopeDeptAndBelow, pred.Scope)
	assert.ElementsMatch(t, []int64{1, 2}, pred.DepartmentIDs)
	assert.True(t, grant.Fields["order.amount"].CanQuery)
}

func TestGateMultiPermissionAccumulatesPredicates(t *testing.T) {
	store := &gateStore{
		buttonGrants: map[int64][]authz.ButtonGrant{
			10: {
				{RoleID: 10, PermissionCode: "order.read", Scope: authz.ScopeAll},
				{RoleID: 10, PermissionCode: "order.export", Scope: authz.ScopeSelf},
			},
		},
	}
	principal := &authz.Principal{ID: 7, DepartmentID: 2, RoleIDs: []int64{10}}
	gate := newGateFixture(t, store, principal)

	var got *http.Request
	handler := gate.Handler(ResolveChain([]string{"order.read", "order.export"}), okHandler(&got))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/orders/export", nil)
	req.Header.Set("Authorization", "Bearer tok")
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	grant := GrantFromContext(got.Context())
	require.NotNil(t, grant)
	require.Len(t, grant.ScopePredicates, 2)
	assert.Equal(t, "order.read", grant.ScopePredicates[0].PermissionCode)
	assert.True(t, grant.ScopePredicates[0].Unrestricted)
	assert.Equal(t, "order.export", grant.ScopePredicates[1].PermissionCode)
	assert.Equal(t, int64(7), grant.ScopePredicates[1].OwnerID)
}

func TestGateAnonymousRouteSkipsEverything(t *testing.T) {
	// Store failures must not matter on an anonymous route: nothing is
	// checked.
	store := &gateStore{failWith: io.ErrUnexpectedEOF}
	gate := newGateFixture(t, store, nil)

	var got *http.Request
	handler := gate.Handler(ResolveChain([]string{"anonymous"}), okHandler(&got))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, PrincipalFromContext(got.Context()))
	assert.Nil(t, GrantFromContext(got.Context()))
}

func TestGateAnonymousChainWithPermissionTokenDenies(t *testing.T) {
	// A misdeclared route mixing anonymous with a permission code must
	// fail closed: there is no principal to check the code against.
	store := &gateStore{}
	gate := newGateFixture(t, store, nil)

	chain := ResolveChain([]string{"anonymous", "order.delete"})
	require.False(t, chain.Authenticate)
	require.Equal(t, []string{"order.delete"}, chain.Permissions)

	handler := gate.Handler(chain, okHandler(nil))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/orders/1", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	var body struct {
		PermissionCode string `json:"permission_code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "order.delete", body.PermissionCode)
}

func TestGateAuthOnlyRouteAttachesPrincipalOnly(t *testing.T) {
	store := &gateStore{}
	principal := &authz.Principal{ID: 7, Username: "amy"}
	gate := newGateFixture(t, store, principal)

	var got *http.Request
	handler := gate.Handler(ResolveChain(nil), okHandler(&got))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer tok")
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Same(t, principal, PrincipalFromContext(got.Context()))
	grant := GrantFromContext(got.Context())
	require.NotNil(t, grant)
	assert.Empty(t, grant.ScopePredicates)
}

func TestGateRecordsDecisions(t *testing.T) {
	sink := &captureSink{}
	recorder := audit.NewRecorder(sink, observability.NewLogger(observability.ErrorLevel, io.Discard), 16)

	store := &gateStore{
		buttonGrants: map[int64][]authz.ButtonGrant{
			10: {{RoleID: 10, PermissionCode: "order.read", Scope: authz.ScopeAll}},
		},
	}
	principal := &authz.Principal{ID: 7, Username: "amy", DepartmentID: 2, RoleIDs: []int64{10}}
	gate := newGateFixture(t, store, principal).WithAudit(recorder)

	allowed := gate.Handler(ResolveChain([]string{"order.read"}), okHandler(nil))
	denied := gate.Handler(ResolveChain([]string{"order.delete"}), okHandler(nil))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Authorization", "Bearer tok")
	allowed.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodDelete, "/orders/1", nil)
	req.Header.Set("Authorization", "Bearer tok")
	denied.ServeHTTP(httptest.NewRecorder(), req)

	allowed.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders", nil))

	recorder.Close()
	events := sink.logged()
	require.Len(t, events, 3)

	assert.Equal(t, audit.OutcomeAllowed, events[0].Outcome)
	assert.Equal(t, int64(7), events[0].PrincipalID)
	assert.Equal(t, "amy", events[0].Username)
	assert.Equal(t, "/orders", events[0].Path)

	assert.Equal(t, audit.OutcomeDenied, events[1].Outcome)
	assert.Equal(t, "order.delete", events[1].PermissionCode)
	assert.NotEmpty(t, events[1].Reason)

	assert.Equal(t, audit.OutcomeUnauthenticated, events[2].Outcome)
	assert.Zero(t, events[2].PrincipalID)
}

type captureSink struct {
	mu     sync.Mutex
	events []audit.DecisionEvent
}

func (s *captureSink) Log(ctx context.Context, event *audit.DecisionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	return nil
}

func (s *captureSink) logged() []audit.DecisionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.DecisionEvent(nil), s.events...)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"", "", false},
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Basic abc", "", false},
		{"Bearer", "", false},
		{"Bearer ", "", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		got, ok := BearerToken(req)
		assert.Equal(t, tt.ok, ok, "header %q", tt.header)
		assert.Equal(t, tt.want, got, "header %q", tt.header)
	}
}
