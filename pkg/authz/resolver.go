package authz

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// ScopeComparator ranks data scopes when a principal holds several grants
// for the same action through different roles. The grant with the highest
// rank wins. The combination policy is deliberately injectable so
// most-permissive-wins can be swapped for least-privilege-wins without
// touching the resolver.
type ScopeComparator func(DataScope) int

// MostPermissive is the default policy: ALL > DEPT_AND_BELOW > CUSTOM >
// DEPT > SELF. It favors availability for multi-role principals.
func MostPermissive(s DataScope) int {
	switch s {
	case ScopeAll:
		return 5
	case ScopeDeptAndBelow:
		return 4
	case ScopeCustom:
		return 3
	case ScopeDept:
		return 2
	case ScopeSelf:
		return 1
	}
	return 0
}

// LeastPrivilege inverts the ranking for deployments that prefer the
// narrowest grant when roles disagree.
func LeastPrivilege(s DataScope) int {
	return 6 - MostPermissive(s)
}

// Resolver composes the grant store and the department index into
// effective grants. It holds no mutable state and is safe for concurrent
// use.
type Resolver struct {
	store   GrantStore
	depts   *DeptIndex
	compare ScopeComparator
}

// NewResolver creates a resolver. A nil comparator defaults to
// MostPermissive.
func NewResolver(store GrantStore, depts *DeptIndex, compare ScopeComparator) *Resolver {
	if compare == nil {
		compare = MostPermissive
	}
	return &Resolver{store: store, depts: depts, compare: compare}
}

// BuildBundle fetches everything the principal's permission decisions
// depend on: the active subset of its roles, every button grant those
// roles hold, and every field grant. One bundle per principal is what the
// cache stores, so one invalidation clears all of it. Errors from the
// store propagate wrapped in ErrStoreUnavailable and must not be cached.
func (r *Resolver) BuildBundle(ctx context.Context, principal *Principal) (*Bundle, error) {
	bundle := &Bundle{
		PrincipalID:  principal.ID,
		ButtonGrants: map[string][]ButtonGrant{},
		DeptVersion:  r.depts.Version(),
		BuiltAt:      time.Now(),
	}

	if len(principal.RoleIDs) == 0 {
		return bundle, nil
	}

	active, err := r.store.ActiveRoles(ctx, principal.RoleIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve active roles for principal %d: %w", principal.ID, err)
	}
	bundle.RoleIDs = active
	if len(active) == 0 {
		return bundle, nil
	}

	grants, err := r.store.ButtonGrantsFor(ctx, active)
	if err != nil {
		return nil, fmt.Errorf("fetch button grants for principal %d: %w", principal.ID, err)
	}
	for _, g := range grants {
		bundle.ButtonGrants[g.PermissionCode] = append(bundle.ButtonGrants[g.PermissionCode], g)
	}

	fields, err := r.store.FieldGrantsFor(ctx, active, "")
	if err != nil {
		return nil, fmt.Errorf("fetch field grants for principal %d: %w", principal.ID, err)
	}
	bundle.FieldGrants = fields

	return bundle, nil
}

// Resolve answers one (principal, permission code) check on the cold path,
// building a bundle and evaluating it. Request-time callers go through the
// BundleCache instead so the store is only hit on a miss.
func (r *Resolver) Resolve(ctx context.Context, principal *Principal, code string) (*EffectiveGrant, error) {
	bundle, err := r.BuildBundle(ctx, principal)
	if err != nil {
		return nil, err
	}
	return r.Evaluate(bundle, principal, code)
}

// Evaluate decides one permission code against a previously built bundle.
// It is pure: no I/O, no shared state. Denials return *DeniedError.
func (r *Resolver) Evaluate(bundle *Bundle, principal *Principal, code string) (*EffectiveGrant, error) {
	deny := &DeniedError{
		PrincipalID:    principal.ID,
		PermissionCode: code,
		Reason:         ReasonNoGrant,
		ActiveRoles:    len(bundle.RoleIDs),
	}

	// No implicit permissions: zero active roles is always a denial, and
	// a code held by no role anywhere denies everyone, superusers
	// included.
	if len(bundle.RoleIDs) == 0 {
		deny.Reason = ReasonNoRoles
		return nil, deny
	}
	grants := bundle.GrantsFor(code)
	if len(grants) == 0 {
		return nil, deny
	}

	winner := r.pickGrant(grants)
	pred := r.materialize(principal, winner, grants)

	return &EffectiveGrant{
		Allowed:         true,
		ScopePredicates: []ScopePredicate{pred},
		Fields:          FieldMatrixOf(bundle.FieldGrants),
		ResolvedAt:      time.Now(),
	}, nil
}

// pickGrant selects the winning grant under the configured comparator.
func (r *Resolver) pickGrant(grants []ButtonGrant) ButtonGrant {
	winner := grants[0]
	for _, g := range grants[1:] {
		if r.compare(g.Scope) > r.compare(winner.Scope) {
			winner = g
		}
	}
	return winner
}

// materialize turns the winning grant's scope into a row predicate
// descriptor. CUSTOM unions the explicit department sets of every
// same-scope grant, since several roles granting custom sets for the same
// action are additive.
func (r *Resolver) materialize(principal *Principal, winner ButtonGrant, all []ButtonGrant) ScopePredicate {
	pred := ScopePredicate{
		PermissionCode: winner.PermissionCode,
		Scope:          winner.Scope,
	}
	switch winner.Scope {
	case ScopeAll:
		pred.Unrestricted = true
	case ScopeSelf:
		pred.OwnerID = principal.ID
	case ScopeDept:
		pred.DepartmentIDs = []int64{principal.DepartmentID}
	case ScopeDeptAndBelow:
		pred.DepartmentIDs = r.depts.DescendantsOf(principal.DepartmentID)
	case ScopeCustom:
		set := map[int64]bool{}
		for _, g := range all {
			if g.Scope != ScopeCustom {
				continue
			}
			for _, id := range g.DepartmentIDs {
				set[id] = true
			}
		}
		ids := make([]int64, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		pred.DepartmentIDs = ids
	}
	return pred
}

// FieldMatrixOf unions field grants into the per-field boolean matrix.
// Field visibility is additive: any role granting a boolean sets it. This
// deliberately differs from the scope combinator, which picks a single
// winning grant.
func FieldMatrixOf(grants []FieldGrant) FieldMatrix {
	if len(grants) == 0 {
		return nil
	}
	matrix := make(FieldMatrix, len(grants))
	for _, g := range grants {
		key := FieldKey(g.ModelName, g.FieldName)
		fp := matrix[key]
		fp.CanQuery = fp.CanQuery || g.CanQuery
		fp.CanCreate = fp.CanCreate || g.CanCreate
		fp.CanUpdate = fp.CanUpdate || g.CanUpdate
		matrix[key] = fp
	}
	return matrix
}
