package authz

import (
	"context"
)

// GrantStore is the read-oriented accessor over the grant relations,
// implemented by the persistence layer. Every method filters to active
// roles. Implementations must fail with an error wrapping
// ErrStoreUnavailable when the underlying store is unreachable; they never
// silently return an empty result in that case, so callers can distinguish
// "no grants" from "couldn't check".
type GrantStore interface {
	// MenusFor returns the menu IDs visible to any of the given roles.
	// Navigation visibility only; never consulted for action checks.
	MenusFor(ctx context.Context, roleIDs []int64) ([]int64, error)

	// ButtonGrantsFor returns all button grants across the given roles,
	// joined with each button's permission code.
	ButtonGrantsFor(ctx context.Context, roleIDs []int64) ([]ButtonGrant, error)

	// FieldGrantsFor returns all field grants across the given roles for
	// one underlying model. An empty modelName returns grants for every
	// model, which is how the resolver builds a whole per-principal bundle
	// in one round trip.
	FieldGrantsFor(ctx context.Context, roleIDs []int64, modelName string) ([]FieldGrant, error)

	// ActiveRoles filters the given role IDs down to those currently active.
	ActiveRoles(ctx context.Context, roleIDs []int64) ([]int64, error)
}

// DepartmentSource supplies the full department snapshot pulled on a
// rebuild signal.
type DepartmentSource interface {
	AllDepartments(ctx context.Context) ([]Department, error)
}
