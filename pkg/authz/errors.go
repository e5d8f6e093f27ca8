package authz

import (
	"errors"
	"fmt"
)

// DenyReason is the internal reason code attached to a denial. Externally
// every denial maps to Forbidden; the reason exists for diagnostics.
type DenyReason string

const (
	// ReasonNoRoles denies a principal with zero active roles; there is
	// nothing to resolve grants from.
	ReasonNoRoles DenyReason = "no_roles"

	// ReasonNoGrant denies a principal none of whose active roles hold a
	// button grant for the permission code.
	ReasonNoGrant DenyReason = "no_grant"
)

// DeniedError is returned by the resolver when an action is not allowed.
// It is a decision, not an infrastructure failure; callers must map it to
// 403 and must never confuse it with ErrStoreUnavailable.
type DeniedError struct {
	PrincipalID    int64
	PermissionCode string
	Reason         DenyReason
	ActiveRoles    int
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("permission %q denied for principal %d: %s (active roles: %d)",
		e.PermissionCode, e.PrincipalID, e.Reason, e.ActiveRoles)
}

// Denied reports whether err is a DeniedError and returns it if so.
func Denied(err error) (*DeniedError, bool) {
	var de *DeniedError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

var (
	// ErrStoreUnavailable wraps grant-store infrastructure failures. It
	// must propagate as a 5xx-class failure: conflating "denied" with
	// "couldn't check" is a security bug.
	ErrStoreUnavailable = errors.New("grant store unavailable")

	// ErrUnauthenticated is returned when a request carries no valid
	// credentials for a route that requires authentication.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// StoreUnavailable wraps err as an ErrStoreUnavailable failure.
func StoreUnavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
