package authz

import (
	"time"
)

// DataScope represents the row-level visibility attached to an action grant
type DataScope string

const (
	// ScopeSelf restricts rows to those owned by the principal
	ScopeSelf DataScope = "self"
	// ScopeDept restricts rows to the principal's own department
	ScopeDept DataScope = "dept"
	// ScopeDeptAndBelow restricts rows to the principal's department and all descendants
	ScopeDeptAndBelow DataScope = "dept_and_below"
	// ScopeAll places no row restriction
	ScopeAll DataScope = "all"
	// ScopeCustom restricts rows to an explicit department set carried on the grant
	ScopeCustom DataScope = "custom"
)

// Valid reports whether s is one of the five defined scopes
func (s DataScope) Valid() bool {
	switch s {
	case ScopeSelf, ScopeDept, ScopeDeptAndBelow, ScopeAll, ScopeCustom:
		return true
	}
	return false
}

// Principal is an authenticated user for the duration of a request.
// A principal always belongs to exactly one department.
type Principal struct {
	ID           int64   `json:"id"`
	Username     string  `json:"username"`
	DepartmentID int64   `json:"department_id"`
	RoleIDs      []int64 `json:"role_ids"`
}

// Department is one node of the department forest. ParentID is nil for roots.
type Department struct {
	ID       int64  `json:"id"`
	ParentID *int64 `json:"parent_id,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Role is a permission namespace. Inactive roles contribute no grants.
type Role struct {
	ID     int64  `json:"id"`
	Key    string `json:"key"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Menu is a navigation node. Menu grants control navigation visibility
// only and never authorize an action by themselves.
type Menu struct {
	ID       int64  `json:"id"`
	ParentID *int64 `json:"parent_id,omitempty"`
	Title    string `json:"title"`
}

// MenuButton is an action node under a menu. Its permission code is
// globally unique and bound to one HTTP method + API path pattern.
type MenuButton struct {
	ID             int64  `json:"id"`
	MenuID         int64  `json:"menu_id"`
	PermissionCode string `json:"permission_code"`
	Method         string `json:"method"`
	APIPath        string `json:"api_path"`
}

// MenuField declares that a field of an underlying model exists and is
// governable per role.
type MenuField struct {
	ID        int64  `json:"id"`
	MenuID    int64  `json:"menu_id"`
	ModelName string `json:"model_name"`
	FieldName string `json:"field_name"`
}

// ButtonGrant is one role's grant of one action, joined with the button
// it authorizes. For ScopeCustom the explicit department set is mandatory;
// for every other scope it is ignored.
type ButtonGrant struct {
	RoleID         int64     `json:"role_id"`
	ButtonID       int64     `json:"button_id"`
	PermissionCode string    `json:"permission_code"`
	Scope          DataScope `json:"data_scope"`
	DepartmentIDs  []int64   `json:"department_ids,omitempty"`
}

// FieldGrant is one role's read/create/update grant for one governed field.
type FieldGrant struct {
	RoleID    int64  `json:"role_id"`
	FieldID   int64  `json:"field_id"`
	ModelName string `json:"model_name"`
	FieldName string `json:"field_name"`
	CanQuery  bool   `json:"can_query"`
	CanCreate bool   `json:"can_create"`
	CanUpdate bool   `json:"can_update"`
}

// ScopePredicate is an opaque row-restriction descriptor interpreted by
// downstream query-building code. It is never raw SQL. Unrestricted is
// true only for ScopeAll; OwnerID is set only for ScopeSelf; otherwise
// DepartmentIDs carries the allowed department set (possibly empty, which
// grants no rows).
type ScopePredicate struct {
	PermissionCode string    `json:"permission_code"`
	Scope          DataScope `json:"scope"`
	Unrestricted   bool      `json:"unrestricted"`
	OwnerID        int64     `json:"owner_id,omitempty"`
	DepartmentIDs  []int64   `json:"department_ids,omitempty"`
}

// FieldPermission is the resolved per-field matrix entry. The three
// booleans are OR-unions across every active role of the principal.
type FieldPermission struct {
	CanQuery  bool `json:"can_query"`
	CanCreate bool `json:"can_create"`
	CanUpdate bool `json:"can_update"`
}

// FieldMatrix maps "model.field" to the resolved field permission.
type FieldMatrix map[string]FieldPermission

// EffectiveGrant is the fully resolved authorization decision for one
// request, attached to the request context for downstream business logic.
// When a route checks more than one permission code, ScopePredicates holds
// one predicate per code, to be AND-combined by convention.
type EffectiveGrant struct {
	Allowed         bool             `json:"allowed"`
	ScopePredicates []ScopePredicate `json:"scope_predicates"`
	Fields          FieldMatrix      `json:"fields,omitempty"`
	ResolvedAt      time.Time        `json:"resolved_at"`
}

// Bundle is the whole per-principal resolution input cached between
// invalidations: active roles, every button grant those roles hold, every
// field grant, and the department snapshot version the bundle was built
// against.
type Bundle struct {
	PrincipalID   int64
	RoleIDs       []int64
	ButtonGrants  map[string][]ButtonGrant // permission code -> grants
	FieldGrants   []FieldGrant
	DeptVersion   uint64
	GrantGen      uint64
	BuiltAt       time.Time
}

// GrantsFor returns the button grants the bundle holds for a permission code.
func (b *Bundle) GrantsFor(code string) []ButtonGrant {
	if b == nil || b.ButtonGrants == nil {
		return nil
	}
	return b.ButtonGrants[code]
}

// FieldKey builds the canonical "model.field" matrix key.
func FieldKey(model, field string) string {
	return model + "." + field
}
