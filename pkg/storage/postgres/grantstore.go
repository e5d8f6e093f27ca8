package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/platinummonkey/portcullis/pkg/authz"
)

// GrantStore reads the grant relations. It implements authz.GrantStore:
// every method filters to active roles, an empty result is a valid answer,
// and infrastructure failures are wrapped in authz.ErrStoreUnavailable so
// callers never mistake them for denials.
type GrantStore struct {
	db *sql.DB
}

// NewGrantStore creates a grant store over an open connection pool.
func NewGrantStore(db *sql.DB) *GrantStore {
	return &GrantStore{db: db}
}

// placeholders renders "$start,$start+1,..." for an IN list.
func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ",")
}

func int64Args(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// ActiveRoles filters the given role IDs down to those currently active.
func (s *GrantStore) ActiveRoles(ctx context.Context, roleIDs []int64) ([]int64, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT id FROM roles
		WHERE active = TRUE AND id IN (%s)
	`, placeholders(1, len(roleIDs)))

	rows, err := s.db.QueryContext(ctx, query, int64Args(roleIDs)...)
	if err != nil {
		return nil, authz.StoreUnavailable(fmt.Errorf("query active roles: %w", err))
	}
	defer rows.Close()

	var active []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, authz.StoreUnavailable(fmt.Errorf("scan active role: %w", err))
		}
		active = append(active, id)
	}
	if err := rows.Err(); err != nil {
		return nil, authz.StoreUnavailable(fmt.Errorf("iterate active roles: %w", err))
	}
	return active, nil
}

// MenusFor returns the menu IDs visible to any of the given roles.
func (s *GrantStore) MenusFor(ctx context.Context, roleIDs []int64) ([]int64, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT DISTINCT rm.menu_id
		FROM role_menus rm
		JOIN roles r ON r.id = rm.role_id
		WHERE r.active = TRUE AND rm.role_id IN (%s)
		ORDER BY rm.menu_id
	`, placeholders(1, len(roleIDs)))

	rows, err := s.db.QueryContext(ctx, query, int64Args(roleIDs)...)
	if err != nil {
		return nil, authz.StoreUnavailable(fmt.Errorf("query role menus: %w", err))
	}
	defer rows.Close()

	var menuIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, authz.StoreUnavailable(fmt.Errorf("scan menu id: %w", err))
		}
		menuIDs = append(menuIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, authz.StoreUnavailable(fmt.Errorf("iterate role menus: %w", err))
	}
	return menuIDs, nil
}

// ButtonGrantsFor returns all button grants across the given roles, joined
// with each button's permission code. Explicit department sets for custom
// scoped grants come from a second query and are merged by (role, button).
func (s *GrantStore) ButtonGrantsFor(ctx context.Context, roleIDs []int64) ([]authz.ButtonGrant, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT rb.role_id, b.id, b.permission_code, rb.data_scope
		FROM role_menu_buttons rb
		JOIN menu_buttons b ON b.id = rb.button_id
		JOIN roles r ON r.id = rb.role_id
		WHERE r.active = TRUE AND rb.role_id IN (%s)
		ORDER BY rb.role_id, b.id
	`, placeholders(1, len(roleIDs)))

	rows, err := s.db.QueryContext(ctx, query, int64Args(roleIDs)...)
	if err != nil {
		return nil, authz.StoreUnavailable(fmt.Errorf("query button grants: %w", err))
	}
	defer rows.Close()

	var grants []authz.ButtonGrant
	needDepts := false
	for rows.Next() {
		var g authz.ButtonGrant
		var scope string
		if err := rows.Scan(&g.RoleID, &g.ButtonID, &g.PermissionCode, &scope); err != nil {
			return nil, authz.StoreUnavailable(fmt.Errorf("scan button grant: %w", err))
		}
		g.Scope = authz.DataScope(scope)
		if !g.Scope.Valid() {
			return nil, fmt.Errorf("button grant (role %d, button %d) has unknown scope %q", g.RoleID, g.ButtonID, scope)
		}
		if g.Scope == authz.ScopeCustom {
			needDepts = true
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, authz.StoreUnavailable(fmt.Errorf("iterate button grants: %w", err))
	}

	if needDepts {
		if err := s.attachCustomDepartments(ctx, roleIDs, grants); err != nil {
			return nil, err
		}
	}
	return grants, nil
}

func (s *GrantStore) attachCustomDepartments(ctx context.Context, roleIDs []int64, grants []authz.ButtonGrant) error {
	query := fmt.Sprintf(`
		SELECT role_id, button_id, department_id
		FROM role_button_departments
		WHERE role_id IN (%s)
		ORDER BY role_id, button_id, department_id
	`, placeholders(1, len(roleIDs)))

	rows, err := s.db.QueryContext(ctx, query, int64Args(roleIDs)...)
	if err != nil {
		return authz.StoreUnavailable(fmt.Errorf("query custom grant departments: %w", err))
	}
	defer rows.Close()

	type grantKey struct{ roleID, buttonID int64 }
	depts := map[grantKey][]int64{}
	for rows.Next() {
		var k grantKey
		var deptID int64
		if err := rows.Scan(&k.roleID, &k.buttonID, &deptID); err != nil {
			return authz.StoreUnavailable(fmt.Errorf("scan custom grant department: %w", err))
		}
		depts[k] = append(depts[k], deptID)
	}
	if err := rows.Err(); err != nil {
		return authz.StoreUnavailable(fmt.Errorf("iterate custom grant departments: %w", err))
	}

	for i := range grants {
		if grants[i].Scope == authz.ScopeCustom {
			grants[i].DepartmentIDs = depts[grantKey{grants[i].RoleID, grants[i].ButtonID}]
		}
	}
	return nil
}

// FieldGrantsFor returns all field grants across the given roles. An empty
// modelName returns grants for every model.
func (s *GrantStore) FieldGrantsFor(ctx context.Context, roleIDs []int64, modelName string) ([]authz.FieldGrant, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT rf.role_id, f.id, f.model_name, f.field_name,
		       rf.can_query, rf.can_create, rf.can_update
		FROM role_menu_fields rf
		JOIN menu_fields f ON f.id = rf.field_id
		JOIN roles r ON r.id = rf.role_id
		WHERE r.active = TRUE AND rf.role_id IN (%s)
	`, placeholders(1, len(roleIDs)))

	args := int64Args(roleIDs)
	if modelName != "" {
		query += fmt.Sprintf(" AND f.model_name = $%d", len(args)+1)
		args = append(args, modelName)
	}
	query += " ORDER BY f.model_name, f.field_name, rf.role_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, authz.StoreUnavailable(fmt.Errorf("query field grants: %w", err))
	}
	defer rows.Close()

	var grants []authz.FieldGrant
	for rows.Next() {
		var g authz.FieldGrant
		if err := rows.Scan(&g.RoleID, &g.FieldID, &g.ModelName, &g.FieldName,
			&g.CanQuery, &g.CanCreate, &g.CanUpdate); err != nil {
			return nil, authz.StoreUnavailable(fmt.Errorf("scan field grant: %w", err))
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, authz.StoreUnavailable(fmt.Errorf("iterate field grants: %w", err))
	}
	return grants, nil
}

// DepartmentSource reads the full department forest for index rebuilds.
// It implements authz.DepartmentSource.
type DepartmentSource struct {
	db *sql.DB
}

// NewDepartmentSource creates a department source over an open pool.
func NewDepartmentSource(db *sql.DB) *DepartmentSource {
	return &DepartmentSource{db: db}
}

// AllDepartments returns every department with its parent link.
func (s *DepartmentSource) AllDepartments(ctx context.Context) ([]authz.Department, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_id, name FROM departments ORDER BY id
	`)
	if err != nil {
		return nil, authz.StoreUnavailable(fmt.Errorf("query departments: %w", err))
	}
	defer rows.Close()

	var departments []authz.Department
	for rows.Next() {
		var d authz.Department
		var parentID sql.NullInt64
		if err := rows.Scan(&d.ID, &parentID, &d.Name); err != nil {
			return nil, authz.StoreUnavailable(fmt.Errorf("scan department: %w", err))
		}
		if parentID.Valid {
			id := parentID.Int64
			d.ParentID = &id
		}
		departments = append(departments, d)
	}
	if err := rows.Err(); err != nil {
		return nil, authz.StoreUnavailable(fmt.Errorf("iterate departments: %w", err))
	}
	return departments, nil
}
