package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/portcullis/pkg/auth"
	"github.com/platinummonkey/portcullis/pkg/authz"
)

// TokenStore resolves hashed API tokens and OIDC subjects to principals.
// It implements auth.TokenStore and auth.PrincipalSource.
type TokenStore struct {
	db *sql.DB
}

// NewTokenStore creates a token store over an open pool.
func NewTokenStore(db *sql.DB) *TokenStore {
	return &TokenStore{db: db}
}

// TokenByHash returns the token record for a hash. Unknown hashes are a
// credential failure, not a store failure.
func (s *TokenStore) TokenByHash(ctx context.Context, hash string) (*auth.APIToken, error) {
	query := `
		SELECT id, principal_id, token_hash, token_prefix, name, expires_at, revoked_at, created_at
		FROM api_tokens
		WHERE token_hash = $1
	`

	var t auth.APIToken
	var expiresAt, revokedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, hash).Scan(
		&t.ID,
		&t.PrincipalID,
		&t.TokenHash,
		&t.TokenPrefix,
		&t.Name,
		&expiresAt,
		&revokedAt,
		&t.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: unknown token", authz.ErrUnauthenticated)
	}
	if err != nil {
		return nil, authz.StoreUnavailable(fmt.Errorf("query token: %w", err))
	}

	if expiresAt.Valid {
		at := expiresAt.Time
		t.ExpiresAt = &at
	}
	if revokedAt.Valid {
		at := revokedAt.Time
		t.RevokedAt = &at
	}
	return &t, nil
}

// PrincipalByID loads a principal with its role assignments.
func (s *TokenStore) PrincipalByID(ctx context.Context, id int64) (*authz.Principal, error) {
	var p authz.Principal
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, department_id FROM users WHERE id = $1
	`, id).Scan(&p.ID, &p.Username, &p.DepartmentID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: unknown principal %d", authz.ErrUnauthenticated, id)
	}
	if err != nil {
		return nil, authz.StoreUnavailable(fmt.Errorf("query principal: %w", err))
	}

	roleIDs, err := s.roleIDsFor(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	p.RoleIDs = roleIDs
	return &p, nil
}

// PrincipalBySubject resolves an issuer subject, falling back to email, to
// a local principal.
func (s *TokenStore) PrincipalBySubject(ctx context.Context, subject, email string) (*authz.Principal, error) {
	var p authz.Principal
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, department_id FROM users
		WHERE sso_subject <> '' AND sso_subject = $1
	`, subject).Scan(&p.ID, &p.Username, &p.DepartmentID)
	if err == sql.ErrNoRows && email != "" {
		err = s.db.QueryRowContext(ctx, `
			SELECT id, username, department_id FROM users
			WHERE email <> '' AND email = $1
		`, email).Scan(&p.ID, &p.Username, &p.DepartmentID)
	}
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no local account for subject", authz.ErrUnauthenticated)
	}
	if err != nil {
		return nil, authz.StoreUnavailable(fmt.Errorf("query principal by subject: %w", err))
	}

	roleIDs, err := s.roleIDsFor(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	p.RoleIDs = roleIDs
	return &p, nil
}

func (s *TokenStore) roleIDsFor(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role_id FROM user_roles WHERE user_id = $1 ORDER BY role_id
	`, userID)
	if err != nil {
		return nil, authz.StoreUnavailable(fmt.Errorf("query user roles: %w", err))
	}
	defer rows.Close()

	var roleIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, authz.StoreUnavailable(fmt.Errorf("scan user role: %w", err))
		}
		roleIDs = append(roleIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, authz.StoreUnavailable(fmt.Errorf("iterate user roles: %w", err))
	}
	return roleIDs, nil
}
