package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DBLogger persists decision events to PostgreSQL.
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database-backed decision logger and ensures the
// table exists.
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{db: db}
	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure authz_decisions table: %w", err)
	}
	return logger, nil
}

func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS authz_decisions (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		principal_id BIGINT,
		username VARCHAR(255),
		permission_code VARCHAR(255),
		outcome VARCHAR(20) NOT NULL,
		reason VARCHAR(100),
		request_id VARCHAR(100),
		method VARCHAR(10),
		path TEXT,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_authz_decisions_timestamp ON authz_decisions(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_authz_decisions_principal ON authz_decisions(principal_id);
	CREATE INDEX IF NOT EXISTS idx_authz_decisions_outcome ON authz_decisions(outcome);
	`

	_, err := l.db.Exec(query)
	return err
}

// Log inserts one decision event.
func (l *DBLogger) Log(ctx context.Context, event *DecisionEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	query := `
		INSERT INTO authz_decisions (
			timestamp, principal_id, username, permission_code,
			outcome, reason, request_id, method, path
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	err := l.db.QueryRowContext(ctx, query,
		event.Timestamp, event.PrincipalID, event.Username, event.PermissionCode,
		event.Outcome, event.Reason, event.RequestID, event.Method, event.Path,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert decision event: %w", err)
	}
	return nil
}

// QueryFilter narrows RecentDecisions.
type QueryFilter struct {
	PrincipalID *int64
	Outcome     *Outcome
	Limit       int
}

// RecentDecisions returns decision events newest first.
func (l *DBLogger) RecentDecisions(ctx context.Context, filter QueryFilter) ([]DecisionEvent, error) {
	query := `
		SELECT id, timestamp, principal_id, username, permission_code,
		       outcome, reason, request_id, method, path
		FROM authz_decisions
		WHERE 1=1
	`
	var args []interface{}
	argCount := 1

	if filter.PrincipalID != nil {
		query += fmt.Sprintf(" AND principal_id = $%d", argCount)
		args = append(args, *filter.PrincipalID)
		argCount++
	}
	if filter.Outcome != nil {
		query += fmt.Sprintf(" AND outcome = $%d", argCount)
		args = append(args, string(*filter.Outcome))
		argCount++
	}

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", argCount)
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query decision events: %w", err)
	}
	defer rows.Close()

	var events []DecisionEvent
	for rows.Next() {
		var e DecisionEvent
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.PrincipalID, &e.Username,
			&e.PermissionCode, &e.Outcome, &e.Reason, &e.RequestID, &e.Method, &e.Path); err != nil {
			return nil, fmt.Errorf("failed to scan decision event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Cleanup removes decision events older than the retention window and
// returns the number deleted.
func (l *DBLogger) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	result, err := l.db.ExecContext(ctx, "DELETE FROM authz_decisions WHERE timestamp < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up decision events: %w", err)
	}
	return result.RowsAffected()
}
