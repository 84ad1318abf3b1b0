package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SQLLedger persists grants in the permission_grants table.
// Queries use $n placeholders, which both lib/pq and go-sqlite3 accept.
type SQLLedger struct {
	db *sql.DB
}

// NewSQLLedger creates a ledger over an already-migrated database
func NewSQLLedger(db *sql.DB) *SQLLedger {
	return &SQLLedger{db: db}
}

// Append inserts a grant, assigning an ID when it has none
func (s *SQLLedger) Append(ctx context.Context, grant *PermissionGrant) error {
	if err := validateGrant(grant); err != nil {
		return err
	}
	if grant.ID == "" {
		grant.ID = uuid.NewString()
	}

	conditions, err := json.Marshal(grant.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}
	if grant.Conditions == nil {
		conditions = []byte("[]")
	}

	var scope sql.NullString
	if grant.Scope != nil {
		data, err := json.Marshal(grant.Scope)
		if err != nil {
			return fmt.Errorf("failed to marshal scope: %w", err)
		}
		scope = sql.NullString{String: string(data), Valid: true}
	}

	var expiresAt sql.NullTime
	if grant.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: grant.ExpiresAt.UTC(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO permission_grants (id, user_id, permission_id, granted_by, granted_at, expires_at, conditions, scope)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, grant.ID, grant.UserID, grant.Permission, grant.GrantedBy, grant.GrantedAt.UTC(), expiresAt, string(conditions), scope)
	if err != nil {
		return fmt.Errorf("failed to insert grant: %w", err)
	}

	return nil
}

// Remove deletes every grant for the user and permission
func (s *SQLLedger) Remove(ctx context.Context, userID, permissionID string) (int, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM permission_grants WHERE user_id = $1 AND permission_id = $2",
		userID, permissionID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete grants: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted grants: %w", err)
	}
	return int(affected), nil
}

// ListForUser returns the user's grants ordered by grant time
func (s *SQLLedger) ListForUser(ctx context.Context, userID string) ([]*PermissionGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, permission_id, granted_by, granted_at, expires_at, conditions, scope
		FROM permission_grants
		WHERE user_id = $1
		ORDER BY granted_at, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query grants: %w", err)
	}
	defer rows.Close()

	grants := make([]*PermissionGrant, 0)
	for rows.Next() {
		grant, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, grant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate grants: %w", err)
	}

	return grants, nil
}

// RemoveExpired deletes every grant whose expiry is at or before now
func (s *SQLLedger) RemoveExpired(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM permission_grants WHERE expires_at IS NOT NULL AND expires_at <= $1",
		now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired grants: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count expired grants: %w", err)
	}
	return int(affected), nil
}

// CountGrants returns the number of stored grants, expired ones included
func (s *SQLLedger) CountGrants(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM permission_grants").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count grants: %w", err)
	}
	return count, nil
}

func scanGrant(scanner interface {
	Scan(dest ...interface{}) error
}) (*PermissionGrant, error) {
	var (
		grant      PermissionGrant
		expiresAt  sql.NullTime
		conditions string
		scope      sql.NullString
	)

	err := scanner.Scan(
		&grant.ID,
		&grant.UserID,
		&grant.Permission,
		&grant.GrantedBy,
		&grant.GrantedAt,
		&expiresAt,
		&conditions,
		&scope,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan grant: %w", err)
	}

	grant.GrantedAt = grant.GrantedAt.UTC()
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		grant.ExpiresAt = &t
	}

	if conditions != "" && conditions != "[]" && conditions != "null" {
		if err := json.Unmarshal([]byte(conditions), &grant.Conditions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
		}
	}

	if scope.Valid && scope.String != "" {
		grant.Scope = &GrantScope{}
		if err := json.Unmarshal([]byte(scope.String), grant.Scope); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scope: %w", err)
		}
	}

	return &grant, nil
}
