package rbac

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/assessly/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the migrations of the ledger database: grants and the audit trail.
// The SQL is restricted to the subset shared by PostgreSQL and SQLite.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create permission_grants table",
			SQL: `
				CREATE TABLE IF NOT EXISTS permission_grants (
					id VARCHAR(36) PRIMARY KEY,
					user_id VARCHAR(255) NOT NULL,
					permission_id VARCHAR(255) NOT NULL,
					granted_by VARCHAR(255) NOT NULL,
					granted_at TIMESTAMP NOT NULL,
					expires_at TIMESTAMP,
					conditions TEXT NOT NULL DEFAULT '[]',
					scope TEXT
				);

				CREATE INDEX IF NOT EXISTS idx_permission_grants_user_permission
					ON permission_grants(user_id, permission_id);
			`,
		},
		{
			Version:     2,
			Description: "Index grant expiry for cleanup sweeps",
			SQL: `
				CREATE INDEX IF NOT EXISTS idx_permission_grants_expires_at
					ON permission_grants(expires_at);
			`,
		},
		{
			Version:     3,
			Description: "Create audit_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_events (
					id VARCHAR(36) PRIMARY KEY,
					timestamp TIMESTAMP NOT NULL,
					event_type VARCHAR(100) NOT NULL,
					status VARCHAR(20) NOT NULL,
					actor_id VARCHAR(255) NOT NULL DEFAULT '',
					subject_id VARCHAR(255) NOT NULL DEFAULT '',
					permission_id VARCHAR(255) NOT NULL DEFAULT '',
					request_id VARCHAR(100) NOT NULL DEFAULT '',
					message TEXT NOT NULL DEFAULT '',
					metadata TEXT
				);

				CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
				CREATE INDEX IF NOT EXISTS idx_audit_events_event_type ON audit_events(event_type);
				CREATE INDEX IF NOT EXISTS idx_audit_events_subject_id ON audit_events(subject_id);
			`,
		},
	}
}

// RunMigrations applies pending migrations, one transaction each
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS rbac_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM rbac_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		log := logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		})
		log.Info("Running grant ledger migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO rbac_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}

		log.Info("Grant ledger migration completed")
	}

	return nil
}
