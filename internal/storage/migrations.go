package storage

import (
	"context"
	"fmt"
	"time"
)

// Migration represents a database migration. Statements must run on both
// SQLite and PostgreSQL.
type Migration struct {
	Version int
	Name    string
	Up      []string
}

// migrations holds all database migrations in order.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS rules (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				description TEXT,
				rule_type TEXT NOT NULL,
				conditions_json TEXT NOT NULL,
				actions_json TEXT NOT NULL,
				is_active INTEGER NOT NULL DEFAULT 1,
				priority INTEGER NOT NULL DEFAULT 5,
				cooldown_seconds INTEGER NOT NULL DEFAULT 300,
				created_by TEXT,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_rules_active ON rules(is_active)`,

			// rule_id, subject_id, camera_id and sighting_id are weak
			// references: no foreign keys, so deleting a rule or subject
			// keeps its alerts.
			`CREATE TABLE IF NOT EXISTS alerts (
				id TEXT PRIMARY KEY,
				rule_id TEXT,
				rule_name TEXT,
				rule_type TEXT,
				subject_id TEXT,
				camera_id TEXT,
				sighting_id TEXT,
				trigger_data TEXT,
				status TEXT NOT NULL DEFAULT 'open',
				priority INTEGER NOT NULL,
				acknowledged_by TEXT,
				acknowledged_at TIMESTAMP,
				resolved_at TIMESTAMP,
				escalated_at TIMESTAMP,
				notes TEXT,
				created_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status)`,
			`CREATE INDEX IF NOT EXISTS idx_alerts_rule ON alerts(rule_id)`,
			`CREATE INDEX IF NOT EXISTS idx_alerts_subject ON alerts(subject_id)`,
			`CREATE INDEX IF NOT EXISTS idx_alerts_camera ON alerts(camera_id)`,
			`CREATE INDEX IF NOT EXISTS idx_alerts_order ON alerts(priority DESC, created_at DESC)`,
		},
	},
	{
		Version: 2,
		Name:    "alert_version",
		Up: []string{
			`ALTER TABLE alerts ADD COLUMN version INTEGER NOT NULL DEFAULT 0`,
		},
	},
}

// runMigrations applies all pending migrations.
func runMigrations(q *querier) error {
	ctx := context.Background()

	_, err := q.exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	err = q.queryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		tx, err := q.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		for _, stmt := range m.Up {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
			}
		}

		_, err = tx.ExecContext(ctx,
			q.rebind("INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)"),
			m.Version, m.Name, time.Now().UTC(),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
