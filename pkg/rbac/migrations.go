package rbac

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all role registry migrations (PostgreSQL dialect)
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					organization_id TEXT,
					level INTEGER NOT NULL DEFAULT 0,
					is_default BOOLEAN NOT NULL DEFAULT FALSE,
					permissions JSONB NOT NULL DEFAULT '[]',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_roles_org_name ON roles(COALESCE(organization_id, ''), name);
				CREATE INDEX IF NOT EXISTS idx_roles_organization_id ON roles(organization_id);
			`,
		},
		{
			Version:     2,
			Description: "Create member_roles table",
			// No ON DELETE CASCADE: deleting a role that still has holders must
			// fail unless they were reassigned in the same transaction.
			SQL: `
				CREATE TABLE IF NOT EXISTS member_roles (
					member_id TEXT NOT NULL,
					organization_id TEXT NOT NULL,
					role_id BIGINT NOT NULL REFERENCES roles(id),
					assigned_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (member_id, organization_id)
				);

				CREATE INDEX IF NOT EXISTS idx_member_roles_role_id ON member_roles(role_id);
			`,
		},
		{
			Version:     3,
			Description: "Seed built-in roles",
			SQL: `
				INSERT INTO roles (id, name, description, organization_id, level, is_default, permissions) VALUES
					(1, 'owner', 'Full access to every resource in the organization', NULL, 100, TRUE, '["*:*"]'),
					(2, 'admin', 'Manage records, roles and members', NULL, 80, TRUE, '["*:read","*:create","*:update","*:delete","roles:manage","members:manage"]'),
					(3, 'member', 'Read and create records', NULL, 50, TRUE, '["*:read","*:create"]'),
					(4, 'viewer', 'Read-only access', NULL, 10, TRUE, '["*:read"]')
				ON CONFLICT (id) DO NOTHING;

				SELECT setval(pg_get_serial_sequence('roles', 'id'), GREATEST((SELECT MAX(id) FROM roles), 100));
			`,
		},
	}
}

// RunMigrations executes all pending migrations, each in its own transaction
func RunMigrations(ctx context.Context, db *sql.DB, log *logrus.Logger) error {
	if log == nil {
		log = logrus.New()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS rbac_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
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
		log.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Running role registry migration")

		if err := withTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO rbac_migrations (version, description) VALUES ($1, $2)",
				migration.Version, migration.Description,
			); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
			}
			return nil
		}); err != nil {
			return err
		}
	}

	return nil
}
