package rbac

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// Migration is one versioned schema change
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the Postgres schema for profiles, tenants, memberships,
// role assignments and role permission sets
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create user_profiles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_profiles (
					user_id UUID PRIMARY KEY,
					email VARCHAR(320) NOT NULL DEFAULT '',
					first_name VARCHAR(100) NOT NULL DEFAULT '',
					last_name VARCHAR(100) NOT NULL DEFAULT '',
					display_name VARCHAR(200) NOT NULL DEFAULT '',
					locale VARCHAR(35) NOT NULL DEFAULT 'en',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create tenants table",
			SQL: `
				CREATE TABLE IF NOT EXISTS tenants (
					id UUID PRIMARY KEY,
					name VARCHAR(10) NOT NULL UNIQUE CHECK (name ~ '^[a-z]{3,10}$'),
					display_name VARCHAR(100) NOT NULL,
					icon VARCHAR(32) NOT NULL CHECK (icon IN ('building', 'rocket', 'star', 'globe', 'shield', 'leaf', 'bolt', 'heart')),
					created_by UUID REFERENCES user_profiles(user_id) ON DELETE SET NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_tenants_created_by ON tenants(created_by);
			`,
		},
		{
			Version:     3,
			Description: "Create tenant_memberships table",
			SQL: `
				CREATE TABLE IF NOT EXISTS tenant_memberships (
					tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					user_id UUID NOT NULL REFERENCES user_profiles(user_id) ON DELETE CASCADE,
					joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (tenant_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_tenant_memberships_user_id ON tenant_memberships(user_id);
			`,
		},
		{
			Version:     4,
			Description: "Create role_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_permissions (
					role VARCHAR(32) PRIMARY KEY,
					permissions JSONB NOT NULL DEFAULT '[]',
					notes TEXT NOT NULL DEFAULT '',
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     5,
			Description: "Create role_assignments table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_assignments (
					id UUID PRIMARY KEY,
					user_id UUID NOT NULL REFERENCES user_profiles(user_id) ON DELETE CASCADE,
					tenant_id UUID REFERENCES tenants(id) ON DELETE CASCADE,
					role VARCHAR(32),
					kind VARCHAR(16) NOT NULL DEFAULT 'default' CHECK (kind IN ('default', 'custom')),
					granted_by UUID REFERENCES user_profiles(user_id) ON DELETE SET NULL,
					granted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CHECK (kind <> 'default' OR role IS NOT NULL)
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_role_assignments_unique
					ON role_assignments (COALESCE(tenant_id, '00000000-0000-0000-0000-000000000000'::uuid), user_id, role);
				CREATE INDEX IF NOT EXISTS idx_role_assignments_user_kind ON role_assignments(user_id, kind);
				CREATE INDEX IF NOT EXISTS idx_role_assignments_tenant_id ON role_assignments(tenant_id);
			`,
		},
		{
			Version:     6,
			Description: "Create read-only authz role",
			SQL: `
				DO $$
				BEGIN
					IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = 'tenantgate_authz') THEN
						CREATE ROLE tenantgate_authz NOLOGIN;
					END IF;
				END
				$$;

				GRANT SELECT ON role_assignments, role_permissions TO tenantgate_authz;
			`,
		},
	}
}

// RunMigrations applies every pending schema migration
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	return applyMigrations(ctx, db, GetMigrations(), logger)
}

func applyMigrations(ctx context.Context, db *sql.DB, migrations []Migration, logger *observability.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tenantgate_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}

		if logger != nil {
			logger.WithFields(map[string]interface{}{
				"version":     migration.Version,
				"description": migration.Description,
			}).Info("Running migration")
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO tenantgate_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM tenantgate_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}
