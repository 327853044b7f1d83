// Package rbactest provides database fixtures for tests of the stores built on
// the tenantgate schema.
package rbactest

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

// sqliteSchema mirrors the Postgres migrations closely enough for store tests
const sqliteSchema = `
CREATE TABLE user_profiles (
	user_id TEXT PRIMARY KEY,
	email TEXT NOT NULL DEFAULT '',
	first_name TEXT NOT NULL DEFAULT '',
	last_name TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT '',
	locale TEXT NOT NULL DEFAULT 'en',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE tenants (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL,
	icon TEXT NOT NULL CHECK (icon IN ('building', 'rocket', 'star', 'globe', 'shield', 'leaf', 'bolt', 'heart')),
	created_by TEXT REFERENCES user_profiles(user_id) ON DELETE SET NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE tenant_memberships (
	tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	user_id TEXT NOT NULL REFERENCES user_profiles(user_id) ON DELETE CASCADE,
	joined_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (tenant_id, user_id)
);

CREATE TABLE role_permissions (
	role TEXT PRIMARY KEY,
	permissions TEXT NOT NULL DEFAULT '[]',
	notes TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE role_assignments (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES user_profiles(user_id) ON DELETE CASCADE,
	tenant_id TEXT REFERENCES tenants(id) ON DELETE CASCADE,
	role TEXT,
	kind TEXT NOT NULL DEFAULT 'default' CHECK (kind IN ('default', 'custom')),
	granted_by TEXT REFERENCES user_profiles(user_id) ON DELETE SET NULL,
	granted_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	CHECK (kind <> 'default' OR role IS NOT NULL)
);

CREATE UNIQUE INDEX idx_role_assignments_unique ON role_assignments (COALESCE(tenant_id, ''), user_id, role);
`

// NewSQLiteDB returns an in-memory database with the full schema and foreign
// keys enforced. It is closed when the test ends.
func NewSQLiteDB(t testing.TB) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)

	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)

	_, err = db.Exec(sqliteSchema)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })
	return db
}

// CreateUser inserts a bare profile row so assignments and memberships can
// reference the user
func CreateUser(t testing.TB, db *sql.DB, userID uuid.UUID) {
	t.Helper()

	now := time.Now().UTC()
	_, err := db.Exec(
		`INSERT INTO user_profiles (user_id, display_name, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
		userID, "user-"+userID.String()[:8], now, now,
	)
	require.NoError(t, err)
}

// CreateTenant inserts a tenant row directly
func CreateTenant(t testing.TB, db *sql.DB, tenantID uuid.UUID, name string) {
	t.Helper()

	_, err := db.Exec(
		`INSERT INTO tenants (id, name, display_name, icon, created_at) VALUES ($1, $2, $3, $4, $5)`,
		tenantID, name, name, "building", time.Now().UTC(),
	)
	require.NoError(t, err)
}
