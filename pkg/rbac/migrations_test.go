package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/rbac/rbactest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMigrations_Ordered(t *testing.T) {
	migrations := GetMigrations()
	require.NotEmpty(t, migrations)
	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.Description)
		assert.NotEmpty(t, m.SQL)
	}
}

func TestApplyMigrations_SkipsApplied(t *testing.T) {
	db := rbactest.NewSQLiteDB(t)
	ctx := context.Background()
	logger := observability.NewLogger(observability.ErrorLevel, nil)

	migrations := []Migration{
		{Version: 1, Description: "create widgets", SQL: `CREATE TABLE widgets (id INTEGER PRIMARY KEY)`},
		{Version: 2, Description: "seed widget", SQL: `INSERT INTO widgets (id) VALUES (1)`},
	}

	require.NoError(t, applyMigrations(ctx, db, migrations, logger))
	require.NoError(t, applyMigrations(ctx, db, migrations, logger), "second run is a no-op")

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM widgets`).Scan(&count))
	assert.Equal(t, 1, count)

	applied, err := appliedVersions(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{1: true, 2: true}, applied)
}

func TestApplyMigrations_FailureRollsBack(t *testing.T) {
	db := rbactest.NewSQLiteDB(t)
	ctx := context.Background()

	migrations := []Migration{
		{Version: 1, Description: "create widgets", SQL: `CREATE TABLE widgets (id INTEGER PRIMARY KEY)`},
		{Version: 2, Description: "broken", SQL: `INSERT INTO gadgets (id) VALUES (1)`},
	}

	err := applyMigrations(ctx, db, migrations, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration 2")

	applied, err := appliedVersions(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{1: true}, applied)
}

func TestApplyMigrations_TableCreationFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS tenantgate_migrations").
		WillReturnError(errors.New("permission denied"))

	err = applyMigrations(context.Background(), db, GetMigrations(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migrations table")
	assert.NoError(t, mock.ExpectationsWereMet())
}
