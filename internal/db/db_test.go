package db

import (
	"testing"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMigrationsInMemory(t *testing.T) {
	database, err := Init("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(database) })

	require.NoError(t, RunMigrations(database.DB, "sqlite"))

	for _, table := range []string{"users", "profiles", "tokens", "subscriptions", "flags"} {
		var count int
		err := database.Get(&count, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = $1`, table)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s", table)
	}

	statuses, err := Status(database.DB, "sqlite")
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, int64(2), statuses[1].Version)
	assert.True(t, statuses[1].Applied)

	require.NoError(t, MigrateDown(database.DB, "sqlite"))

	var count int
	require.NoError(t, database.Get(&count, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'flags'`))
	assert.Zero(t, count)
}

func TestDialect(t *testing.T) {
	assert.Equal(t, goose.DialectSQLite3, dialect("sqlite"))
	assert.Equal(t, goose.DialectPostgres, dialect("pgx"))
	assert.Equal(t, goose.Dialect("mysql"), dialect("mysql"))
}
