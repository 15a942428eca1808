package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate_IsIdempotentAndResettable(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	n, err := db.Migrate(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "already applied by openTestDB")

	require.NoError(t, NewSettingsStore(db).Set(ctx, "k", "v"))
	require.NoError(t, db.DropAll(ctx))

	n, err = db.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, err := NewSettingsStore(db).Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "tables were recreated empty")
}

func TestMigrationVersion(t *testing.T) {
	assert.Equal(t, 1, migrationVersion("001_init.sql"))
	assert.Equal(t, 12, migrationVersion("12"))
	assert.Zero(t, migrationVersion("init.sql"))
}
