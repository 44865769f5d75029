package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMigrator_PostgresLifecycle(t *testing.T) {
	store := openRawPostgresStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	embedded, err := loadMigrationsFromFS(migrationsFS)
	require.NoError(t, err)
	latest := embedded[len(embedded)-1].Version

	require.NoError(t, store.MigrateDown(ctx, 100))
	status, err := store.MigrationStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, SchemaStatus{Pending: len(embedded), Latest: latest}, status)
	require.Error(t, store.Check(ctx), "empty schema must fail health check")

	require.NoError(t, store.MigrateUp(ctx, 1))
	status, err = store.MigrationStatus(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, status.Version)
	require.Equal(t, len(embedded)-1, status.Pending)

	require.NoError(t, store.MigrateUp(ctx, 0))
	require.NoError(t, store.MigrateUp(ctx, 0), "up is idempotent")
	status, err = store.MigrationStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, SchemaStatus{Version: latest, Applied: len(embedded), Latest: latest}, status)
	require.NoError(t, store.Check(ctx))

	require.NoError(t, store.MigrateDown(ctx, 0), "zero steps rolls back one")
	status, err = store.MigrationStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, status.Pending)

	require.NoError(t, store.MigrateUp(ctx, 0))

	_, err = store.DB().ExecContext(ctx, `UPDATE hubcart_schema_migrations SET checksum = 'edited' WHERE version = 1`)
	require.NoError(t, err)
	status, err = store.MigrationStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{1}, status.Drifted)
	require.ErrorIs(t, store.MigrateUp(ctx, 0), ErrMigrationDrift)

	_, err = store.DB().ExecContext(ctx, `UPDATE hubcart_schema_migrations SET checksum = $1 WHERE version = 1`, embedded[0].Checksum())
	require.NoError(t, err)
}

func TestMigrator_GuardsAndUnsupportedDirection(t *testing.T) {
	var nilStore *Store
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.Error(t, nilStore.MigrateUp(ctx, 0))
	require.Error(t, nilStore.MigrateDown(ctx, 1))
	_, err := nilStore.MigrationStatus(ctx)
	require.ErrorIs(t, err, errStoreNotInitialized)
	require.Error(t, nilStore.Check(ctx))

	store := openRawPostgresStoreForIntegrationTest(t)
	require.Error(t, store.migrate(ctx, migrationDirection("sideways"), 0))
}
