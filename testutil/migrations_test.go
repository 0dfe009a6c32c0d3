package testutil_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/carpool/backend/migrations"
	"github.com/pkordes/carpool/backend/testutil"
)

var schemaTables = []string{
	"routes",
	"route_stops",
	"trip_sessions",
	"passenger_trip_sessions",
	"passenger_meeting_points",
	"trip_session_stops",
	"driver_locations",
	"ratings",
	"device_tokens",
}

// TestMigrations applies every migration, checks the schema, then rolls all
// of it back. Other packages may have migrated the shared test DB already, so
// it resets to version 0 first.
func TestMigrations(t *testing.T) {
	db := testutil.NewSQLDB(t)

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	require.NoError(t, err, "create goose provider")

	ctx := context.Background()

	_, err = provider.DownTo(ctx, 0)
	require.NoError(t, err, "initial reset")

	results, err := provider.Up(ctx)
	require.NoError(t, err, "goose up")
	assert.Len(t, results, 2)

	for _, table := range schemaTables {
		assert.True(t, tableExists(t, db, table), "expected table %q", table)
	}
	assert.True(t, functionExists(t, db, "realtime_notify"))

	_, err = provider.DownTo(ctx, 0)
	require.NoError(t, err, "goose down-to 0")

	for _, table := range schemaTables {
		assert.False(t, tableExists(t, db, table), "expected table %q to be dropped", table)
	}
	assert.False(t, functionExists(t, db, "realtime_notify"))

	// Leave the DB migrated for packages that run after this one.
	_, err = provider.Up(ctx)
	require.NoError(t, err)
}

func tableExists(t *testing.T, db *sql.DB, table string) bool {
	t.Helper()
	const q = `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = $1
		)`
	var exists bool
	require.NoError(t, db.QueryRowContext(context.Background(), q, table).Scan(&exists))
	return exists
}

func functionExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	const q = `SELECT EXISTS (SELECT 1 FROM pg_proc WHERE proname = $1)`
	var exists bool
	require.NoError(t, db.QueryRowContext(context.Background(), q, name).Scan(&exists))
	return exists
}
