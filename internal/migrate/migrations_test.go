package migrate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contractline/internal/db"
	"contractline/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(ctx, db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	v, err := migrate.Version(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	ms, err := migrate.Migrations()
	require.NoError(t, err)
	require.NotEmpty(t, ms)
	latest := ms[len(ms)-1].Version

	v, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, latest, v)

	v, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, latest, v)

	var n int
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT count(*) FROM contracts`).Scan(&n))
	assert.Zero(t, n)
}
