package migrate

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/MrEthical07/trustcore/store/sqlstore"
	"github.com/stretchr/testify/require"
)

func TestRunUpAndDownOnSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trust.db")
	dsn := URL("sqlite", path)

	v, _, err := Version(dsn)
	require.NoError(t, err)
	require.Zero(t, v)

	require.NoError(t, Run(dsn, Up))
	require.NoError(t, Run(dsn, Up), "second up must be a no-op")

	v, dirty, err := Version(dsn)
	require.NoError(t, err)
	require.False(t, dirty)
	require.EqualValues(t, 1, v)

	ctx := context.Background()
	db, err := sqlstore.Open(ctx, sqlstore.SQLite, path)
	require.NoError(t, err)
	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n))
	require.NoError(t, db.Close())

	require.NoError(t, Run(dsn, Down))
	v, _, err = Version(dsn)
	require.NoError(t, err)
	require.Zero(t, v)
}

func TestRunRejectsBadInput(t *testing.T) {
	require.Error(t, Run("", Up))
	require.Error(t, Run("sqlite://x.db", "sideways"))
	require.Error(t, Run("mysql://localhost/db", Up))
}

func TestURL(t *testing.T) {
	require.Equal(t, "sqlite:///tmp/a.db", URL("sqlite", "/tmp/a.db"))
	require.Equal(t, "sqlite://a.db", URL("sqlite", "sqlite://a.db"))
	require.Equal(t, "postgres://u@h/db", URL("postgres", "postgres://u@h/db"))
}
