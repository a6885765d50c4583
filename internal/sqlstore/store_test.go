package sqlstore_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/torbobase/torbo-base/internal/sqlstore"
)

func newTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "torbo-test.db")
	s, err := sqlstore.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesSchemaMigrationsTable(t *testing.T) {
	s := newTestStore(t)

	var name string
	err := s.DB().QueryRow(
		"SELECT name FROM sqlite_master WHERE type='table' AND name='schema_migrations'",
	).Scan(&name)
	require.NoError(t, err)
	require.Equal(t, "schema_migrations", name)

	var version int
	require.NoError(t, s.DB().QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version))
	require.Greater(t, version, 0, "expected at least one embedded migration to have run")
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "torbo-idempotent.db")

	s1, err := sqlstore.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	// Reopening the same database must not re-apply or fail on migrations
	// already recorded in schema_migrations.
	s2, err := sqlstore.Open(dbPath)
	require.NoError(t, err)
	defer s2.Close()

	var count int
	require.NoError(t, s2.DB().QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	require.Equal(t, 1, count, "expected exactly one applied migration row, no duplicates on reopen")
}

func TestOpen_MissingDirectoryFails(t *testing.T) {
	_, err := sqlstore.Open(filepath.Join(t.TempDir(), "nonexistent-subdir", "torbo.db"))
	require.Error(t, err)
}

func TestOpen_CreatesDatabaseFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "torbo-create.db")
	s, err := sqlstore.Open(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	require.NoError(t, err, "expected Open to create the database file on disk")
}
