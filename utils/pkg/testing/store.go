package nstesting

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/netstate/indexer/pkg/dataset"
	"github.com/malbeclabs/netstate/indexer/pkg/sqlite"
)

// Backend is what a store needs from a database client.
type Backend interface {
	DB() *sql.DB
	Dialect() dataset.Dialect
}

// NewSQLiteClient opens a migrated SQLite database in a temp directory.
func NewSQLiteClient(t *testing.T) *sqlite.Client {
	t.Helper()
	log := NewLogger()
	client, err := sqlite.NewClient(t.Context(), log, sqlite.Config{
		Path: filepath.Join(t.TempDir(), "netstate.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, dataset.RunMigrations(t.Context(), log, client.DB(), client.Dialect()))
	return client
}

// NewStore builds a store over backend. A nil clock uses the real clock.
func NewStore(t *testing.T, backend Backend, clock clockwork.Clock) *dataset.Store {
	t.Helper()
	store, err := dataset.NewStore(dataset.StoreConfig{
		Logger:  NewLogger(),
		DB:      backend.DB(),
		Dialect: backend.Dialect(),
		Clock:   clock,
	})
	require.NoError(t, err)
	return store
}

// NewSQLiteStore is NewStore over a fresh SQLite database.
func NewSQLiteStore(t *testing.T) *dataset.Store {
	t.Helper()
	return NewStore(t, NewSQLiteClient(t), nil)
}
