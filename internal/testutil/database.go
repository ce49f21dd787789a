package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"syncservice/internal/cache"
	"syncservice/internal/database"
	"syncservice/internal/database/migrations"
	"syncservice/internal/engine"
)

// NewTestDatabase creates a migrated SQLite database in a temp directory.
// The database is automatically closed when the test completes.
func NewTestDatabase(t *testing.T) *database.SQLStore {
	t.Helper()
	return NewTestDatabasePool(t, 1)[0]
}

// NewTestDatabasePool opens size connections to one migrated SQLite file.
func NewTestDatabasePool(t *testing.T, size int) []*database.SQLStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "sync.db")
	stores, err := database.OpenSQLitePool(context.Background(), path, database.PoolOptions{Size: size})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})

	if err := migrations.MigrateUp(stores[0].DB(), migrations.DialectSQLite); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}
	return stores
}

// NewTestStore creates an empty in-memory store.
func NewTestStore() engine.Storage {
	return cache.NewStore()
}
