package migrations

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestMigrateUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db, DialectSQLite); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	tables := []string{"users", "workspaces", "workspace_members", "devices", "items", "item_versions", "schema_migrations"}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s was not created: %v", table, err)
		}
	}
}

func TestCheckDBMigrationStatus_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	err := CheckDBMigrationStatus(db, DialectSQLite)
	if err == nil {
		t.Fatal("CheckDBMigrationStatus() expected error for fresh database, got nil")
	}

	if err.Error() != "database has no schema version (needs migration)" {
		t.Errorf("CheckDBMigrationStatus() error = %q, want error about needing migration", err.Error())
	}
}

func TestCheckDBMigrationStatus_AfterMigration(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db, DialectSQLite); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	if err := CheckDBMigrationStatus(db, DialectSQLite); err != nil {
		t.Errorf("CheckDBMigrationStatus() after migration returned error: %v", err)
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db, DialectSQLite); err != nil {
		t.Fatalf("First MigrateUp() failed: %v", err)
	}

	if err := MigrateUp(db, DialectSQLite); err != nil {
		t.Errorf("Second MigrateUp() failed: %v (should be idempotent)", err)
	}

	if err := CheckDBMigrationStatus(db, DialectSQLite); err != nil {
		t.Errorf("CheckDBMigrationStatus() after double migration returned error: %v", err)
	}
}

func TestMigrateUp_UnknownDialect(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db, "postgres"); err == nil {
		t.Error("MigrateUp() expected error for unknown dialect, got nil")
	}
}

func TestForeignKeyConstraints(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db, DialectSQLite); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	// Workspace owned by a user that does not exist
	_, err := db.Exec(`
		INSERT INTO workspaces (name, owner_id, is_shared, created_at)
		VALUES ('default', 'no-such-user', 0, datetime('now'))
	`)
	if err == nil {
		t.Error("Expected foreign key constraint violation, but insert succeeded")
	}
}

func TestSchema_UserEmailUnique(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db, DialectSQLite); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	_, err := db.Exec("INSERT INTO users (id, name, email, created_at) VALUES ('u1', 'Ann', 'ann@example.com', datetime('now'))")
	if err != nil {
		t.Fatalf("Failed to insert first user: %v", err)
	}

	_, err = db.Exec("INSERT INTO users (id, name, email, created_at) VALUES ('u2', 'Other Ann', 'ann@example.com', datetime('now'))")
	if err == nil {
		t.Error("Expected unique constraint violation for duplicate email, but insert succeeded")
	}
}

func TestSchema_ItemVersionUnique(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db, DialectSQLite); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	stmts := []string{
		"INSERT INTO users (id, name, email, created_at) VALUES ('u1', 'Ann', 'ann@example.com', datetime('now'))",
		"INSERT INTO workspaces (id, name, owner_id, is_shared, created_at) VALUES (1, 'default', 'u1', 0, datetime('now'))",
		"INSERT INTO items (id, workspace_id, latest_version, created_at) VALUES (1, 1, 1, datetime('now'))",
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("setup %q: %v", s, err)
		}
	}

	insert := `INSERT INTO item_versions (item_id, version, workspace_id, device_id, status, filename, last_modified, committed_at)
		VALUES (1, 1, 1, 1, 'NEW', 'a.txt', datetime('now'), datetime('now'))`
	if _, err := db.Exec(insert); err != nil {
		t.Fatalf("Failed to insert first version: %v", err)
	}
	if _, err := db.Exec(insert); err == nil {
		t.Error("Expected unique constraint violation for duplicate (item_id, version), but insert succeeded")
	}
}

// openTestDB opens a SQLite database in a temp directory with foreign keys enabled.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", "file:"+path+"?_foreign_keys=on")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	return db
}
