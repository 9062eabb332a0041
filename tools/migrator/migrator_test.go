package migrator

import (
	"database/sql"
	"strings"
	"testing"
	"testing/fstest"

	_ "github.com/mattn/go-sqlite3"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func tableExists(t *testing.T, db *sql.DB, tableName string) bool {
	var name string
	query := "SELECT name FROM sqlite_master WHERE type='table' AND name=?"
	err := db.QueryRow(query, tableName).Scan(&name)
	if err == sql.ErrNoRows {
		return false
	}
	if err != nil {
		t.Fatalf("failed to check if table exists: %v", err)
	}
	return true
}

func getVersion(t *testing.T, db *sql.DB) int {
	version, err := GetCurrentVersion(db)
	if err != nil {
		t.Fatalf("failed to get version: %v", err)
	}
	return version
}

func file(content string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(content)}
}

func validFS() fstest.MapFS {
	return fstest.MapFS{
		"migrations/001_create_accounts.sql": file(`-- +migrate Up
CREATE TABLE accounts (
    address TEXT PRIMARY KEY
);`),
		"migrations/002_create_transfers.sql": file(`-- +migrate Up
-- transfers reference accounts
CREATE TABLE transfers (
    id INTEGER PRIMARY KEY,
    address TEXT NOT NULL REFERENCES accounts(address)
);
CREATE INDEX idx_transfers_address ON transfers(address);`),
		"migrations/README.md": file("not a migration"),
	}
}

// =============================================================================
// Parser Tests
// =============================================================================

func TestParseMigration_Valid(t *testing.T) {
	migration, err := ParseMigration("001_create_users.sql", []byte("-- +migrate Up\nCREATE TABLE users (id INTEGER);\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if migration.Version != 1 {
		t.Errorf("expected version 1, got %d", migration.Version)
	}
	if migration.Name != "create_users" {
		t.Errorf("expected name 'create_users', got '%s'", migration.Name)
	}
	if migration.UpSQL != "CREATE TABLE users (id INTEGER);" {
		t.Errorf("unexpected UpSQL: %q", migration.UpSQL)
	}
}

func TestParseMigration_IgnoresTextBeforeMarker(t *testing.T) {
	content := "-- header comment\n--   +migrate   Up  \nCREATE TABLE t (id INTEGER);"
	migration, err := ParseMigration("007_t.sql", []byte(content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if migration.Version != 7 {
		t.Errorf("expected version 7, got %d", migration.Version)
	}
	if strings.Contains(migration.UpSQL, "header") {
		t.Errorf("expected text before marker to be dropped, got %q", migration.UpSQL)
	}
}

func TestParseMigration_Errors(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  string
		wantErr  string
	}{
		{"bad filename", "1_short.sql", "-- +migrate Up\nSELECT 1;", "invalid migration filename"},
		{"no extension", "001_name", "-- +migrate Up\nSELECT 1;", "invalid migration filename"},
		{"missing marker", "001_name.sql", "SELECT 1;", "missing '-- +migrate Up' marker"},
		{"only comments", "001_name.sql", "-- +migrate Up\n-- nothing here\n", "no SQL statements"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMigration(tt.filename, []byte(tt.content))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadMigrations_SortedAndFiltered(t *testing.T) {
	migrations, err := LoadMigrations(validFS(), "migrations")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Name != "create_accounts" || migrations[1].Name != "create_transfers" {
		t.Errorf("unexpected order: %s, %s", migrations[0].Name, migrations[1].Name)
	}
}

func TestLoadMigrations_Gap(t *testing.T) {
	fsys := fstest.MapFS{
		"m/001_a.sql": file("-- +migrate Up\nCREATE TABLE a (id INTEGER);"),
		"m/003_c.sql": file("-- +migrate Up\nCREATE TABLE c (id INTEGER);"),
	}

	_, err := LoadMigrations(fsys, "m")
	if err == nil || !strings.Contains(err.Error(), "gap in migration versions") {
		t.Fatalf("expected gap error, got %v", err)
	}
}

func TestLoadMigrations_Duplicate(t *testing.T) {
	fsys := fstest.MapFS{
		"m/001_a.sql": file("-- +migrate Up\nCREATE TABLE a (id INTEGER);"),
		"m/001_b.sql": file("-- +migrate Up\nCREATE TABLE b (id INTEGER);"),
	}

	_, err := LoadMigrations(fsys, "m")
	if err == nil || !strings.Contains(err.Error(), "duplicate migration version") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestLoadMigrations_MissingDir(t *testing.T) {
	_, err := LoadMigrations(fstest.MapFS{}, "nope")
	if err == nil {
		t.Fatal("expected error for missing directory")
	}
}

// =============================================================================
// Runner Tests
// =============================================================================

func TestRunMigrations_FreshDatabase(t *testing.T) {
	db := setupTestDB(t)

	if v := getVersion(t, db); v != 0 {
		t.Fatalf("expected version 0 before migrating, got %d", v)
	}

	if err := RunMigrations(db, validFS(), "migrations"); err != nil {
		t.Fatalf("RunMigrations failed: %v", err)
	}

	for _, table := range []string{"schema_migrations", "accounts", "transfers"} {
		if !tableExists(t, db, table) {
			t.Errorf("expected table %s to exist", table)
		}
	}
	if v := getVersion(t, db); v != 2 {
		t.Errorf("expected version 2, got %d", v)
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := setupTestDB(t)

	if err := RunMigrations(db, validFS(), "migrations"); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if err := RunMigrations(db, validFS(), "migrations"); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	applied, err := GetAppliedMigrations(db)
	if err != nil {
		t.Fatalf("GetAppliedMigrations failed: %v", err)
	}
	if len(applied) != 2 || applied[0] != 1 || applied[1] != 2 {
		t.Errorf("expected [1 2], got %v", applied)
	}
}

func TestRunMigrations_Incremental(t *testing.T) {
	db := setupTestDB(t)

	first := fstest.MapFS{
		"m/001_a.sql": file("-- +migrate Up\nCREATE TABLE a (id INTEGER);"),
	}
	if err := RunMigrations(db, first, "m"); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	second := fstest.MapFS{
		"m/001_a.sql": first["m/001_a.sql"],
		"m/002_b.sql": file("-- +migrate Up\nCREATE TABLE b (id INTEGER);"),
	}
	if err := RunMigrations(db, second, "m"); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if !tableExists(t, db, "b") {
		t.Error("expected table b to exist")
	}
	if v := getVersion(t, db); v != 2 {
		t.Errorf("expected version 2, got %d", v)
	}
}

func TestRunMigrations_FailedMigrationRollsBack(t *testing.T) {
	db := setupTestDB(t)

	fsys := fstest.MapFS{
		"m/001_a.sql": file("-- +migrate Up\nCREATE TABLE a (id INTEGER);"),
		"m/002_bad.sql": file("-- +migrate Up\nCREATE TABLE b (id INTEGER);\nTHIS IS NOT SQL;"),
	}

	err := RunMigrations(db, fsys, "m")
	if err == nil {
		t.Fatal("expected error from invalid migration")
	}
	if !strings.Contains(err.Error(), "failed to apply migration 2") {
		t.Errorf("unexpected error: %v", err)
	}

	if v := getVersion(t, db); v != 1 {
		t.Errorf("expected version 1 after failure, got %d", v)
	}
}

func TestGetAppliedMigrations_NoTable(t *testing.T) {
	db := setupTestDB(t)

	applied, err := GetAppliedMigrations(db)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("expected no applied migrations, got %v", applied)
	}
}
