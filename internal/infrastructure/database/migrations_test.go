package database

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
)

func withMigrations(t *testing.T, files map[string]string) {
	t.Helper()
	fsys := fstest.MapFS{}
	for name, content := range files {
		fsys["migrations/"+name] = &fstest.MapFile{Data: []byte(content)}
	}

	prevFS, prevDir := MigrationsFS, MigrationsDir
	MigrationsFS = fsys
	MigrationsDir = "migrations"
	t.Cleanup(func() {
		MigrationsFS = prevFS
		MigrationsDir = prevDir
	})
}

func TestMigrateAppliesInOrder(t *testing.T) {
	withMigrations(t, map[string]string{
		"20260101_000000_create_rooms.up.sql":   "CREATE TABLE rooms (id INTEGER PRIMARY KEY)",
		"20260101_000000_create_rooms.down.sql": "DROP TABLE rooms",
		"20260102_000000_add_name.up.sql":       "ALTER TABLE rooms ADD COLUMN name TEXT",
		"20260102_000000_add_name.down.sql":     "ALTER TABLE rooms DROP COLUMN name",
	})

	db, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	// Both migrations recorded.
	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("counting migrations: %v", err)
	}
	if count != 2 {
		t.Errorf("applied migrations = %d, want 2", count)
	}

	// The column from the second migration exists.
	if _, err := db.ExecContext(ctx, "INSERT INTO rooms (name) VALUES ('kitchen')"); err != nil {
		t.Errorf("insert using migrated column: %v", err)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	withMigrations(t, map[string]string{
		"20260101_000000_create_rooms.up.sql": "CREATE TABLE rooms (id INTEGER PRIMARY KEY)",
	})

	db, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("first Migrate() error = %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateDownRevertsLatest(t *testing.T) {
	withMigrations(t, map[string]string{
		"20260101_000000_create_rooms.up.sql":   "CREATE TABLE rooms (id INTEGER PRIMARY KEY)",
		"20260101_000000_create_rooms.down.sql": "DROP TABLE rooms",
	})

	db, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("counting migrations: %v", err)
	}
	if count != 0 {
		t.Errorf("applied migrations after revert = %d, want 0", count)
	}
}

func TestMigrateDownWithNothingApplied(t *testing.T) {
	withMigrations(t, map[string]string{
		"20260101_000000_create_rooms.up.sql": "CREATE TABLE rooms (id INTEGER PRIMARY KEY)",
	})

	db, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if err := db.MigrateDown(context.Background()); err == nil {
		t.Error("MigrateDown() with no applied migrations should error")
	}
}

func TestMigrateWithoutEmbeddedFiles(t *testing.T) {
	prevFS := MigrationsFS
	MigrationsFS = nil
	t.Cleanup(func() { MigrationsFS = prevFS })

	db, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); !errors.Is(err, ErrNoMigrations) {
		t.Errorf("Migrate() error = %v, want ErrNoMigrations", err)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename  string
		version   string
		name      string
		direction string
		wantErr   bool
	}{
		{"20260101_120000_create_rooms.up.sql", "20260101_120000", "create_rooms", "up", false},
		{"20260101_120000_create_rooms.down.sql", "20260101_120000", "create_rooms", "down", false},
		{"20260101_120000_create_rooms.sql", "", "", "", true},
		{"create_rooms.up.sql", "", "", "", true},
	}

	for _, tt := range tests {
		version, name, direction, err := parseMigrationFilename(tt.filename)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseMigrationFilename(%q) expected error", tt.filename)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseMigrationFilename(%q) error = %v", tt.filename, err)
			continue
		}
		if version != tt.version || name != tt.name || direction != tt.direction {
			t.Errorf("parseMigrationFilename(%q) = %q, %q, %q; want %q, %q, %q",
				tt.filename, version, name, direction, tt.version, tt.name, tt.direction)
		}
	}
}
