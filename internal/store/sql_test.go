package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func openSQL(t *testing.T, driver, dsn string) *sql.DB {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, driver, dsn)
	if err != nil {
		t.Fatalf("open %s: %v", driver, err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := ApplyMigrations(ctx, db, driver); err != nil {
		t.Fatalf("migrations failed: %v", err)
	}
	return db
}

func exerciseSQLBackend(t *testing.T, db *sql.DB, driver string) {
	ctx := context.Background()
	backend := NewSQLBackend(db, driver)

	if err := backend.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	s := NewDocumentStore(ctx, backend, quietLogger())
	payload := `{"data":{"pageConfig":[{"pageId":"P1","name":"Login"}],"application":{"appName":"Shop"}}}`
	if _, err := s.Replace(ctx, parse(t, payload), 0); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	if _, err := s.Replace(ctx, parse(t, payload), 0); err != nil {
		t.Fatalf("second Replace failed: %v", err)
	}

	reloaded := NewDocumentStore(ctx, backend, quietLogger())
	doc, _ := reloaded.Current()
	if diff := cmp.Diff(payload, encode(t, doc)); diff != "" {
		t.Errorf("reloaded document mismatch (-want +got):\n%s", diff)
	}

	var rows int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != 1 {
		t.Errorf("expected a single document row, got %d", rows)
	}
}

func TestSQLiteBackend(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "configdeck.db")
	db := openSQL(t, DriverSQLite, dsn)

	if err := ApplyMigrations(context.Background(), db, DriverSQLite); err != nil {
		t.Fatalf("re-applying migrations must be a no-op: %v", err)
	}
	exerciseSQLBackend(t, db, DriverSQLite)
}

func TestSQLiteBackendEmpty(t *testing.T) {
	db := openSQL(t, DriverSQLite, filepath.Join(t.TempDir(), "empty.db"))
	s := NewDocumentStore(context.Background(), NewSQLBackend(db, DriverSQLite), quietLogger())
	doc, _ := s.Current()
	if got := encode(t, doc); got != `{}` {
		t.Errorf("expected empty document, got %s", got)
	}
}

func TestPostgresBackend(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db := openSQL(t, DriverPostgres, dsn)
	if _, err := db.Exec(`DELETE FROM documents`); err != nil {
		t.Fatal(err)
	}
	exerciseSQLBackend(t, db, DriverPostgres)
}

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}
	byVersion := map[string]map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		var version, direction string
		switch {
		case filepath.Ext(name) != ".sql":
			continue
		case len(name) > 7 && name[len(name)-7:] == ".up.sql":
			version, direction = name[:len(name)-7], "up"
		case len(name) > 9 && name[len(name)-9:] == ".down.sql":
			version, direction = name[:len(name)-9], "down"
		default:
			t.Fatalf("migration %s is neither up nor down", name)
		}
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		byVersion[version][direction] = true
	}
	if len(byVersion) == 0 {
		t.Fatal("no migrations discovered")
	}
	for version, dirs := range byVersion {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}
}
