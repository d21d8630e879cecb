package sqlite_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/academia-ai/tutor/internal/infra/sqlite"
)

func TestNewDB_Pragmas(t *testing.T) {
	t.Parallel()

	db := mustOpenDB(t)

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q; want wal", mode)
	}

	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("PRAGMA foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d; want 1", fk)
	}

	var timeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("PRAGMA busy_timeout: %v", err)
	}
	if timeout <= 0 {
		t.Errorf("busy_timeout = %d; want > 0", timeout)
	}
}

func TestNewDB_MissingParentDirectory(t *testing.T) {
	t.Parallel()

	_, err := sqlite.NewDB(filepath.Join(t.TempDir(), "nope", "db.sqlite"))
	if err == nil {
		t.Fatal("expected error for missing parent directory")
	}
}

func TestNewDB_MemorySingleConnection(t *testing.T) {
	t.Parallel()

	db, err := sqlite.NewDB(":memory:")
	if err != nil {
		t.Fatalf("NewDB(:memory:): %v", err)
	}
	defer db.Close()

	if got := db.Stats().MaxOpenConnections; got != 1 {
		t.Errorf("MaxOpenConnections = %d; want 1 for in-memory databases", got)
	}
}

func TestOpen_CreatesDirectoryAndMigrates(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data", "tutor.db")
	db, err := sqlite.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	v, err := sqlite.MigrationVersion(db)
	if err != nil {
		t.Fatal(err)
	}
	if v < 2 {
		t.Errorf("expected migrations applied, version = %d", v)
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	t.Parallel()

	db := mustOpenMigratedDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := sqlite.WithTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tutor_session (id, provider, model, created_at, updated_at) VALUES ('s1','ollama','phi3','t','t')`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM tutor_session").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected rollback, found %d rows", n)
	}
}

func TestWithTx_Commits(t *testing.T) {
	t.Parallel()

	db := mustOpenMigratedDB(t)
	ctx := context.Background()

	err := sqlite.WithTx(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tutor_session (id, provider, model, created_at, updated_at) VALUES ('s1','ollama','phi3','t','t')`)
		return err
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM tutor_session").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 committed row, got %d", n)
	}
}

// --- helpers ---

// mustOpenDB opens a temp-file SQLite DB (WAL needs a real file) and registers cleanup.
func mustOpenDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sqlite.NewDB(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("sqlite.NewDB error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustOpenMigratedDB(t *testing.T) *sql.DB {
	t.Helper()
	db := mustOpenDB(t)
	if err := sqlite.MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}
	return db
}
