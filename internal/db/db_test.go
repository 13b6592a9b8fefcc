package db

import (
	"path/filepath"
	"testing"
)

func TestBootstrapIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "library.db")

	first, err := Bootstrap(path)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	var applied int
	if err := first.QueryRow("SELECT COUNT(1) FROM schema_migrations").Scan(&applied); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if applied == 0 {
		t.Fatalf("expected migrations to be recorded")
	}
	first.Close()

	second, err := Bootstrap(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()

	var again int
	if err := second.QueryRow("SELECT COUNT(1) FROM schema_migrations").Scan(&again); err != nil {
		t.Fatalf("count migrations after reopen: %v", err)
	}
	if again != applied {
		t.Fatalf("expected no migrations to rerun, %d became %d", applied, again)
	}

	if _, err := second.Exec("SELECT id FROM tracks LIMIT 1"); err != nil {
		t.Fatalf("expected the library schema to be present: %v", err)
	}
}
