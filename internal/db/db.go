// Package db opens the library database and keeps its schema current.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// The scanner and the daemon's command handlers write concurrently, so the
// library runs in WAL mode with a generous busy timeout instead of failing
// fast on lock contention. NORMAL synchronous is safe under WAL and keeps
// full rescans from fsync-ing on every track.
const pragmas = `
	PRAGMA journal_mode=WAL;
	PRAGMA synchronous=NORMAL;
	PRAGMA foreign_keys=ON;
	PRAGMA busy_timeout=5000;
`

// Bootstrap opens the library database at dbPath, creating the file and any
// missing parent directories, and applies pending migrations.
func Bootstrap(dbPath string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create library directory: %w", err)
	}

	database, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open library database: %w", err)
	}

	for _, pragma := range strings.Split(strings.TrimSpace(pragmas), "\n") {
		if _, err := database.Exec(pragma); err != nil {
			database.Close()
			return nil, fmt.Errorf("apply %q: %w", strings.TrimSpace(pragma), err)
		}
	}

	if err := migrate(database); err != nil {
		database.Close()
		return nil, err
	}

	return database, nil
}
