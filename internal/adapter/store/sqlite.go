package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS repos (
	seq               INTEGER PRIMARY KEY AUTOINCREMENT,
	remote_url        TEXT NOT NULL UNIQUE,
	last_time_visited DATETIME NOT NULL,
	remote_heads_hash TEXT
);

CREATE TABLE IF NOT EXISTS sorries (
	seq              INTEGER PRIMARY KEY AUTOINCREMENT,
	id               TEXT NOT NULL UNIQUE,
	remote           TEXT NOT NULL,
	branch           TEXT NOT NULL,
	commit_sha       TEXT NOT NULL,
	lean_version     TEXT NOT NULL,
	file             TEXT NOT NULL,
	start_line       INTEGER NOT NULL,
	start_column     INTEGER NOT NULL,
	end_line         INTEGER NOT NULL,
	end_column       INTEGER NOT NULL,
	goal             TEXT NOT NULL,
	url              TEXT NOT NULL,
	blame_email_hash TEXT NOT NULL,
	blame_date       DATETIME NOT NULL,
	inclusion_date   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sorries_remote ON sorries (remote);
`

// SQLiteStore persists the database in a single SQLite file.
type SQLiteStore struct {
	sqlStore
}

// NewSQLiteStore opens (or creates) the database at path. Use ":memory:" for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: an in-memory database is per-connection, and SQLite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{sqlStore{db: db}}, nil
}
