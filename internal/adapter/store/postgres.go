package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS repos (
	seq               BIGSERIAL PRIMARY KEY,
	remote_url        TEXT NOT NULL UNIQUE,
	last_time_visited TIMESTAMPTZ NOT NULL,
	remote_heads_hash TEXT
);

CREATE TABLE IF NOT EXISTS sorries (
	seq              BIGSERIAL PRIMARY KEY,
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
	blame_date       TIMESTAMPTZ NOT NULL,
	inclusion_date   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sorries_remote ON sorries (remote);
CREATE INDEX IF NOT EXISTS idx_sorries_goal_hash ON sorries (md5(goal));
`

// PostgresStore persists the database in PostgreSQL.
type PostgresStore struct {
	sqlStore
}

// NewPostgresStore opens a connection, applies the schema and returns a store instance.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &PostgresStore{sqlStore{db: db, numbered: true}}, nil
}
