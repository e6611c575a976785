package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/arturoeanton/go-sorrydb/internal/port"
)

// Backend names accepted by Open.
const (
	BackendJSON     = "json"
	BackendSQLite   = "sqlite"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
)

// Options selects and configures a backend.
type Options struct {
	Backend     string
	JSONPath    string
	SQLitePath  string
	BadgerPath  string
	DatabaseURL string

	// Create allows the JSON backend to start from an empty database when
	// the file does not exist yet.
	Create bool
}

// Open returns the configured store.
func Open(opts Options) (port.SorryStore, error) {
	switch opts.Backend {
	case "", BackendJSON:
		if opts.JSONPath == "" {
			return nil, errors.New("json backend requires a database file")
		}
		if _, err := os.Stat(opts.JSONPath); errors.Is(err, os.ErrNotExist) && opts.Create {
			slog.Info("creating new database", "path", opts.JSONPath)
			return NewJSONStore(opts.JSONPath), nil
		}
		return OpenJSONStore(opts.JSONPath)
	case BackendSQLite:
		return NewSQLiteStore(opts.SQLitePath)
	case BackendBadger:
		return NewBadgerStore(BadgerConfig{Path: opts.BadgerPath, SyncWrites: true})
	case BackendPostgres:
		if opts.DatabaseURL == "" {
			return nil, errors.New("postgres backend requires DATABASE_URL")
		}
		return NewPostgresStore(opts.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
