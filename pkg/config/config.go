package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Server
	Port     string
	AppName  string
	APIToken string // bearer token for POST routes; empty disables the check

	// Store
	StoreBackend  string // json, sqlite, badger or postgres
	DatabaseFile  string
	DatabaseURL   string
	SQLitePath    string
	BadgerPath    string
	WatchDatabase bool

	// Lean
	LeanData           string // checkouts and REPL builds; empty = temp dir per run
	REPLRepoURL        string
	REPLCommandTimeout time.Duration
	REPLGracePeriod    time.Duration
	BuildTimeout       time.Duration
	CheckTimeout       time.Duration

	// Crawl
	UpdateWorkers int
	ReportFile    string

	// Logging
	LogLevel  string
	LogFormat string // text or json
	LogFile   string

	// MCP
	MCPEnabled bool
	MCPPort    string

	// Metrics
	MetricsEnabled bool
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envOrDefault("PORT", "3001"),
		AppName: envOrDefault("APP_NAME", "SorryDB"),

		APIToken: os.Getenv("API_TOKEN"),

		StoreBackend:  envOrDefault("STORE_BACKEND", "json"),
		DatabaseFile:  envOrDefault("DATABASE_FILE", "sorry_database.json"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		SQLitePath:    envOrDefault("SQLITE_PATH", "sorrydb.sqlite"),
		BadgerPath:    envOrDefault("BADGER_PATH", "sorrydb.badger"),
		WatchDatabase: envOrDefaultBool("WATCH_DATABASE", false),

		LeanData:           os.Getenv("LEAN_DATA"),
		REPLRepoURL:        envOrDefault("REPL_REPO_URL", "https://github.com/leanprover-community/repl"),
		REPLCommandTimeout: envOrDefaultDuration("REPL_COMMAND_TIMEOUT", 10*time.Minute),
		REPLGracePeriod:    envOrDefaultDuration("REPL_GRACE_PERIOD", 5*time.Second),
		BuildTimeout:       envOrDefaultDuration("BUILD_TIMEOUT", time.Hour),
		CheckTimeout:       envOrDefaultDuration("CHECK_TIMEOUT", 15*time.Minute),

		UpdateWorkers: envOrDefaultInt("UPDATE_WORKERS", 1),
		ReportFile:    os.Getenv("REPORT_FILE"),

		LogLevel:  envOrDefault("LOG_LEVEL", "info"),
		LogFormat: envOrDefault("LOG_FORMAT", "text"),
		LogFile:   os.Getenv("LOG_FILE"),

		MCPEnabled: envOrDefaultBool("MCP_ENABLED", false),
		MCPPort:    envOrDefault("MCP_PORT", "3002"),

		MetricsEnabled: envOrDefaultBool("METRICS_ENABLED", true),
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

// envOrDefaultDuration accepts Go durations ("90s") or plain seconds ("90").
func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
