// Package app wires adapters and services from configuration. Both the CLI
// and the HTTP server build on it.
package app

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/arturoeanton/go-sorrydb/internal/adapter/lean"
	"github.com/arturoeanton/go-sorrydb/internal/adapter/repl"
	"github.com/arturoeanton/go-sorrydb/internal/adapter/store"
	"github.com/arturoeanton/go-sorrydb/internal/adapter/strategy"
	"github.com/arturoeanton/go-sorrydb/internal/adapter/vcs"
	"github.com/arturoeanton/go-sorrydb/internal/port"
	"github.com/arturoeanton/go-sorrydb/internal/service"
	"github.com/arturoeanton/go-sorrydb/pkg/config"
)

// App holds the wired components.
type App struct {
	Config   *config.Config
	Store    port.SorryStore
	VCS      *vcs.GitProvider
	Builder  *lean.LakeBuilder
	Sessions *repl.Factory
	Engine   *port.StrategyEngine
	Locks    *service.CheckoutLocks

	Database *service.DatabaseService
	Verifier *service.Verifier
	Dedup    *service.DedupService
}

// New opens the configured store and wires every service. createStore lets
// the JSON backend start from an empty database.
func New(cfg *config.Config, createStore bool) (*App, error) {
	s, err := store.Open(store.Options{
		Backend:     cfg.StoreBackend,
		JSONPath:    cfg.DatabaseFile,
		SQLitePath:  cfg.SQLitePath,
		BadgerPath:  cfg.BadgerPath,
		DatabaseURL: cfg.DatabaseURL,
		Create:      createStore,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	gitVCS := vcs.NewGitProvider()
	builder := lean.NewLakeBuilder(cfg.BuildTimeout, cfg.CheckTimeout)
	sessions := repl.NewFactory(repl.FactoryConfig{
		DataDir:        replDataDir(cfg.LeanData),
		RepoURL:        cfg.REPLRepoURL,
		CommandTimeout: cfg.REPLCommandTimeout,
		GracePeriod:    cfg.REPLGracePeriod,
		BuildTimeout:   cfg.BuildTimeout,
	})

	// ── Proof strategies ────────────────────────────────────────────────
	engine := port.NewStrategyEngine(
		strategy.NewFixedStrategy("rfl"),
		strategy.NewFixedStrategy("simp"),
		strategy.NewFixedStrategy("norm_num"),
		strategy.NewTacticStrategy(sessions, nil),
	)

	locks := service.NewCheckoutLocks()
	return &App{
		Config:   cfg,
		Store:    s,
		VCS:      gitVCS,
		Builder:  builder,
		Sessions: sessions,
		Engine:   engine,
		Locks:    locks,
		Database: service.NewDatabaseService(s, gitVCS, builder, sessions).WithCheckoutLocks(locks),
		Verifier: service.NewVerifier(builder, sessions),
		Dedup:    service.NewDedupService(s),
	}, nil
}

// ProofRunner builds a runner that checks out under dataDir.
func (a *App) ProofRunner(dataDir string) *service.ProofRunner {
	return service.NewProofRunner(a.Engine, a.Verifier, a.VCS, a.Builder, dataDir).WithCheckoutLocks(a.Locks)
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}

// replDataDir keeps REPL builds across runs when LEAN_DATA is set.
func replDataDir(leanData string) string {
	if leanData != "" {
		return leanData
	}
	dir := filepath.Join(os.TempDir(), "sorrydb-repl")
	slog.Debug("LEAN_DATA not set, building REPL under temp dir", "dir", dir)
	return dir
}
