// Package cli implements the sorrydb command line.
package cli

import (
	"context"
	"io"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/arturoeanton/go-sorrydb/internal/app"
	"github.com/arturoeanton/go-sorrydb/pkg/config"
)

// Version is set at build time.
var Version = "dev"

// rootState is shared by all subcommands.
type rootState struct {
	cfg       *config.Config
	logCloser io.Closer
}

// RootCmd builds the command tree.
func RootCmd() *cobra.Command {
	_ = godotenv.Load()
	st := &rootState{cfg: config.Load()}

	root := &cobra.Command{
		Use:     "sorrydb",
		Short:   "SorryDB - track unproven sorries across Lean repositories",
		Version: Version,
		Long: `sorrydb crawls Lean repositories for sorries, stores them in a database,
and verifies candidate proofs against the original checkout.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			closer, err := app.SetupLogging(st.cfg.LogLevel, st.cfg.LogFormat, st.cfg.LogFile)
			if err != nil {
				return err
			}
			st.logCloser = closer
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if st.logCloser != nil {
				_ = st.logCloser.Close()
			}
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&st.cfg.LogLevel, "log-level", st.cfg.LogLevel, "log level (debug, info, warn, error)")
	f.StringVar(&st.cfg.LogFormat, "log-format", st.cfg.LogFormat, "log format (text, json)")
	f.StringVar(&st.cfg.LogFile, "log-file", st.cfg.LogFile, "write logs to this file instead of stderr")
	f.StringVar(&st.cfg.StoreBackend, "store", st.cfg.StoreBackend, "store backend (json, sqlite, badger, postgres)")
	f.StringVar(&st.cfg.DatabaseFile, "database-file", st.cfg.DatabaseFile, "JSON database file")
	f.StringVar(&st.cfg.SQLitePath, "sqlite-path", st.cfg.SQLitePath, "SQLite database file")
	f.StringVar(&st.cfg.BadgerPath, "badger-path", st.cfg.BadgerPath, "BadgerDB directory")
	f.StringVar(&st.cfg.DatabaseURL, "database-url", st.cfg.DatabaseURL, "Postgres connection URL")
	f.StringVar(&st.cfg.LeanData, "lean-data", st.cfg.LeanData, "directory for checkouts and REPL builds (default: temporary)")

	root.AddCommand(initCmd(st))
	root.AddCommand(updateCmd(st))
	root.AddCommand(deduplicateCmd(st))
	root.AddCommand(verifyCmd(st))
	root.AddCommand(proveCmd(st))
	root.AddCommand(strategiesCmd(st))
	return root
}

// open wires the application for one command.
func (st *rootState) open(create bool) (*app.App, error) {
	return app.New(st.cfg, create)
}

// Execute runs the CLI.
func Execute(ctx context.Context) error {
	return RootCmd().ExecuteContext(ctx)
}
