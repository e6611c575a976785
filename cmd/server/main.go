package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/arturoeanton/go-sorrydb/internal/adapter/store"
	sorrydb "github.com/arturoeanton/go-sorrydb/internal/app"
	"github.com/arturoeanton/go-sorrydb/internal/handler"
	"github.com/arturoeanton/go-sorrydb/internal/mcp"
	"github.com/arturoeanton/go-sorrydb/internal/metrics"
	"github.com/arturoeanton/go-sorrydb/internal/middleware"
	"github.com/arturoeanton/go-sorrydb/internal/service"
	"github.com/arturoeanton/go-sorrydb/pkg/config"
)

func main() {
	// ── Load .env file ───────────────────────────────────────────────────
	_ = godotenv.Load() // silently ignore if .env doesn't exist

	// ── Configuration ────────────────────────────────────────────────────
	cfg := config.Load()

	logCloser, err := sorrydb.SetupLogging(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		slog.Error("invalid logging configuration", "error", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	slog.Info("🚀 Starting SorryDB",
		"port", cfg.Port,
		"store", cfg.StoreBackend,
		"lean_data", cfg.LeanData,
		"mcp_enabled", cfg.MCPEnabled,
		"watch_database", cfg.WatchDatabase,
		"api_token_set", cfg.APIToken != "",
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Database & services ──────────────────────────────────────────────
	core, err := sorrydb.New(cfg, false)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer core.Close()

	dataDir := cfg.LeanData
	if dataDir == "" {
		if dataDir, err = os.MkdirTemp("", "sorrydb-server-*"); err != nil {
			slog.Error("failed to create data dir", "error", err)
			os.Exit(1)
		}
		defer os.RemoveAll(dataDir)
	}
	runner := core.ProofRunner(dataDir)

	// Another process owns the file: reload on change and do not crawl here.
	var updater handler.Updater = core.Database
	watching := false
	if js, ok := core.Store.(*store.JSONStore); ok && cfg.WatchDatabase {
		w, err := store.NewWatcher(js, store.DefaultDebounce, func(err error) {
			if err != nil {
				slog.Error("database reload failed", "path", js.Path(), "error", err)
				return
			}
			slog.Info("🔄 database reloaded", "path", js.Path())
		})
		if err != nil {
			slog.Error("failed to watch database", "error", err)
			os.Exit(1)
		}
		go w.Run(ctx)
		updater = nil
		watching = true
	}

	// ── Fiber App ────────────────────────────────────────────────────────
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
	}))
	app.Use(middleware.AuditMiddleware())

	// Health check
	app.Get("/api/v1/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"app":     cfg.AppName,
			"version": "1.0.0",
			"store":   cfg.StoreBackend,
		})
	})

	if cfg.MetricsEnabled {
		app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	}

	// ── Routes ───────────────────────────────────────────────────────────
	api := app.Group("/api/v1")

	jobTracker := handler.NewJobTracker(ctx)

	sorryHandler := handler.NewSorryHandler(core.Store, core.Dedup)
	sorryHandler.Register(api)

	actionsHandler := handler.NewActionsHandler(core.Store, jobTracker, runner, updater, service.UpdateOptions{
		DataDir: dataDir,
		Workers: cfg.UpdateWorkers,
	})
	actionsHandler.Guard(middleware.TokenAuth(cfg.APIToken)).Register(api)

	jobsHandler := handler.NewJobsHandler(jobTracker)
	jobsHandler.Register(api)

	// ── MCP Server (separate port) ───────────────────────────────────────
	if cfg.MCPEnabled {
		mcpServer := mcp.NewServer(core.Store, core.Dedup, runner, cfg.MCPPort)
		go func() {
			if err := mcpServer.Start(ctx); err != nil {
				slog.Error("MCP server failed", "error", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		slog.Info("🛑 shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			slog.Error("shutdown failed", "error", err)
		}
	}()

	// ── Start ────────────────────────────────────────────────────────────
	slog.Info("🌐 Fiber listening", "port", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	jobTracker.Wait()
	if watching {
		return
	}
	if err := core.Store.Flush(context.Background()); err != nil {
		slog.Error("final flush failed", "error", err)
	}
}
