// Package main provides the CLI entry point for the dbpilot database agent.
//
// dbpilot connects an LLM provider (Anthropic, OpenAI) to a live relational
// database and answers questions about it through a bounded reasoning loop
// with schema inspection, SQL execution, and search tools.
//
// Start the server:
//
//	dbpilot serve --config dbpilot.yaml
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/dbpilot/internal/config"
	"github.com/haasonsaas/dbpilot/internal/controller"
	"github.com/haasonsaas/dbpilot/internal/database"
	"github.com/haasonsaas/dbpilot/internal/gateway"
	"github.com/haasonsaas/dbpilot/internal/history"
	"github.com/haasonsaas/dbpilot/internal/observability"
	"github.com/haasonsaas/dbpilot/internal/orchestrator"
	"github.com/haasonsaas/dbpilot/internal/providers"
	"github.com/haasonsaas/dbpilot/internal/tools"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "dbpilot",
		Short:        "dbpilot - autonomous database agent",
		Long:         "dbpilot answers questions about a live relational database by letting an LLM inspect the schema, run SQL, and search metadata through a bounded reasoning loop.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(buildServeCmd(), buildVersionCmd())
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dbpilot %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dbpilot gateway server",
		Long: `Start the websocket gateway, connect to the target database,
and serve agent sessions until interrupted.

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "dbpilot.yaml", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg.LogLevel, debug)
	slog.SetDefault(logger)
	logger.Info("starting dbpilot", "version", version, "config", configPath)

	metrics := observability.NewMetrics()

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	defer store.Close()

	provider, err := providers.New(cfg.Provider.Name, cfg.Provider.APIKey, cfg.Provider.Model, metrics)
	if err != nil {
		return err
	}

	registry := tools.NewDefaultRegistry()
	orch := orchestrator.New(provider, registry, logger)
	ctrl := controller.New(store, orch, logger, metrics)

	if cfg.Target.DSN != "" {
		dbCfg := database.DefaultConfig()
		dbCfg.DSN = cfg.Target.DSN
		conn, err := database.Open(dbCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to target database: %w", err)
		}
		defer conn.Close()
		ctrl.SetConnection(conn)
		logger.Info("target database connected")
	} else {
		logger.Warn("no target database configured; chat requests will be rejected until one is set")
	}

	server := gateway.New(cfg.Listen, ctrl, store, logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newLogger(level string, debug bool) *slog.Logger {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	if debug {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func openStore(cfg *config.Config) (history.Store, error) {
	switch cfg.History.Backend {
	case "postgres":
		pgCfg := history.DefaultPostgresConfig()
		pgCfg.DSN = cfg.History.DSN
		return history.NewPostgresStore(pgCfg)
	case "sqlite":
		return history.NewSQLiteStore(cfg.History.Path)
	case "memory":
		return history.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.History.Backend)
	}
}
