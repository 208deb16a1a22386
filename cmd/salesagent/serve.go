package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/admesh/salesagent/internal/adapters"
	"github.com/admesh/salesagent/internal/auditlog"
	"github.com/admesh/salesagent/internal/auth"
	"github.com/admesh/salesagent/internal/config"
	"github.com/admesh/salesagent/internal/dispatcher"
	"github.com/admesh/salesagent/internal/httpapi"
	"github.com/admesh/salesagent/internal/notification"
	"github.com/admesh/salesagent/internal/observability"
	"github.com/admesh/salesagent/internal/orchestrator"
	"github.com/admesh/salesagent/internal/storage"
	pgstore "github.com/admesh/salesagent/internal/storage/postgres"
	sqlitestore "github.com/admesh/salesagent/internal/storage/sqlite"
	"github.com/admesh/salesagent/internal/workflow"
)

var (
	serveConfigPath string
	serveListenAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP dispatcher and admin API",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `salesagent --config path` and `salesagent serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", "", "path to config file (JSON or YAML)")
		cmd.Flags().StringVar(&serveListenAddr, "listen", "", "override MCP listen address (e.g. :8080)")
	}
}

// runServe wires storage, orchestration, and both HTTP surfaces, then blocks
// until a signal or a server failure.
func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveListenAddr != "" {
		cfg.Dispatcher.ListenAddr = serveListenAddr
	}

	logger.Info("starting sales agent",
		slog.String("storage", cfg.StorageDriverName()),
		slog.Bool("dry_run", cfg.Orchestrator.DryRun),
	)

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return fmt.Errorf("initializing observability: %w", err)
	}
	if obs != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}()
	}

	// Storage (SQLite default, PostgreSQL optional).
	st, err := initStore(cfg, obs, logger)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	}()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	auditWriter := auditlog.NewWriter(st.Audit(), logger)

	// Notification fan-out for task and lifecycle events.
	notifier := notification.NewDispatcher(st.Endpoints(), logger)
	notifier.RegisterSender(notification.NewWebhookSender(logger))
	notifier.RegisterSender(notification.NewSlackSender(logger))
	defer notifier.Flush()

	wf := workflow.NewEngine(st.Creatives(), st.Assignments(), st.Tasks(), auditWriter, notifier, logger)

	registry := adapters.NewRegistry()
	var orchMetrics *orchestrator.Metrics
	if obs != nil && obs.Metrics != nil {
		registry.Decorate(func(a adapters.Adapter) adapters.Adapter {
			return observability.NewInstrumentedAdapter(a, obs.Metrics, obs.TracerOrNil())
		})
		orchMetrics = orchestrator.NewMetrics(obs.Metrics.Registry)
		wf.SetMetrics(workflow.NewMetrics(obs.Metrics.Registry))
		notifier.SetMetrics(notification.NewMetrics(obs.Metrics.Registry))
	}
	logger.Debug("adapters registered", slog.Any("adapters", registry.Names()))

	orch := orchestrator.New(st.MediaBuys(), st.Products(), st.Signals(), st.Tenants(), registry, wf, auditWriter, orchestrator.Options{
		Retry: orchestrator.RetryPolicy{
			Attempts: cfg.Orchestrator.Retries(),
			Base:     cfg.Orchestrator.RetryBase(),
		},
		DryRun:   cfg.Orchestrator.DryRun,
		Notifier: notifier,
		LockWait: cfg.Orchestrator.LockWait(),
		Logger:   logger,
		Metrics:  orchMetrics,
	})
	orch.SetPrincipalLookup(st.Principals())

	resolver := auth.NewResolver(st.Tenants(), st.Principals(), logger)

	disp := dispatcher.New(resolver, orch, wf, auditWriter, dispatcher.Options{
		Version: version,
		Metrics: obs.MetricsOrNil(),
		Logger:  logger,
	})
	mcpHTTP := disp.StreamableHTTP(cfg.Dispatcher.MCPPath())

	// Background reconciliation against the ad platforms.
	if cfg.Reconcile.Enabled {
		rec := orchestrator.NewReconciler(orch, cfg.Reconcile.Tick(), logger)
		if obs != nil && obs.Health != nil {
			obs.Health.AddCheck("reconciler", rec.Healthy)
		}
		go rec.Run(ctx)
	}

	errCh := make(chan error, 2)

	go func() {
		logger.Info("mcp dispatcher listening",
			slog.String("addr", cfg.Dispatcher.Addr()),
			slog.String("path", cfg.Dispatcher.MCPPath()),
		)
		if err := mcpHTTP.Start(cfg.Dispatcher.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("mcp dispatcher: %w", err)
		}
	}()

	var admin *httpapi.Gateway
	if cfg.Admin.Enabled {
		adminCfg := httpapi.Config{
			ListenAddr: cfg.Admin.Addr(),
			EnableDocs: cfg.Admin.EnableDocs,
			APIKeys:    adminAPIKeys(),
		}
		if obs != nil {
			adminCfg.HealthChecker = obs.Health
			if obs.Metrics != nil {
				adminCfg.MetricsRegistry = obs.Metrics.Registry
				adminCfg.MetricsPath = cfg.Observability.Metrics.MetricsPath()
			}
		}
		admin = httpapi.NewGateway(adminCfg, st.Tenants(), wf, auditWriter, logger).
			WithNotificationEndpoints(st.Endpoints()).
			WithMediaBuys(st.MediaBuys()).
			WithBuyCancel(orch)
		go func() {
			errCh <- admin.Start(ctx)
		}()
		logger.Info("admin api enabled", slog.String("addr", cfg.Admin.Addr()))
	}

	// Wait for signal or first server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if admin != nil {
		if err := admin.Stop(shutdownCtx); err != nil {
			logger.Error("stopping admin api", slog.String("error", err.Error()))
		}
	}
	if err := mcpHTTP.Shutdown(shutdownCtx); err != nil {
		logger.Error("stopping mcp dispatcher", slog.String("error", err.Error()))
	}

	return nil
}

// loadConfig reads the config file when one is given, otherwise falls back to
// the zero-config defaults (SQLite, :8080, admin on :8081).
func loadConfig() (*config.Config, error) {
	path := goutils.Env("SALESAGENT_CONFIG", serveConfigPath)
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// initStore creates the appropriate storage backend from config.
func initStore(cfg *config.Config, obs *observability.Observability, logger *slog.Logger) (storage.Store, error) {
	switch driver := cfg.StorageDriverName(); driver {
	case storage.DriverPostgres:
		pgCfg := pgstore.Config{DSN: cfg.Storage.Postgres.DSN}
		pgCfg.MaxOpenConns = cfg.Storage.Postgres.MaxOpenConns
		pgCfg.MaxIdleConns = cfg.Storage.Postgres.MaxIdleConns
		pgCfg.ConnMaxLifetime = time.Duration(cfg.Storage.Postgres.ConnMaxLifetimeS) * time.Second

		db, err := pgstore.Open(pgCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		if obs != nil && obs.Health != nil {
			obs.Health.AddCheck("database", db.Ping)
		}
		return pgstore.NewStore(db), nil
	case storage.DriverSQLite:
		dbPath := cfg.DatabasePath()
		if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return sqlitestore.Open(dbPath, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}

// adminAPIKeys parses SALESAGENT_API_KEYS ("key:operator,key:operator") into
// the key-to-operator mapping the admin gateway authenticates with.
func adminAPIKeys() map[string]string {
	keys := make(map[string]string)
	for _, entry := range strings.Split(os.Getenv("SALESAGENT_API_KEYS"), ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 2)
		if len(parts) == 2 {
			keys[parts[0]] = parts[1]
		}
	}
	return keys
}
