// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Shivanand-hulikatti/activity-enrollment/internal/auth"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/config"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/database"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/handler"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/logging"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/metrics"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/reconcile"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/repository"
	"github.com/Shivanand-hulikatti/activity-enrollment/internal/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 1. Open the store ─────────────────────────────────────────────────
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// ── 2. Wire up layers ────────────────────────────────────────────────
	rec, err := metrics.NewRecorder()
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}
	tokens := auth.NewTokens(cfg.Auth, nil)
	deps := service.Deps{Store: store, Logger: logger, Metrics: rec}
	users := service.NewUserService(deps, tokens)
	activities := service.NewActivityService(deps)
	enrollment := service.NewEnrollmentService(deps)

	if a := cfg.Auth; a.AdminUsername != "" && a.AdminEmail != "" && a.AdminPassword != "" {
		admin, err := users.EnsureAdmin(ctx, a.AdminUsername, a.AdminEmail, a.AdminPassword)
		if err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		logger.Info("admin account ready", "username", admin.Username)
	}

	if cfg.Reconcile.Enabled {
		trigger, err := reconcile.NewTrigger(cfg.Reconcile.Schedule, reconcile.New(store, logger, rec), logger)
		if err != nil {
			return err
		}
		trigger.Start(ctx)
		logger.Info("counter audit scheduled", "schedule", cfg.Reconcile.Schedule, "next_run", trigger.NextRun())
	}

	// ── 3. Build the router ───────────────────────────────────────────────
	router := handler.NewRouter(handler.RouterConfig{
		Logger:        logger,
		AllowedOrigin: cfg.HTTP.AllowedOrigin,
		Store:         store,
		Verifier:      tokens,
		Metrics:       rec.Handler(),
		Users:         users,
		Activities:    activities,
		Enrollment:    enrollment,
	})

	// ── 4. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.Store, func(), error) {
	retry := repository.RetryOptions{MaxRetries: cfg.Store.MaxRetries, Delay: cfg.Store.RetryDelay}

	switch cfg.Store.Driver {
	case config.DriverPostgres:
		pool, err := database.NewPool(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("database: %w", err)
		}
		if err := database.MigratePostgres(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("connected to postgres")
		return repository.NewPostgresStore(pool, retry), pool.Close, nil

	case config.DriverSQLite:
		db, err := database.OpenSQLite(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("database: %w", err)
		}
		logger.Info("opened sqlite database", "path", cfg.Store.SQLitePath)
		store := repository.NewSQLiteStore(db, retry)
		return store, func() { _ = store.Close() }, nil

	default:
		logger.Warn("using in-memory store; data is lost on exit")
		return repository.NewMemoryStore(), func() {}, nil
	}
}
