/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the training studio engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, optional YAML) and parse flags
  2. Build the zap logger
  3. Open the store (SQLite or PostgreSQL) and run migrations
  4. Create the engine and, when enabled, the cron scheduler
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides HTTP_PORT)
  -db      database DSN (overrides DB_DSN)
           Use ":memory:" with the sqlite driver for a throwaway database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler and wait for a running job to finish
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  ./server -db="./data/atlantis.db"
  DB_DRIVER=postgres DB_DSN="postgres://atlantis@localhost/atlantis" ./server
  CONFIG_FILE=./atlantis.yaml ./server -port=3000

SEE ALSO:
  - config/config.go: configuration keys
  - api/server.go: Router configuration
  - engine/scheduler.go: cron jobs
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/aryzhykau/atlantis-engine/api"
	"github.com/aryzhykau/atlantis-engine/config"
	"github.com/aryzhykau/atlantis-engine/engine"
	"github.com/aryzhykau/atlantis-engine/store/sqlstore"
	"github.com/aryzhykau/atlantis-engine/studio"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Flags
	port := flag.Int("port", cfg.HTTPPort, "HTTP server port")
	dsn := flag.String("db", cfg.DBDSN, "database DSN (SQLite path or PostgreSQL URL)")
	flag.Parse()
	cfg.HTTPPort = *port
	cfg.DBDSN = *dsn

	logger, err := config.NewLogger(cfg.Env)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	settings, err := cfg.Settings(studio.SystemClock)
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	eng := engine.New(store, engine.Options{Settings: settings, Logger: logger.Named("engine")})

	var scheduler *engine.Scheduler
	if cfg.SchedulerEnabled {
		scheduler, err = engine.NewScheduler(eng, engine.Schedules{
			DailyBatch: cfg.BatchCron,
			Salaries:   cfg.SalaryCron,
			Generation: cfg.GenerateCron,
		}, logger.Named("scheduler"))
		if err != nil {
			return err
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	handler := api.NewHandler(eng, scheduler, logger.Named("http"))
	router := api.NewRouter(handler, api.RouterOptions{})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.HTTPPort),
			zap.String("db_driver", cfg.DBDriver),
			zap.String("timezone", cfg.Timezone),
			zap.Bool("scheduler", cfg.SchedulerEnabled))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("shutting down server")
	if scheduler != nil {
		scheduler.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*sqlstore.Store, error) {
	log := logger.Named("store")
	switch cfg.DBDriver {
	case "postgres":
		return sqlstore.NewPostgres(ctx, cfg.DBDSN, log)
	default:
		return sqlstore.NewSQLite(ctx, cfg.DBDSN, log)
	}
}
