// campaignd runs the campaign job coordination daemon: an HTTP API, a
// worker pool, and the circuit breakers that gate every third-party call.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/relayloop/campaignd/breaker"
	"github.com/relayloop/campaignd/campaign"
	"github.com/relayloop/campaignd/config"
	"github.com/relayloop/campaignd/db"
	"github.com/relayloop/campaignd/job"
	"github.com/relayloop/campaignd/logger"
	"github.com/relayloop/campaignd/providers"
	"github.com/relayloop/campaignd/queue"
	"github.com/relayloop/campaignd/server"
)

var (
	configPath string
	jsonLogs   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "campaignd",
		Short: "Campaign job coordination daemon",
		Long: `campaignd coordinates background jobs for lead-outreach campaigns.
Every third-party call flows through a per-service circuit breaker; when a
breaker opens, the affected jobs are paused and held until an operator
closes the breaker again.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (TOML)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit logs as JSON")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Initialize(jsonLogs); err != nil {
				return err
			}
			defer logger.Cleanup()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			conn, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer conn.Close()
			return db.Migrate(conn, logger.Logger)
		},
	}
}

func runServe() error {
	if err := logger.Initialize(jsonLogs); err != nil {
		return err
	}
	defer logger.Cleanup()
	log := logger.Logger

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	conn, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := db.Migrate(conn, log); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	health := breaker.NewHealthStore(conn, cfg.Breaker.ServiceThresholds(), cfg.Breaker.DefaultFailureThreshold)
	br := breaker.New(health, log)
	jobs := job.NewStore(conn)
	campaigns := campaign.NewStore(conn)

	bus := queue.NewBus()
	dispatcher := queue.NewNotifyDispatcher(bus, log)
	coordinator := queue.NewCoordinator(jobs, dispatcher, bus, log)
	br.SetPauseSweeper(coordinator)

	registry := queue.NewRegistry()
	providers.Register(registry, br, jobs, providers.Config{
		URLs:              cfg.Providers.URLs(),
		RequestsPerSecond: cfg.Providers.RequestsPerSecond,
		Timeout:           cfg.Providers.Timeout(),
		Retention:         cfg.Providers.Retention(),
	}, log)
	log.Infow("Job handlers registered", "types", registry.Types())

	pool := queue.NewPool(ctx, queue.PoolConfig{
		Workers:      cfg.Queue.Workers,
		PollInterval: cfg.Queue.PollInterval(),
	}, jobs, campaigns, br, registry, dispatcher.Wake(), bus, log)
	pool.Start()

	reporter := queue.NewReporter(health, jobs)
	srv := server.New(cfg.Server.Port, br, coordinator, reporter, campaigns, jobs, dispatcher, bus, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Infow("Shutting down", "signal", sig)
	case err := <-errCh:
		if err != nil {
			log.Errorw("HTTP server failed", "error", err)
			pool.Stop()
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("HTTP server shutdown error", "error", err)
	}
	pool.Stop()
	return nil
}

func openDatabase(cfg *config.Config) (*sql.DB, error) {
	if dir := filepath.Dir(cfg.Database.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return db.Open(cfg.Database.Path, logger.Logger)
}
