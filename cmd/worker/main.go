// Command worker runs the reconciliation loop on its own, without the HTTP
// surface. It re-arms polling for every PROCESSING job at startup and rescans
// periodically so jobs created by other processes are picked up too.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"server/internal/infra"
	"server/internal/providers/kie"
	"server/internal/reconcile"
	"server/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store storage.Store
	if cfg.StoreDriver == "memory" {
		// A memory store is process-local; a standalone worker over one can
		// only see jobs it created itself. Useful for smoke tests, nothing
		// else.
		logger.Warn().Msg("worker: using in-memory store")
		store = storage.NewMemoryStore()
	} else {
		dbpool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer dbpool.Close()
		store = storage.NewPostgresStore(infra.NewSQLRunner(dbpool, logger))
	}

	provider, err := kie.NewClient(kie.Options{
		APIKey:  cfg.KieAPIKey,
		BaseURL: cfg.KieBaseURL,
		Model:   cfg.KieModel,
		Logger:  &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build provider client")
	}

	finalizer := reconcile.NewFinalizer(store, logger)
	poller := reconcile.NewPoller(finalizer, provider, store, logger, cfg.PollInterval, cfg.PollMaxAttempts)

	if err := poller.Resume(ctx); err != nil {
		logger.Error().Err(err).Msg("initial resume failed")
	}
	logger.Info().Int("active", poller.ActiveCount()).Msg("worker started")

	rescan := time.NewTicker(cfg.PollInterval * 2)
	defer rescan.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("worker shutting down")
			poller.Shutdown()
			logger.Info().Msg("worker stopped")
			return
		case <-rescan.C:
			if err := poller.Resume(ctx); err != nil {
				logger.Error().Err(err).Msg("rescan failed")
			}
		}
	}
}
