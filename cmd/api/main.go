package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"server/internal/billing"
	"server/internal/http/handlers"
	"server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/infra/credentials"
	"server/internal/infra/geoip"
	"server/internal/middleware"
	"server/internal/providers/kie"
	"server/internal/providers/prompt"
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

	ctx := context.Background()

	var store storage.Store
	if cfg.StoreDriver == "memory" {
		logger.Warn().Msg("api: using in-memory store, state does not survive restarts")
		store = storage.NewMemoryStore()
	} else {
		dbpool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer dbpool.Close()
		runner := infra.NewSQLRunner(dbpool, logger)
		store = storage.NewPostgresStore(runner)

		// Tokens rotated through the database win over a missing env value.
		creds := credentials.NewStore(runner)
		if cfg.KieAPIKey == "" {
			if key, err := creds.KieAPIKey(ctx); err == nil && key != "" {
				cfg.KieAPIKey = key
			}
		}
		if cfg.StripeWebhookSecret == "" {
			if secret, err := creds.StripeWebhookSecret(ctx); err == nil && secret != "" {
				cfg.StripeWebhookSecret = secret
			}
		}
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
		logger.Error().Err(err).Msg("failed to resume in-flight jobs")
	}

	catalog := billing.Catalog{}
	if cfg.PriceBasicID != "" {
		catalog[cfg.PriceBasicID] = billing.Plan{Name: "basic", Credits: cfg.BasicCredits}
	}
	if cfg.PriceProID != "" {
		catalog[cfg.PriceProID] = billing.Plan{Name: "pro", Credits: cfg.ProCredits}
	}
	processor := billing.NewProcessor(store, catalog, cfg.StripeWebhookSecret, cfg.StripeTolerance, logger)

	var lookup middleware.CountryLookup
	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	} else if resolver != nil {
		lookup = resolver.CountryCode
	}

	app := &handlers.App{
		Store:     store,
		Provider:  provider,
		Finalizer: finalizer,
		Poller:    poller,
		Billing:   processor,
		Refiner:   prompt.NewStaticRefiner(),
		Logger:    logger,
		Cfg:       cfg,
	}

	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:       cfg.JWTSecret,
		RateLimitPerMin: cfg.RateLimitPerMin,
		AllowedOrigins:  cfg.AllowedOrigins,
		DefaultLocale:   cfg.DefaultLocale,
		CountryLookup:   lookup,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	poller.Shutdown()
	logger.Info().Msg("server stopped")
}
