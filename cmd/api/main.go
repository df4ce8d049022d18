package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mediagen/internal/adapter/repo"
	"mediagen/internal/credits"
	"mediagen/internal/http/handlers"
	httpapi "mediagen/internal/http/httpapi"
	"mediagen/internal/infra"
	"mediagen/internal/infra/geoip"
	"mediagen/internal/middleware"
	"mediagen/internal/orchestrator"
	"mediagen/internal/pricing"
	"mediagen/internal/prompt"
	"mediagen/internal/provider"
	"mediagen/internal/reconcile"
	"mediagen/internal/retry"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	profiles := repo.NewProfileRepository(dbpool)
	ledger := repo.NewLedgerRepository(dbpool)
	tasks := repo.NewTaskRepository(dbpool)
	media := repo.NewMediaRepository(dbpool)
	stats := repo.NewStatsRepository(dbpool)

	creditSvc := credits.NewService(profiles, ledger, logger)
	orch := orchestrator.New(tasks, creditSvc, logger)
	registry := buildRegistry(cfg, &logger)
	reconciler := reconcile.New(tasks, media, profiles, creditSvc, registry, logger)
	pricingTable := pricing.Default()
	retryMgr := retry.NewManager(tasks, creditSvc, orch, registry, pricingTable, cfg.CallbackBaseURL, logger)

	var lookup middleware.CountryLookup
	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip database unavailable, country detection disabled")
	} else if resolver != nil {
		lookup = resolver.CountryCode
	}

	app := &handlers.App{
		Config:       cfg,
		Logger:       logger,
		Profiles:     profiles,
		Tasks:        tasks,
		Media:        media,
		Stats:        stats,
		Credits:      creditSvc,
		Orchestrator: orch,
		Reconciler:   reconciler,
		Retry:        retryMgr,
		Gateways:     registry,
		Pricing:      pricingTable,
		Optimizer:    prompt.NewOptimizer(),
		HTTPClient:   &http.Client{Timeout: 60 * time.Second},
	}

	router := httpapi.NewRouter(app, lookup)
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
	logger.Info().Msg("server stopped")
}

// buildRegistry configures one gateway per vendor. A vendor without an API key
// falls back to the synthetic gateway under the same name so development and
// tests keep the full flow.
func buildRegistry(cfg *infra.Config, logger *infra.Logger) *provider.Registry {
	registry := provider.NewRegistry()

	vendors := []struct {
		name    string
		apiKey  string
		baseURL string
		models  []string
	}{
		{"flux", cfg.FluxAPIKey, cfg.FluxBaseURL, []string{"flux-schnell", "flux-pro", "sdxl"}},
		{"veo", cfg.VeoAPIKey, cfg.VeoBaseURL, []string{"veo-2", "veo-3"}},
		{"sora", cfg.SoraAPIKey, cfg.SoraBaseURL, []string{"sora-turbo"}},
	}
	for _, v := range vendors {
		if v.apiKey == "" {
			logger.Warn().Str("provider", v.name).Msg("no api key configured, using synthetic gateway")
			registry.Register(provider.NewSynthetic(v.name, 3*time.Second), v.models...)
			continue
		}
		client, err := provider.NewClient(provider.Options{
			Name:    v.name,
			APIKey:  v.apiKey,
			BaseURL: v.baseURL,
			Logger:  logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Str("provider", v.name).Msg("provider client init failed")
		}
		registry.Register(client, v.models...)
	}
	return registry
}
