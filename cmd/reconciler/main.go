package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mediagen/internal/adapter/repo"
	"mediagen/internal/credits"
	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/provider"
	"mediagen/internal/reconcile"
)

// The reconciler owns the poll channel: it sweeps non-terminal tasks old
// enough that their callback should already have arrived, and folds the
// provider's current answer through the same reconciliation path callbacks
// use. It runs alongside the API as a separate process.
func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("component", "reconciler").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	profiles := repo.NewProfileRepository(dbpool)
	ledger := repo.NewLedgerRepository(dbpool)
	tasks := repo.NewTaskRepository(dbpool)
	media := repo.NewMediaRepository(dbpool)

	creditSvc := credits.NewService(profiles, ledger, logger)
	registry := buildRegistry(cfg, &logger)
	reconciler := reconcile.New(tasks, media, profiles, creditSvc, registry, logger)

	logger.Info().
		Dur("active_interval", cfg.ReconcileActiveInterval).
		Dur("idle_interval", cfg.ReconcileIdleInterval).
		Msg("reconciler started")

	run(ctx, cfg, logger, tasks, reconciler)
	logger.Info().Msg("reconciler stopped")
}

func run(ctx context.Context, cfg *infra.Config, logger infra.Logger, tasks domain.TaskRepository, reconciler *reconcile.Reconciler) {
	interval := cfg.ReconcileIdleInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if sweep(ctx, cfg, logger, tasks, reconciler) {
			interval = cfg.ReconcileActiveInterval
		} else {
			interval = cfg.ReconcileIdleInterval
		}
		timer.Reset(interval)
	}
}

// sweep reconciles one batch and reports whether a full batch was processed,
// which means more unsettled work is likely waiting.
func sweep(ctx context.Context, cfg *infra.Config, logger infra.Logger, tasks domain.TaskRepository, reconciler *reconcile.Reconciler) bool {
	batch, err := tasks.ListUnsettled(ctx, cfg.ReconcileMinAge, cfg.ReconcileBatchSize)
	if err != nil {
		logger.Error().Err(err).Msg("listing unsettled tasks failed")
		return false
	}
	for i := range batch {
		if ctx.Err() != nil {
			return true
		}
		if _, err := reconciler.SyncWithProvider(ctx, &batch[i]); err != nil {
			logger.Warn().Err(err).Str("task_id", batch[i].ID).Msg("provider sync failed")
		}
	}
	return len(batch) == cfg.ReconcileBatchSize
}

// buildRegistry mirrors the API process: real clients when credentials exist,
// synthetic gateways otherwise, so both processes resolve the same vendor
// names.
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
