package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"mediagen/internal/credits"
	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/middleware"
	"mediagen/internal/orchestrator"
	"mediagen/internal/pricing"
	"mediagen/internal/prompt"
	"mediagen/internal/provider"
	"mediagen/internal/reconcile"
	"mediagen/internal/retry"
)

// App is the handler container; everything it needs is injected in main.
type App struct {
	Config       *infra.Config
	Logger       zerolog.Logger
	Profiles     domain.ProfileRepository
	Tasks        domain.TaskRepository
	Media        domain.MediaRepository
	Stats        domain.StatsRepository
	Credits      *credits.Service
	Orchestrator *orchestrator.Orchestrator
	Reconciler   *reconcile.Reconciler
	Retry        *retry.Manager
	Gateways     *provider.Registry
	Pricing      *pricing.Table
	Optimizer    *prompt.Optimizer
	HTTPClient   *http.Client
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{
		"success": false,
		"error":   message,
		"code":    errCode,
	})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}
