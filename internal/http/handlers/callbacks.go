package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mediagen/internal/domain"
	"mediagen/internal/reconcile"
)

// ProviderCallback receives a push notification from a provider and folds it
// into the task store. Unknown task ids are acknowledged with 200 so the
// vendor stops retrying; our poll channel owns anything we cannot match.
func (a *App) ProviderCallback(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")

	if a.Config.CallbackSecret != "" {
		got := r.Header.Get("X-Callback-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(a.Config.CallbackSecret)) != 1 {
			a.error(w, http.StatusUnauthorized, "unauthorized", "invalid callback secret")
			return
		}
	}

	var cb reconcile.Callback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	task, err := a.Reconciler.HandleCallback(r.Context(), providerName, cb)
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	case errors.Is(err, domain.ErrNotFound):
		a.Logger.Warn().
			Str("provider", providerName).
			Str("job_id", cb.JobID).
			Msg("handlers: callback for unknown task")
		a.json(w, http.StatusOK, map[string]any{"success": true, "status": "ignored"})
		return
	case err != nil:
		a.Logger.Error().Err(err).
			Str("provider", providerName).
			Str("job_id", cb.JobID).
			Msg("handlers: callback processing failed")
		a.error(w, http.StatusInternalServerError, "internal", "callback processing failed")
		return
	}

	a.json(w, http.StatusOK, map[string]any{
		"success": true,
		"task_id": task.ID,
		"status":  string(task.Status),
	})
}
