package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mediagen/internal/domain"
	"mediagen/internal/retry"
)

type retryRequest struct {
	FreeRetry  bool `json:"free_retry"`
	FromFailed bool `json:"from_failed"`
}

// RetryTask resubmits a prior task as a new provider job. The new task keeps
// lineage through parent_task_id and is billed independently.
func (a *App) RetryTask(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	taskID := chi.URLParam(r, "taskID")

	var req retryRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
			return
		}
	}

	result, err := a.Retry.Retry(r.Context(), userID, taskID, retry.Options{
		FreeRetry:  req.FreeRetry,
		FromFailed: req.FromFailed,
	})
	if err != nil {
		a.retryError(w, taskID, err)
		return
	}
	a.json(w, http.StatusAccepted, map[string]any{
		"success":      true,
		"task_id":      result.TaskID,
		"status":       string(domain.TaskStatusPending),
		"cost_credits": result.Charged,
		"balance":      result.Balance,
	})
}

// ResumeTask returns the original request payload of a task so clients can
// pre-fill an edit form, whatever state the task is in.
func (a *App) ResumeTask(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	taskID := chi.URLParam(r, "taskID")

	data, err := a.Retry.Resume(r.Context(), userID, taskID)
	if err != nil {
		a.retryError(w, taskID, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "resume": data})
}

func (a *App) retryError(w http.ResponseWriter, taskID string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusNotFound, "not_found", "task not found")
	case errors.Is(err, domain.ErrInsufficientCredits),
		errors.Is(err, domain.ErrQuotaExhausted),
		errors.Is(err, domain.ErrSubscriptionExpired):
		a.error(w, http.StatusPaymentRequired, "INSUFFICIENT_CREDITS", err.Error())
	case errors.Is(err, domain.ErrProviderFailure):
		a.error(w, http.StatusBadGateway, "GENERATION_FAILED", "provider rejected the retry")
	default:
		a.Logger.Error().Err(err).Str("task_id", taskID).Msg("handlers: retry failed")
		a.orchestratorError(w, err)
	}
}
