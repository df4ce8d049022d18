package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"mediagen/internal/credits"
	"mediagen/internal/domain"
	"mediagen/internal/orchestrator"
	"mediagen/internal/provider"
)

// Pricer quotes the credit cost of a generation.
type Pricer interface {
	Cost(mediaType domain.MediaType, model string) int
}

// Manager resubmits a prior task as a brand-new provider job while keeping
// the lineage: the new task points at the original through parent_task_id and
// carries its own, independent billing state.
type Manager struct {
	tasks       domain.TaskRepository
	credits     *credits.Service
	orch        *orchestrator.Orchestrator
	registry    *provider.Registry
	pricing     Pricer
	callbackURL string
	logger      zerolog.Logger
}

// NewManager constructs a retry manager. callbackURL is the base push
// endpoint handed to providers on submission.
func NewManager(
	tasks domain.TaskRepository,
	creditSvc *credits.Service,
	orch *orchestrator.Orchestrator,
	registry *provider.Registry,
	pricing Pricer,
	callbackURL string,
	logger zerolog.Logger,
) *Manager {
	return &Manager{
		tasks:       tasks,
		credits:     creditSvc,
		orch:        orch,
		registry:    registry,
		pricing:     pricing,
		callbackURL: callbackURL,
		logger:      logger,
	}
}

// Options controls a retry.
type Options struct {
	// FreeRetry marks a promotional no-charge rerun; the new task records a
	// cost of zero and skips the ledger entirely.
	FreeRetry bool
	// FromFailed additionally deletes the original task once the new one is
	// created and charged, provided the original is still failed by then.
	FromFailed bool
}

// Retry submits the original task's request as a new provider job and runs
// the full orchestration flow, including a fresh credit check and deduction.
func (m *Manager) Retry(ctx context.Context, userID, taskID string, opts Options) (*orchestrator.Result, error) {
	original, err := m.loadOwned(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}

	cost := m.pricing.Cost(original.MediaType, original.Model)
	if !opts.FreeRetry {
		// Precheck before touching the provider so an unaffordable retry
		// never creates an orphaned upstream job.
		if _, err := m.credits.CheckUser(ctx, userID, cost); err != nil {
			return nil, err
		}
	}

	gw, err := m.registry.ByName(original.Provider)
	if err != nil {
		return nil, err
	}
	jobID, err := gw.Submit(ctx, provider.SubmitRequest{
		Model:       original.Model,
		MediaType:   original.MediaType,
		Prompt:      submissionPrompt(original),
		InputURLs:   original.InputURLs,
		Params:      decodeParams(original.Params),
		CallbackURL: CallbackURL(m.callbackURL, original.Provider),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderFailure, err)
	}

	parentID := original.ID
	result, err := m.orch.PrepareGeneration(ctx, orchestrator.Request{
		UserID:          userID,
		Provider:        original.Provider,
		JobID:           jobID,
		Model:           original.Model,
		MediaType:       original.MediaType,
		Mode:            modeFor(original),
		Prompt:          original.Prompt,
		OptimizedPrompt: original.OptimizedPrompt,
		PromptOptimized: original.PromptOptimized,
		InputURLs:       original.InputURLs,
		Params:          original.Params,
		Cost:            cost,
		ParentTaskID:    &parentID,
		IsFreeRetry:     opts.FreeRetry,
	})
	if err != nil {
		return nil, err
	}

	if opts.FromFailed {
		// Re-checked at deletion time: a task completed by a late callback
		// in the interim must survive. Deletion failure never fails the
		// retry itself.
		deleted, delErr := m.tasks.DeleteIfFailed(ctx, original.ID)
		switch {
		case delErr != nil:
			m.logger.Error().Err(delErr).
				Str("task_id", original.ID).
				Msg("retry: failed to delete superseded task")
		case deleted:
			m.logger.Info().
				Str("task_id", original.ID).
				Str("new_task_id", result.TaskID).
				Msg("retry: superseded failed task deleted")
		}
	}
	return result, nil
}

// ResumeData is the form-fill payload for re-editing a prior request.
type ResumeData struct {
	TaskID          string           `json:"task_id"`
	Status          string           `json:"status"`
	MediaType       domain.MediaType `json:"media_type"`
	Provider        string           `json:"provider"`
	Model           string           `json:"model"`
	Prompt          string           `json:"prompt"`
	OptimizedPrompt string           `json:"optimized_prompt,omitempty"`
	PromptOptimized bool             `json:"prompt_optimized"`
	InputURLs       []string         `json:"input_urls,omitempty"`
	Params          json.RawMessage  `json:"params,omitempty"`
}

// Resume returns the original task's request data regardless of its status,
// so failed jobs stay usable as templates.
func (m *Manager) Resume(ctx context.Context, userID, taskID string) (*ResumeData, error) {
	task, err := m.loadOwned(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	return &ResumeData{
		TaskID:          task.ID,
		Status:          string(task.Status),
		MediaType:       task.MediaType,
		Provider:        task.Provider,
		Model:           task.Model,
		Prompt:          task.Prompt,
		OptimizedPrompt: task.OptimizedPrompt,
		PromptOptimized: task.PromptOptimized,
		InputURLs:       task.InputURLs,
		Params:          task.Params,
	}, nil
}

func (m *Manager) loadOwned(ctx context.Context, userID, taskID string) (*domain.GenerationTask, error) {
	task, err := m.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.UserID != userID {
		return nil, domain.ErrUnauthorized
	}
	return task, nil
}

// CallbackURL builds the per-provider push endpoint.
func CallbackURL(base, providerName string) string {
	base = strings.TrimRight(base, "/")
	if base == "" {
		return ""
	}
	return base + "/" + providerName
}

func submissionPrompt(task *domain.GenerationTask) string {
	if task.PromptOptimized && task.OptimizedPrompt != "" {
		return task.OptimizedPrompt
	}
	return task.Prompt
}

func modeFor(task *domain.GenerationTask) string {
	if len(task.InputURLs) > 0 {
		if task.MediaType == domain.MediaTypeVideo {
			return orchestrator.ModeImageToVideo
		}
		return orchestrator.ModeImageToImage
	}
	if task.MediaType == domain.MediaTypeVideo {
		return orchestrator.ModeTextToVideo
	}
	return orchestrator.ModeTextToImage
}

func decodeParams(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil
	}
	return params
}

