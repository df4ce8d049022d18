package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mediagen/internal/credits"
	"mediagen/internal/domain"
)

// Generation modes. Image-reference modes require at least one input URL.
const (
	ModeTextToImage  = "text_to_image"
	ModeImageToImage = "image_to_image"
	ModeTextToVideo  = "text_to_video"
	ModeImageToVideo = "image_to_video"
)

// Request is a validated-shape generation request. The caller must already
// hold a provider-accepted job id: submission happens in the calling layer so
// the durable task key is always a real upstream job.
type Request struct {
	UserID          string
	Provider        string
	JobID           string
	Model           string
	MediaType       domain.MediaType
	Mode            string
	Prompt          string
	OptimizedPrompt string
	PromptOptimized bool
	InputURLs       []string
	Params          []byte
	Cost            int
	ParentTaskID    *string
	IsFreeRetry     bool
}

// Result is returned on success.
type Result struct {
	TaskID  string
	Balance int
	Charged int
}

// Orchestrator turns an accepted provider job into a durable, charged task,
// or fails with nothing half-done: every step's failure short-circuits the
// rest, and the one failure after persistence (deduction) marks the task
// failed instead of leaving billable work uncharged.
type Orchestrator struct {
	tasks   domain.TaskRepository
	credits *credits.Service
	logger  zerolog.Logger
	now     func() time.Time
}

// New constructs an orchestrator.
func New(tasks domain.TaskRepository, creditSvc *credits.Service, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		tasks:   tasks,
		credits: creditSvc,
		logger:  logger,
		now:     time.Now,
	}
}

// PrepareGeneration runs the submit-side sequence: validate, gate on funds,
// persist the task under the provider's job id, then charge. Ordering is
// deliberate: a crash between upstream submission and persistence orphans a
// cheap provider-side job rather than charging for a task that does not
// durably exist locally.
func (o *Orchestrator) PrepareGeneration(ctx context.Context, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	var profile *domain.UserProfile
	if !req.IsFreeRetry {
		p, err := o.credits.CheckUser(ctx, req.UserID, req.Cost)
		if err != nil {
			return nil, classifyFundsError(err)
		}
		profile = p
	}

	cost := req.Cost
	if req.IsFreeRetry || (profile != nil && profile.MembershipTier == domain.TierFree) {
		cost = 0
	}

	taskID := domain.TaskID(req.Provider, req.JobID)
	task := &domain.GenerationTask{
		ID:              taskID,
		UserID:          req.UserID,
		MediaType:       req.MediaType,
		Provider:        req.Provider,
		Model:           req.Model,
		Status:          domain.TaskStatusPending,
		Prompt:          req.Prompt,
		OptimizedPrompt: req.OptimizedPrompt,
		PromptOptimized: req.PromptOptimized,
		InputURLs:       req.InputURLs,
		Params:          req.Params,
		CostCredits:     cost,
		ParentTaskID:    req.ParentTaskID,
		IsFreeRetry:     req.IsFreeRetry,
	}
	if err := o.tasks.Create(ctx, task); err != nil {
		// The upstream job keeps running unreferenced; visible on the
		// vendor's own dashboard, so logged rather than retried.
		o.logger.Error().Err(err).
			Str("task_id", taskID).
			Str("user_id", req.UserID).
			Msg("orchestrator: task creation failed, upstream job dangling")
		return nil, &Error{Code: CodeTaskCreationFailed, Message: "failed to persist task", Err: err}
	}

	if req.IsFreeRetry {
		return &Result{TaskID: taskID}, nil
	}

	deducted, err := o.credits.Deduct(ctx, profile, req.Cost, taskID, chargeDescription(req))
	if err != nil {
		now := o.now()
		if _, failErr := o.tasks.Fail(ctx, taskID, "credit deduction failed", now); failErr != nil {
			o.logger.Error().Err(failErr).
				Str("task_id", taskID).
				Msg("orchestrator: failed to mark task failed after deduction failure")
		}
		return nil, &Error{Code: CodeCreditDeductionFailed, Message: "credit deduction failed", Err: err}
	}

	o.logger.Info().
		Str("task_id", taskID).
		Str("user_id", req.UserID).
		Int("charged", deducted.Charged).
		Int("balance", deducted.Balance).
		Msg("orchestrator: task prepared")
	return &Result{TaskID: taskID, Balance: deducted.Balance, Charged: deducted.Charged}, nil
}

func validate(req Request) error {
	switch {
	case strings.TrimSpace(req.UserID) == "":
		return invalid("user id is required")
	case strings.TrimSpace(req.Provider) == "":
		return invalid("provider is required")
	case strings.TrimSpace(req.JobID) == "":
		return invalid("provider job id is required")
	case strings.TrimSpace(req.Model) == "":
		return invalid("model is required")
	case !req.MediaType.Valid():
		return invalid("unsupported media type")
	case strings.TrimSpace(req.Prompt) == "":
		return invalid("prompt is required")
	case req.Cost < 0:
		return invalid("cost must not be negative")
	}
	switch req.Mode {
	case "", ModeTextToImage, ModeTextToVideo:
	case ModeImageToImage, ModeImageToVideo:
		if len(req.InputURLs) == 0 {
			return invalid("image reference inputs are required for " + req.Mode)
		}
	default:
		return invalid("unsupported mode " + req.Mode)
	}
	return nil
}

func invalid(msg string) error {
	return &Error{Code: CodeInvalidRequest, Message: msg, Err: domain.ErrInvalidRequest}
}

func classifyFundsError(err error) error {
	switch {
	case errors.Is(err, domain.ErrInsufficientCredits),
		errors.Is(err, domain.ErrQuotaExhausted),
		errors.Is(err, domain.ErrSubscriptionExpired):
		return &Error{Code: CodeInsufficientCredits, Message: err.Error(), Err: err}
	case errors.Is(err, domain.ErrNotFound):
		return &Error{Code: CodeInvalidRequest, Message: "unknown user", Err: err}
	default:
		return &Error{Code: CodeInsufficientCredits, Message: "credit check failed", Err: err}
	}
}

func chargeDescription(req Request) string {
	kind := "image generation"
	if req.MediaType == domain.MediaTypeVideo {
		kind = "video generation"
	}
	return kind + " (" + req.Model + ")"
}
