package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mediagen/internal/credits"
	"mediagen/internal/domain"
	"mediagen/internal/provider"
)

// Reconciler folds provider observations into the task store. The callback
// handler and every poll trigger converge here; terminal transitions happen
// at most once because the store-level flips are guarded, and the winner of
// a fail flip owns the compensating refund.
type Reconciler struct {
	tasks    domain.TaskRepository
	media    domain.MediaRepository
	profiles domain.ProfileRepository
	credits  *credits.Service
	registry *provider.Registry
	logger   zerolog.Logger
	now      func() time.Time
}

// New constructs a reconciler.
func New(
	tasks domain.TaskRepository,
	media domain.MediaRepository,
	profiles domain.ProfileRepository,
	creditSvc *credits.Service,
	registry *provider.Registry,
	logger zerolog.Logger,
) *Reconciler {
	return &Reconciler{
		tasks:    tasks,
		media:    media,
		profiles: profiles,
		credits:  creditSvc,
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}
}

// Callback is the inbound push payload from a provider.
type Callback struct {
	JobID        string   `json:"task_id"`
	State        string   `json:"state"`
	ResultURLs   []string `json:"result_urls"`
	ErrorCode    string   `json:"error_code"`
	ErrorMessage string   `json:"error_message"`
}

// HandleCallback folds a provider push into the store.
func (r *Reconciler) HandleCallback(ctx context.Context, providerName string, cb Callback) (*domain.GenerationTask, error) {
	jobID := strings.TrimSpace(cb.JobID)
	if jobID == "" {
		return nil, fmt.Errorf("callback: %w: task id is required", domain.ErrInvalidRequest)
	}
	task, err := r.tasks.GetByID(ctx, domain.TaskID(providerName, jobID))
	if err != nil {
		return nil, err
	}
	status := provider.JobStatus{
		State:        provider.NormalizeState(cb.State),
		ResultURLs:   cb.ResultURLs,
		ErrorCode:    cb.ErrorCode,
		ErrorMessage: cb.ErrorMessage,
	}
	return r.Resolve(ctx, task, status)
}

// SyncWithProvider pulls the vendor's current view of a non-terminal task and
// folds it. This is the poll channel covering missed callbacks; it is the
// same reconciliation logic invoked from a different trigger.
func (r *Reconciler) SyncWithProvider(ctx context.Context, task *domain.GenerationTask) (*domain.GenerationTask, error) {
	if task.Status.Terminal() {
		return task, nil
	}
	gw, err := r.registry.ByName(task.Provider)
	if err != nil {
		return task, err
	}
	_, jobID := domain.SplitTaskID(task.ID)
	status, err := gw.QueryStatus(ctx, jobID)
	if err != nil {
		return task, fmt.Errorf("query %s: %w", task.Provider, err)
	}
	return r.Resolve(ctx, task, *status)
}

// Resolve applies one provider observation. Safe to call concurrently from
// both channels for the same task: the second observer of a terminal state is
// a no-op.
func (r *Reconciler) Resolve(ctx context.Context, task *domain.GenerationTask, status provider.JobStatus) (*domain.GenerationTask, error) {
	decision := Fold(task, status)
	switch decision.Action {
	case ActionNone:
		return task, nil

	case ActionProgress:
		if err := r.tasks.MarkProcessing(ctx, task.ID); err != nil {
			return task, err
		}
		updated := *task
		updated.Status = domain.TaskStatusProcessing
		return &updated, nil

	case ActionComplete:
		completedAt := r.now()
		files := r.buildMediaFiles(task, decision.ResultURLs)
		won, err := r.tasks.CompleteWithMedia(ctx, task.ID, completedAt, files)
		if err != nil {
			// Transaction rolled back: status stays unflipped and no media
			// rows exist, so the next poll retries the whole commit.
			r.logger.Error().Err(err).
				Str("task_id", task.ID).
				Msg("reconcile: completion commit failed, will retry on next observation")
			return task, err
		}
		if !won {
			return r.reload(ctx, task)
		}
		r.logger.Info().
			Str("task_id", task.ID).
			Int("media", len(files)).
			Msg("reconcile: task completed")
		updated := *task
		updated.Status = domain.TaskStatusCompleted
		updated.CompletedAt = &completedAt
		updated.ErrorMessage = ""
		return &updated, nil

	case ActionFail:
		completedAt := r.now()
		won, err := r.tasks.Fail(ctx, task.ID, decision.ErrorMessage, completedAt)
		if err != nil {
			return task, err
		}
		if !won {
			return r.reload(ctx, task)
		}
		r.logger.Info().
			Str("task_id", task.ID).
			Str("error", decision.ErrorMessage).
			Msg("reconcile: task failed")
		// Winning the guarded flip makes this the only observer of the
		// failure, so the refund runs exactly once.
		r.refundForFailure(ctx, task, decision.ErrorMessage)
		updated := *task
		updated.Status = domain.TaskStatusFailed
		updated.ErrorMessage = decision.ErrorMessage
		updated.CompletedAt = &completedAt
		return &updated, nil
	}
	return task, nil
}

// refundForFailure compensates the charge of a provider-failed task. Free
// retries were never charged; free-tier charges restore the quota unit;
// everything else restores the credit amount. The consumed quota unit of a
// credits-tier charge is not restored: quota is a rate limit, not a wallet.
func (r *Reconciler) refundForFailure(ctx context.Context, task *domain.GenerationTask, reason string) {
	if task.IsFreeRetry {
		return
	}
	wasFreeCharge := false
	if task.CostCredits == 0 {
		profile, err := r.profiles.GetByID(ctx, task.UserID)
		if err != nil {
			r.logger.Error().Err(err).
				Str("task_id", task.ID).
				Msg("reconcile: profile lookup for refund failed")
			return
		}
		if profile.MembershipTier != domain.TierFree {
			return
		}
		wasFreeCharge = true
	}
	balance, err := r.credits.Refund(ctx, task.UserID, task.CostCredits, task.ID, "refund: "+reason, wasFreeCharge)
	if err != nil {
		r.logger.Error().Err(err).
			Str("task_id", task.ID).
			Str("user_id", task.UserID).
			Int("amount", task.CostCredits).
			Msg("reconcile: refund failed")
		return
	}
	r.logger.Info().
		Str("task_id", task.ID).
		Int("amount", task.CostCredits).
		Int("balance", balance).
		Msg("reconcile: credits refunded")
}

func (r *Reconciler) reload(ctx context.Context, task *domain.GenerationTask) (*domain.GenerationTask, error) {
	updated, err := r.tasks.GetByID(ctx, task.ID)
	if err != nil {
		return task, err
	}
	return updated, nil
}

func (r *Reconciler) buildMediaFiles(task *domain.GenerationTask, urls []string) []domain.MediaFile {
	width, height, duration := dimensionsFromParams(task.Params)
	files := make([]domain.MediaFile, 0, len(urls))
	for i, u := range urls {
		files = append(files, domain.MediaFile{
			ID:            uuid.NewString(),
			TaskID:        task.ID,
			UserID:        task.UserID,
			MediaType:     task.MediaType,
			URL:           u,
			OriginalURL:   u,
			ResultIndex:   i,
			Width:         width,
			Height:        height,
			Duration:      duration,
			Format:        formatForURL(u, task.MediaType),
			StorageStatus: domain.StorageOriginalOnly,
		})
	}
	return files
}

func dimensionsFromParams(params []byte) (width, height, duration int) {
	if len(params) == 0 {
		return 0, 0, 0
	}
	var decoded struct {
		Width    int `json:"width"`
		Height   int `json:"height"`
		Duration int `json:"duration"`
	}
	if err := json.Unmarshal(params, &decoded); err != nil {
		return 0, 0, 0
	}
	return decoded.Width, decoded.Height, decoded.Duration
}

func formatForURL(rawURL string, mediaType domain.MediaType) string {
	lower := strings.ToLower(rawURL)
	switch {
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	case strings.HasSuffix(lower, ".mp4"):
		return "video/mp4"
	case strings.HasSuffix(lower, ".webm"):
		return "video/webm"
	}
	if mediaType == domain.MediaTypeVideo {
		return "video/mp4"
	}
	return "image/png"
}
