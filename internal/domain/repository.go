package domain

import (
	"context"
	"time"
)

// ProfileRepository defines access to billing profiles.
type ProfileRepository interface {
	GetByID(ctx context.Context, id string) (*UserProfile, error)
	Upsert(ctx context.Context, profile *UserProfile) (*UserProfile, error)
}

// LedgerRepository owns every balance-affecting mutation plus the append-only
// history. Each deduction is a single conditional statement so two concurrent
// spends can never both pass a stale balance check.
type LedgerRepository interface {
	// DeductCredits subtracts amount iff the balance covers it and returns
	// the new balance, or ErrInsufficientCredits.
	DeductCredits(ctx context.Context, userID string, amount int) (int, error)
	// DeductCreditsAndQuota subtracts amount and one quota unit in the same
	// statement; fails with ErrInsufficientCredits or ErrQuotaExhausted.
	DeductCreditsAndQuota(ctx context.Context, userID string, amount int) (int, error)
	// ConsumeQuota decrements the free-generation quota iff one remains and
	// returns the remaining count, or ErrQuotaExhausted.
	ConsumeQuota(ctx context.Context, userID string) (int, error)
	AddCredits(ctx context.Context, userID string, amount int) (int, error)
	RestoreQuota(ctx context.Context, userID string) (int, error)
	Append(ctx context.Context, entry *CreditEntry) error
	ListByUser(ctx context.Context, userID string, limit int) ([]CreditEntry, error)
}

// TaskRepository defines persistence for generation tasks. Status transitions
// are guarded in SQL so terminal states are never overwritten.
type TaskRepository interface {
	Create(ctx context.Context, task *GenerationTask) error
	GetByID(ctx context.Context, id string) (*GenerationTask, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]GenerationTask, error)
	// ListUnsettled returns non-terminal tasks created at least minAge ago,
	// oldest first, for background reconciliation.
	ListUnsettled(ctx context.Context, minAge time.Duration, limit int) ([]GenerationTask, error)
	// MarkProcessing moves a pending task to processing; a no-op otherwise.
	MarkProcessing(ctx context.Context, id string) error
	// CompleteWithMedia flips the task to completed and inserts its media
	// files in one transaction. Returns false when the task was already
	// terminal, in which case nothing is written.
	CompleteWithMedia(ctx context.Context, id string, completedAt time.Time, files []MediaFile) (bool, error)
	// Fail flips the task to failed with the given message. Returns false
	// when the task was already terminal.
	Fail(ctx context.Context, id string, errMsg string, completedAt time.Time) (bool, error)
	// DeleteIfFailed removes the task only when its stored status is still
	// failed, so a late completion is never discarded.
	DeleteIfFailed(ctx context.Context, id string) (bool, error)
}

// MediaRepository reads persisted media artifacts. Writes happen through
// TaskRepository.CompleteWithMedia to keep the completion commit atomic.
type MediaRepository interface {
	ListByTask(ctx context.Context, taskID string) ([]MediaFile, error)
	CountByTask(ctx context.Context, taskID string) (int, error)
}

// DailyStat is one day of generation activity.
type DailyStat struct {
	Day       string
	Submitted int
	Completed int
	Failed    int
}

// StatsRepository aggregates generation activity for dashboards.
type StatsRepository interface {
	DailySummary(ctx context.Context, days int) ([]DailyStat, error)
}
