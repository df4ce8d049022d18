package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediagen/internal/domain"
)

// TaskRepositoryPG implements domain.TaskRepository backed by PostgreSQL.
type TaskRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewTaskRepository creates a new task repository.
func NewTaskRepository(pool *pgxpool.Pool) *TaskRepositoryPG {
	return &TaskRepositoryPG{pool: pool}
}

const taskColumns = `id, user_id, media_type, provider, ai_model, status, original_prompt, optimized_prompt, prompt_optimized, input_image_urls, generation_params, cost_credits, error_message, parent_task_id, is_free_retry, created_at, completed_at`

// Create inserts a new task record. The id is the namespaced provider job id,
// so a row only exists for a job the vendor already accepted.
func (r *TaskRepositoryPG) Create(ctx context.Context, task *domain.GenerationTask) error {
	query := `
INSERT INTO generation_tasks (id, user_id, media_type, provider, ai_model, status, original_prompt, optimized_prompt, prompt_optimized, input_image_urls, generation_params, cost_credits, error_message, parent_task_id, is_free_retry)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15);
`
	_, err := r.pool.Exec(ctx, query,
		task.ID,
		task.UserID,
		task.MediaType,
		task.Provider,
		task.Model,
		task.Status,
		task.Prompt,
		task.OptimizedPrompt,
		task.PromptOptimized,
		task.InputURLs,
		nullableBytes(task.Params),
		task.CostCredits,
		task.ErrorMessage,
		task.ParentTaskID,
		task.IsFreeRetry,
	)
	return err
}

// GetByID fetches a task by its identifier.
func (r *TaskRepositoryPG) GetByID(ctx context.Context, id string) (*domain.GenerationTask, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM generation_tasks WHERE id = $1;`, id)
	return scanTask(row)
}

// ListByUser returns the user's most recent tasks.
func (r *TaskRepositoryPG) ListByUser(ctx context.Context, userID string, limit int) ([]domain.GenerationTask, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
SELECT `+taskColumns+`
FROM generation_tasks
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2;
`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListUnsettled returns non-terminal tasks older than minAge, oldest first.
func (r *TaskRepositoryPG) ListUnsettled(ctx context.Context, minAge time.Duration, limit int) ([]domain.GenerationTask, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
SELECT `+taskColumns+`
FROM generation_tasks
WHERE status IN ('pending', 'processing')
  AND created_at <= NOW() - make_interval(secs => $1)
ORDER BY created_at ASC
LIMIT $2;
`, minAge.Seconds(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

// MarkProcessing moves a pending task forward; terminal rows are untouched.
func (r *TaskRepositoryPG) MarkProcessing(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
UPDATE generation_tasks
SET status = 'processing'
WHERE id = $1
  AND status = 'pending';
`, id)
	return err
}

// CompleteWithMedia flips the task to completed and writes its media files in
// one transaction. The guarded update decides the race between concurrent
// observers: only the transaction that actually flips the status commits the
// media rows.
func (r *TaskRepositoryPG) CompleteWithMedia(ctx context.Context, id string, completedAt time.Time, files []domain.MediaFile) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
UPDATE generation_tasks
SET status = 'completed',
    error_message = '',
    completed_at = $2
WHERE id = $1
  AND status NOT IN ('completed', 'failed');
`, id, completedAt)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	for _, file := range files {
		f := file
		if _, err := tx.Exec(ctx, `
INSERT INTO media_files (id, task_id, user_id, media_type, url, thumbnail_url, original_url, backup_url, result_index, width, height, duration, format, storage_status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14);
`, f.ID, f.TaskID, f.UserID, f.MediaType, f.URL, f.ThumbnailURL, f.OriginalURL, f.BackupURL, f.ResultIndex, f.Width, f.Height, f.Duration, f.Format, f.StorageStatus); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Fail flips the task to failed unless it is already terminal.
func (r *TaskRepositoryPG) Fail(ctx context.Context, id string, errMsg string, completedAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
UPDATE generation_tasks
SET status = 'failed',
    error_message = $2,
    completed_at = $3
WHERE id = $1
  AND status NOT IN ('completed', 'failed');
`, id, errMsg, completedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteIfFailed removes the task only while it is still failed, so a task
// completed by a late callback survives.
func (r *TaskRepositoryPG) DeleteIfFailed(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
DELETE FROM generation_tasks
WHERE id = $1
  AND status = 'failed';
`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func scanTask(row pgx.Row) (*domain.GenerationTask, error) {
	var task domain.GenerationTask
	if err := row.Scan(
		&task.ID,
		&task.UserID,
		&task.MediaType,
		&task.Provider,
		&task.Model,
		&task.Status,
		&task.Prompt,
		&task.OptimizedPrompt,
		&task.PromptOptimized,
		&task.InputURLs,
		&task.Params,
		&task.CostCredits,
		&task.ErrorMessage,
		&task.ParentTaskID,
		&task.IsFreeRetry,
		&task.CreatedAt,
		&task.CompletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &task, nil
}

func collectTasks(rows pgx.Rows) ([]domain.GenerationTask, error) {
	var tasks []domain.GenerationTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

var _ domain.TaskRepository = (*TaskRepositoryPG)(nil)
