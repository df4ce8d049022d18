package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"mediagen/internal/domain"
)

// MediaRepositoryPG implements domain.MediaRepository using PostgreSQL.
// Media rows are written inside TaskRepositoryPG.CompleteWithMedia; this
// repository only reads them back.
type MediaRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewMediaRepository constructs a new media repository instance.
func NewMediaRepository(pool *pgxpool.Pool) *MediaRepositoryPG {
	return &MediaRepositoryPG{pool: pool}
}

// ListByTask returns the task's media files ordered by result index.
func (r *MediaRepositoryPG) ListByTask(ctx context.Context, taskID string) ([]domain.MediaFile, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, task_id, user_id, media_type, url, thumbnail_url, original_url, backup_url, result_index, width, height, duration, format, storage_status, created_at
FROM media_files
WHERE task_id = $1
ORDER BY result_index ASC;
`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []domain.MediaFile
	for rows.Next() {
		var f domain.MediaFile
		if err := rows.Scan(&f.ID, &f.TaskID, &f.UserID, &f.MediaType, &f.URL, &f.ThumbnailURL, &f.OriginalURL, &f.BackupURL, &f.ResultIndex, &f.Width, &f.Height, &f.Duration, &f.Format, &f.StorageStatus, &f.CreatedAt); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return files, nil
}

// CountByTask returns the number of media files recorded for the task.
func (r *MediaRepositoryPG) CountByTask(ctx context.Context, taskID string) (int, error) {
	row := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM media_files WHERE task_id = $1;`, taskID)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

var _ domain.MediaRepository = (*MediaRepositoryPG)(nil)
