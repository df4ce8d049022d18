package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"mediagen/internal/domain"
)

// StatsRepositoryPG aggregates generation activity straight from the task
// table, so the summary needs no counter maintenance in the write paths.
type StatsRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewStatsRepository constructs a new stats repository instance.
func NewStatsRepository(pool *pgxpool.Pool) *StatsRepositoryPG {
	return &StatsRepositoryPG{pool: pool}
}

// DailySummary returns per-day submitted/completed/failed counts for the
// trailing window.
func (r *StatsRepositoryPG) DailySummary(ctx context.Context, days int) ([]domain.DailyStat, error) {
	if days <= 0 {
		days = 7
	}
	rows, err := r.pool.Query(ctx, `
SELECT to_char(created_at::date, 'YYYY-MM-DD') AS day,
       COUNT(*) AS submitted,
       COUNT(*) FILTER (WHERE status = 'completed') AS completed,
       COUNT(*) FILTER (WHERE status = 'failed') AS failed
FROM generation_tasks
WHERE created_at >= NOW() - make_interval(days => $1)
GROUP BY 1
ORDER BY 1 DESC;
`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []domain.DailyStat
	for rows.Next() {
		var s domain.DailyStat
		if err := rows.Scan(&s.Day, &s.Submitted, &s.Completed, &s.Failed); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}

var _ domain.StatsRepository = (*StatsRepositoryPG)(nil)
