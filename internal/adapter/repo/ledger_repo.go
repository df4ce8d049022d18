package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediagen/internal/domain"
)

// LedgerRepositoryPG implements domain.LedgerRepository. Every deduction is a
// single conditional UPDATE so the balance guard and the write happen in one
// storage operation; a concurrent spend that would overdraw simply matches
// zero rows.
type LedgerRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository creates a new ledger repository.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepositoryPG {
	return &LedgerRepositoryPG{pool: pool}
}

// DeductCredits subtracts amount iff the balance covers it.
func (r *LedgerRepositoryPG) DeductCredits(ctx context.Context, userID string, amount int) (int, error) {
	row := r.pool.QueryRow(ctx, `
UPDATE user_profiles
SET credits = credits - $2,
    updated_at = NOW()
WHERE id = $1
  AND credits >= $2
RETURNING credits;
`, userID, amount)
	var balance int
	if err := row.Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrInsufficientCredits
		}
		return 0, err
	}
	return balance, nil
}

// DeductCreditsAndQuota subtracts amount and one quota unit in one statement.
func (r *LedgerRepositoryPG) DeductCreditsAndQuota(ctx context.Context, userID string, amount int) (int, error) {
	row := r.pool.QueryRow(ctx, `
UPDATE user_profiles
SET credits = credits - $2,
    free_generations_remaining = free_generations_remaining - 1,
    updated_at = NOW()
WHERE id = $1
  AND credits >= $2
  AND free_generations_remaining > 0
RETURNING credits;
`, userID, amount)
	var balance int
	if err := row.Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, r.classifyDeductFailure(ctx, userID, amount)
		}
		return 0, err
	}
	return balance, nil
}

// classifyDeductFailure re-reads the profile to report which guard blocked a
// combined deduction. Diagnostic only; the atomic statement already declined.
func (r *LedgerRepositoryPG) classifyDeductFailure(ctx context.Context, userID string, amount int) error {
	row := r.pool.QueryRow(ctx, `SELECT credits, free_generations_remaining FROM user_profiles WHERE id = $1;`, userID)
	var credits, quota int
	if err := row.Scan(&credits, &quota); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return err
	}
	if quota <= 0 {
		return domain.ErrQuotaExhausted
	}
	if credits < amount {
		return domain.ErrInsufficientCredits
	}
	return domain.ErrInsufficientCredits
}

// ConsumeQuota decrements the free-generation quota iff one remains.
func (r *LedgerRepositoryPG) ConsumeQuota(ctx context.Context, userID string) (int, error) {
	row := r.pool.QueryRow(ctx, `
UPDATE user_profiles
SET free_generations_remaining = free_generations_remaining - 1,
    updated_at = NOW()
WHERE id = $1
  AND free_generations_remaining > 0
RETURNING free_generations_remaining;
`, userID)
	var remaining int
	if err := row.Scan(&remaining); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrQuotaExhausted
		}
		return 0, err
	}
	return remaining, nil
}

// AddCredits increments the balance (refunds and purchases).
func (r *LedgerRepositoryPG) AddCredits(ctx context.Context, userID string, amount int) (int, error) {
	row := r.pool.QueryRow(ctx, `
UPDATE user_profiles
SET credits = credits + $2,
    updated_at = NOW()
WHERE id = $1
RETURNING credits;
`, userID, amount)
	var balance int
	if err := row.Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, err
	}
	return balance, nil
}

// RestoreQuota gives back one free-generation unit.
func (r *LedgerRepositoryPG) RestoreQuota(ctx context.Context, userID string) (int, error) {
	row := r.pool.QueryRow(ctx, `
UPDATE user_profiles
SET free_generations_remaining = free_generations_remaining + 1,
    updated_at = NOW()
WHERE id = $1
RETURNING free_generations_remaining;
`, userID)
	var remaining int
	if err := row.Scan(&remaining); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, err
	}
	return remaining, nil
}

// Append records one ledger entry.
func (r *LedgerRepositoryPG) Append(ctx context.Context, entry *domain.CreditEntry) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO credit_history (id, user_id, amount, type, balance_after, task_id, description)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`, entry.ID, entry.UserID, entry.Amount, entry.Type, entry.BalanceAfter, entry.TaskID, entry.Description)
	return err
}

// ListByUser returns the user's most recent ledger entries.
func (r *LedgerRepositoryPG) ListByUser(ctx context.Context, userID string, limit int) ([]domain.CreditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
SELECT id, user_id, amount, type, balance_after, task_id, description, created_at
FROM credit_history
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2;
`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.CreditEntry
	for rows.Next() {
		var e domain.CreditEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.Type, &e.BalanceAfter, &e.TaskID, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

var _ domain.LedgerRepository = (*LedgerRepositoryPG)(nil)
