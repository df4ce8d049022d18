package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediagen/internal/domain"
)

// ProfileRepositoryPG implements domain.ProfileRepository backed by PostgreSQL.
type ProfileRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewProfileRepository creates a new ProfileRepositoryPG.
func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepositoryPG {
	return &ProfileRepositoryPG{pool: pool}
}

// GetByID fetches a billing profile.
func (r *ProfileRepositoryPG) GetByID(ctx context.Context, id string) (*domain.UserProfile, error) {
	row := r.pool.QueryRow(ctx, `
SELECT id, credits, membership_tier, free_generations_remaining, subscription_end_date, created_at, updated_at
FROM user_profiles
WHERE id = $1;
`, id)
	return scanProfile(row)
}

// Upsert inserts or updates a profile and returns the stored row.
func (r *ProfileRepositoryPG) Upsert(ctx context.Context, profile *domain.UserProfile) (*domain.UserProfile, error) {
	row := r.pool.QueryRow(ctx, `
INSERT INTO user_profiles (id, credits, membership_tier, free_generations_remaining, subscription_end_date)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE
SET credits = EXCLUDED.credits,
    membership_tier = EXCLUDED.membership_tier,
    free_generations_remaining = EXCLUDED.free_generations_remaining,
    subscription_end_date = EXCLUDED.subscription_end_date,
    updated_at = NOW()
RETURNING id, credits, membership_tier, free_generations_remaining, subscription_end_date, created_at, updated_at;
`,
		profile.ID,
		profile.Credits,
		profile.MembershipTier,
		profile.FreeGenerationsRemaining,
		profile.SubscriptionEndDate,
	)
	return scanProfile(row)
}

func scanProfile(row pgx.Row) (*domain.UserProfile, error) {
	var p domain.UserProfile
	if err := row.Scan(&p.ID, &p.Credits, &p.MembershipTier, &p.FreeGenerationsRemaining, &p.SubscriptionEndDate, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

var _ domain.ProfileRepository = (*ProfileRepositoryPG)(nil)
