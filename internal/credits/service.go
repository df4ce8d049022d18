package credits

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mediagen/internal/domain"
)

// Service gates and accounts for every paid operation. Check is a read-only
// precheck; Deduct re-verifies through the storage-level conditional update,
// so a stale precheck can never overdraw a balance.
type Service struct {
	profiles domain.ProfileRepository
	ledger   domain.LedgerRepository
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService constructs the credit service.
func NewService(profiles domain.ProfileRepository, ledger domain.LedgerRepository, logger zerolog.Logger) *Service {
	return &Service{
		profiles: profiles,
		ledger:   ledger,
		logger:   logger,
		now:      time.Now,
	}
}

// DeductResult reports the outcome of a successful deduction.
type DeductResult struct {
	Balance       int
	Charged       int
	QuotaConsumed bool
}

// Check reports whether the profile can afford the operation right now. It
// has no side effects and must be re-verified by Deduct.
func (s *Service) Check(profile *domain.UserProfile, required int) error {
	return policyFor(profile.MembershipTier).check(profile, required, s.now())
}

// CheckUser loads the profile and runs Check.
func (s *Service) CheckUser(ctx context.Context, userID string, required int) (*domain.UserProfile, error) {
	profile, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.Check(profile, required); err != nil {
		return profile, err
	}
	return profile, nil
}

// Deduct performs the authoritative charge for a task and appends the usage
// entry. It must run only after the task row exists.
func (s *Service) Deduct(ctx context.Context, profile *domain.UserProfile, amount int, taskID, description string) (*DeductResult, error) {
	policy := policyFor(profile.MembershipTier)
	if err := policy.check(profile, amount, s.now()); err != nil {
		return nil, err
	}
	result, err := policy.charge(ctx, s.ledger, profile, amount)
	if err != nil {
		return nil, err
	}
	entry := &domain.CreditEntry{
		ID:           uuid.NewString(),
		UserID:       profile.ID,
		Amount:       -result.Charged,
		Type:         domain.CreditEntryUsage,
		BalanceAfter: result.Balance,
		TaskID:       &taskID,
		Description:  description,
	}
	if err := s.ledger.Append(ctx, entry); err != nil {
		// The balance already moved; a missing audit row is an operational
		// anomaly, not a failed charge.
		s.logger.Error().Err(err).
			Str("user_id", profile.ID).
			Str("task_id", taskID).
			Int("amount", result.Charged).
			Msg("credits: usage entry append failed")
	}
	return &DeductResult{
		Balance:       result.Balance,
		Charged:       result.Charged,
		QuotaConsumed: result.QuotaConsumed,
	}, nil
}

// Refund is the compensating action for a charged task that failed. When the
// original charge consumed only a free-tier quota unit, the quota unit comes
// back; otherwise the credit amount comes back. Exactly one failure path per
// task may call it (the guarded terminal flip in the reconciler).
func (s *Service) Refund(ctx context.Context, userID string, amount int, taskID, reason string, wasFreeCharge bool) (int, error) {
	var (
		balance int
		err     error
	)
	refunded := amount
	if wasFreeCharge {
		refunded = 0
		if _, err = s.ledger.RestoreQuota(ctx, userID); err != nil {
			return 0, fmt.Errorf("restore quota: %w", err)
		}
		profile, perr := s.profiles.GetByID(ctx, userID)
		if perr != nil {
			return 0, perr
		}
		balance = profile.Credits
	} else {
		balance, err = s.ledger.AddCredits(ctx, userID, amount)
		if err != nil {
			return 0, fmt.Errorf("add credits: %w", err)
		}
	}
	entry := &domain.CreditEntry{
		ID:           uuid.NewString(),
		UserID:       userID,
		Amount:       refunded,
		Type:         domain.CreditEntryRefund,
		BalanceAfter: balance,
		TaskID:       &taskID,
		Description:  reason,
	}
	if err := s.ledger.Append(ctx, entry); err != nil {
		s.logger.Error().Err(err).
			Str("user_id", userID).
			Str("task_id", taskID).
			Msg("credits: refund entry append failed")
	}
	return balance, nil
}

// Purchase credits the balance and appends a purchase entry.
func (s *Service) Purchase(ctx context.Context, userID string, amount int, description string) (int, error) {
	balance, err := s.ledger.AddCredits(ctx, userID, amount)
	if err != nil {
		return 0, err
	}
	entry := &domain.CreditEntry{
		ID:           uuid.NewString(),
		UserID:       userID,
		Amount:       amount,
		Type:         domain.CreditEntryPurchase,
		BalanceAfter: balance,
		Description:  description,
	}
	if err := s.ledger.Append(ctx, entry); err != nil {
		s.logger.Error().Err(err).
			Str("user_id", userID).
			Msg("credits: purchase entry append failed")
	}
	return balance, nil
}

// History returns the user's most recent ledger entries.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]domain.CreditEntry, error) {
	return s.ledger.ListByUser(ctx, userID, limit)
}
