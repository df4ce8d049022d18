package credits

import (
	"context"
	"time"

	"mediagen/internal/domain"
)

// chargeResult reports what a tier charge actually moved. Charged is the
// credit amount debited (zero for pure quota charges); QuotaConsumed marks
// charges that must restore a quota unit instead of credits on refund.
type chargeResult struct {
	Balance       int
	Charged       int
	QuotaConsumed bool
}

// tierPolicy is the per-tier spend protocol: a read-only affordability check,
// an authoritative atomic charge, and the matching refund.
type tierPolicy interface {
	check(profile *domain.UserProfile, amount int, now time.Time) error
	charge(ctx context.Context, ledger domain.LedgerRepository, profile *domain.UserProfile, amount int) (chargeResult, error)
}

// policyFor selects the policy once per call. Unknown tiers fall through to
// the plain balance policy.
func policyFor(tier domain.MembershipTier) tierPolicy {
	switch tier {
	case domain.TierFree:
		return freePolicy{}
	case domain.TierSubscription:
		return subscriptionPolicy{}
	case domain.TierCredits:
		return creditPackPolicy{}
	default:
		return balancePolicy{}
	}
}

// freePolicy spends quota units only; the credit balance is irrelevant.
type freePolicy struct{}

func (freePolicy) check(profile *domain.UserProfile, _ int, _ time.Time) error {
	if profile.FreeGenerationsRemaining <= 0 {
		return domain.ErrQuotaExhausted
	}
	return nil
}

func (freePolicy) charge(ctx context.Context, ledger domain.LedgerRepository, profile *domain.UserProfile, _ int) (chargeResult, error) {
	if _, err := ledger.ConsumeQuota(ctx, profile.ID); err != nil {
		return chargeResult{}, err
	}
	return chargeResult{Balance: profile.Credits, Charged: 0, QuotaConsumed: true}, nil
}

// subscriptionPolicy requires an unexpired subscription and a covering
// balance. An expired subscription fails closed regardless of balance.
type subscriptionPolicy struct{}

func (subscriptionPolicy) check(profile *domain.UserProfile, amount int, now time.Time) error {
	if !profile.SubscriptionActive(now) {
		return domain.ErrSubscriptionExpired
	}
	if profile.Credits < amount {
		return domain.ErrInsufficientCredits
	}
	return nil
}

func (subscriptionPolicy) charge(ctx context.Context, ledger domain.LedgerRepository, profile *domain.UserProfile, amount int) (chargeResult, error) {
	balance, err := ledger.DeductCredits(ctx, profile.ID, amount)
	if err != nil {
		return chargeResult{}, err
	}
	return chargeResult{Balance: balance, Charged: amount}, nil
}

// creditPackPolicy consumes both a quota unit and the credit amount per
// operation.
type creditPackPolicy struct{}

func (creditPackPolicy) check(profile *domain.UserProfile, amount int, _ time.Time) error {
	if profile.FreeGenerationsRemaining <= 0 {
		return domain.ErrQuotaExhausted
	}
	if profile.Credits < amount {
		return domain.ErrInsufficientCredits
	}
	return nil
}

func (creditPackPolicy) charge(ctx context.Context, ledger domain.LedgerRepository, profile *domain.UserProfile, amount int) (chargeResult, error) {
	balance, err := ledger.DeductCreditsAndQuota(ctx, profile.ID, amount)
	if err != nil {
		return chargeResult{}, err
	}
	// Quota was consumed alongside the credits, but refunds restore credits
	// only: the quota unit is a rate limit, not part of the wallet.
	return chargeResult{Balance: balance, Charged: amount}, nil
}

// balancePolicy is the fallback: plain balance gate and debit.
type balancePolicy struct{}

func (balancePolicy) check(profile *domain.UserProfile, amount int, _ time.Time) error {
	if profile.Credits < amount {
		return domain.ErrInsufficientCredits
	}
	return nil
}

func (balancePolicy) charge(ctx context.Context, ledger domain.LedgerRepository, profile *domain.UserProfile, amount int) (chargeResult, error) {
	balance, err := ledger.DeductCredits(ctx, profile.ID, amount)
	if err != nil {
		return chargeResult{}, err
	}
	return chargeResult{Balance: balance, Charged: amount}, nil
}
