package domain

import "time"

// MembershipTier enumerates billing tiers.
type MembershipTier string

const (
	TierFree         MembershipTier = "free"
	TierSubscription MembershipTier = "subscription"
	TierCredits      MembershipTier = "credits"
)

// UserProfile carries the billing-relevant slice of an account. Credits and
// the free-generation quota are independent gates: quota is a rate limit,
// credits are a wallet.
type UserProfile struct {
	ID                       string
	Credits                  int
	MembershipTier           MembershipTier
	FreeGenerationsRemaining int
	SubscriptionEndDate      *time.Time
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// SubscriptionActive reports whether the subscription end date is set and in
// the future. An unset date fails closed.
func (p UserProfile) SubscriptionActive(now time.Time) bool {
	return p.SubscriptionEndDate != nil && p.SubscriptionEndDate.After(now)
}
