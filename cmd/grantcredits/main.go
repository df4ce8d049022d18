// Command grantcredits is an operator tool for adjusting a user's billing
// profile: tier changes, credit grants, and free-quota resets.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"mediagen/internal/adapter/repo"
	"mediagen/internal/credits"
	"mediagen/internal/domain"
	"mediagen/internal/infra"
)

func main() {
	var (
		userID     = flag.String("id", "", "user id (required)")
		tier       = flag.String("tier", "", "membership tier: free, subscription, credits")
		grant      = flag.Int("credits", 0, "credits to add to the balance")
		quota      = flag.Int("quota", -1, "set free generations remaining (-1 leaves unchanged)")
		subDays    = flag.Int("sub-days", 0, "extend subscription end date by this many days")
		reason     = flag.String("reason", "operator grant", "ledger description for granted credits")
		timeoutSec = flag.Int("timeout", 10, "operation timeout in seconds")
	)
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "grantcredits: -id is required")
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		fail("load config: %v", err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*timeoutSec)*time.Second)
	defer cancel()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		fail("connect database: %v", err)
	}
	defer dbpool.Close()

	profiles := repo.NewProfileRepository(dbpool)
	ledger := repo.NewLedgerRepository(dbpool)
	creditSvc := credits.NewService(profiles, ledger, logger)

	profile, err := profiles.GetByID(ctx, *userID)
	if err != nil {
		// First grant for a new user creates the profile.
		profile = &domain.UserProfile{
			ID:             *userID,
			MembershipTier: domain.TierFree,
		}
	}

	if *tier != "" {
		t := domain.MembershipTier(*tier)
		switch t {
		case domain.TierFree, domain.TierSubscription, domain.TierCredits:
			profile.MembershipTier = t
		default:
			fail("unknown tier %q", *tier)
		}
	}
	if *quota >= 0 {
		profile.FreeGenerationsRemaining = *quota
	}
	if *subDays > 0 {
		end := time.Now().AddDate(0, 0, *subDays)
		if profile.SubscriptionEndDate != nil && profile.SubscriptionEndDate.After(time.Now()) {
			end = profile.SubscriptionEndDate.AddDate(0, 0, *subDays)
		}
		profile.SubscriptionEndDate = &end
	}

	updated, err := profiles.Upsert(ctx, profile)
	if err != nil {
		fail("upsert profile: %v", err)
	}

	balance := updated.Credits
	if *grant > 0 {
		balance, err = creditSvc.Purchase(ctx, *userID, *grant, *reason)
		if err != nil {
			fail("grant credits: %v", err)
		}
	}

	logger.Info().
		Str("user_id", updated.ID).
		Str("tier", string(updated.MembershipTier)).
		Int("balance", balance).
		Int("free_remaining", updated.FreeGenerationsRemaining).
		Msg("profile updated")
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "grantcredits: "+format+"\n", args...)
	os.Exit(1)
}
