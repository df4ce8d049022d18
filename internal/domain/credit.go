package domain

import "time"

// CreditEntryType classifies ledger entries.
type CreditEntryType string

const (
	CreditEntryUsage     CreditEntryType = "usage"
	CreditEntryRefund    CreditEntryType = "refund"
	CreditEntryPurchase  CreditEntryType = "purchase"
	CreditEntryDeduction CreditEntryType = "deduction"
)

// CreditEntry is one append-only, balance-affecting event. Negative amounts
// are spends, positive amounts are refunds or purchases. BalanceAfter is a
// snapshot; the ledger is the audit trail, the profile balance is the cache.
type CreditEntry struct {
	ID           string
	UserID       string
	Amount       int
	Type         CreditEntryType
	BalanceAfter int
	TaskID       *string
	Description  string
	CreatedAt    time.Time
}
