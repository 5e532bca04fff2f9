package domain

import "time"

// LedgerReason enumerates why a credit ledger entry was written.
type LedgerReason string

const (
	LedgerReasonVideoGeneration LedgerReason = "video_generation"
	LedgerReasonRefund          LedgerReason = "refund"
	LedgerReasonWelcome         LedgerReason = "welcome"
	LedgerReasonPromo           LedgerReason = "promo"
	LedgerReasonRenewal         LedgerReason = "subscription_renewal"
)

// LedgerEntry is an immutable, append-only record of a balance change.
// The user's balance must always equal the sum of their entry deltas; the
// denormalized balance column is a cache updated in the same transaction as
// the entry insert.
type LedgerEntry struct {
	ID        string
	UserID    string
	Delta     int
	Reason    LedgerReason
	RelatedID string
	CreatedAt time.Time
}
