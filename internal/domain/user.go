package domain

import "time"

// User represents an authenticated account within the platform.
// Plan and renewal fields are mutated only by the billing event processor.
type User struct {
	ID                   string
	Email                string
	Locale               string
	CreditsRemaining     int
	ActivePlan           string
	CreditsRenewAt       *time.Time
	StripeCustomerID     string
	StripeSubscriptionID string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// HasPlan reports whether the user currently holds an active subscription.
func (u User) HasPlan() bool {
	return u.ActivePlan != ""
}
