package storage

import (
	"context"
	"time"

	"server/internal/domain"
)

// RenewalGrant carries everything the renewal transaction writes: the invoice
// dedup marker, the balance increment and ledger entry, the plan fields, and
// the event dedup marker. Implementations must apply it all-or-nothing.
type RenewalGrant struct {
	EventID        string
	EventType      string
	InvoiceID      string
	UserID         string
	Plan           string
	Credits        int
	RenewAt        time.Time
	SubscriptionID string
}

// Store is the transactional row store behind the job lifecycle, the credit
// ledger and the billing dedup tables. Two implementations exist: Postgres
// for production and an in-memory store for tests and local development.
type Store interface {
	// Users.
	UpsertUser(ctx context.Context, id, email, locale string, welcomeCredits int) (created bool, err error)
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByCustomerID(ctx context.Context, customerID string) (*domain.User, error)
	LinkStripeCustomer(ctx context.Context, userID, customerID string) error
	ClearPlan(ctx context.Context, userID string) error

	// Credit ledger. DebitOne returns false, without any write, when the user
	// has no credit left; it must behave under concurrent calls such that at
	// most one caller succeeds per remaining credit.
	DebitOne(ctx context.Context, userID, taskID string) (bool, error)
	Refund(ctx context.Context, userID, taskID string) error
	Grant(ctx context.Context, userID string, amount int, reason domain.LedgerReason, relatedID string) error
	Balance(ctx context.Context, userID string) (int, error)
	LedgerEntries(ctx context.Context, userID string, limit int) ([]domain.LedgerEntry, error)

	// Jobs. CreateJob inserts the job/video pair. FinalizeJob is the terminal
	// compare-and-set: it returns false when the job is already terminal and
	// performs no write in that case. RekeyJob renames the placeholder task id
	// on both records atomically and moves the job to PROCESSING.
	CreateJob(ctx context.Context, userID, taskID, prompt string) (*domain.Job, error)
	GetJob(ctx context.Context, taskID string) (*domain.Job, error)
	GetVideo(ctx context.Context, taskID string) (*domain.Video, error)
	FinalizeJob(ctx context.Context, taskID string, status domain.JobStatus, errorReason string, result *domain.VideoResult) (bool, error)
	ApplyVideoResult(ctx context.Context, taskID string, result domain.VideoResult) error
	RekeyJob(ctx context.Context, oldTaskID, newTaskID string) error
	ListProcessingJobs(ctx context.Context) ([]domain.Job, error)
	CreateOrphanJob(ctx context.Context, taskID string, status domain.JobStatus, errorReason string, result *domain.VideoResult) error

	// Billing dedup.
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
	ApplyRenewal(ctx context.Context, grant RenewalGrant) (applied bool, err error)
}
