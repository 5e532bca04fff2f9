package domain

import "time"

// Video holds the user-facing artifact paired 1:1 with a Job by task id.
// It is created alongside the job at submission time and mutated only by the
// reconciliation path that observes success.
type Video struct {
	TaskID     string
	UserID     string
	Prompt     string
	VideoURL   string
	Resolution string
	Degraded   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// VideoResult carries the provider-reported artifact fields applied to a
// Video when a job completes successfully.
type VideoResult struct {
	URL        string
	Resolution string
	Degraded   bool
}
