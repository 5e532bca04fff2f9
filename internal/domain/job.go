package domain

import "time"

// JobStatus enumerates generation job lifecycle states.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "QUEUED"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusReady      JobStatus = "READY"
	JobStatusFailed     JobStatus = "FAILED"
)

// Terminal reports whether the status permits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusReady || s == JobStatusFailed
}

// MaxErrorReasonLen bounds the failure reason persisted with a job.
const MaxErrorReasonLen = 500

// Job encapsulates the lifecycle of a single external video generation task.
// TaskID starts as a locally generated placeholder and is rekeyed exactly once
// to the provider-assigned identifier when the provider accepts the request.
type Job struct {
	ID          string
	UserID      string
	TaskID      string
	Status      JobStatus
	ErrorReason string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TruncateReason bounds an error message before it is stored on a job.
func TruncateReason(reason string) string {
	if len(reason) <= MaxErrorReasonLen {
		return reason
	}
	return reason[:MaxErrorReasonLen]
}
