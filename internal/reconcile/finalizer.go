// Package reconcile moves jobs to their terminal state from two independent
// signal sources: the provider webhook and the record-lookup polling loop.
// Both paths funnel through the Finalizer, whose terminal transition is an
// atomic compare-and-set in the store, so exactly one path wins and the other
// observes a no-op.
package reconcile

import (
	"context"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/storage"
)

// Outcome describes what a reconciliation path observed for a task.
type Outcome struct {
	Success bool
	Reason  string
	Result  *domain.VideoResult
}

// SuccessOutcome builds a READY outcome from provider result fields.
func SuccessOutcome(url, resolution string, degraded bool) Outcome {
	return Outcome{Success: true, Result: &domain.VideoResult{URL: url, Resolution: resolution, Degraded: degraded}}
}

// FailureOutcome builds a FAILED outcome carrying the provider's message.
func FailureOutcome(reason string) Outcome {
	return Outcome{Success: false, Reason: reason}
}

// Finalizer applies terminal outcomes and cancels the losing polling loop.
type Finalizer struct {
	store  storage.Store
	logger zerolog.Logger
	poller *Poller
}

func NewFinalizer(store storage.Store, logger zerolog.Logger) *Finalizer {
	return &Finalizer{store: store, logger: logger}
}

// Apply attempts the terminal transition for taskID and reports whether this
// call won it. A false return with nil error means the job was already
// terminal; in that case a successful outcome's artifact fields are still
// re-applied to a video record that lacks them, without re-running any other
// side effect.
func (f *Finalizer) Apply(ctx context.Context, taskID string, oc Outcome) (bool, error) {
	status := domain.JobStatusFailed
	if oc.Success {
		status = domain.JobStatusReady
	}
	won, err := f.store.FinalizeJob(ctx, taskID, status, oc.Reason, oc.Result)
	if err != nil {
		return false, err
	}
	if !won {
		if oc.Success && oc.Result != nil && oc.Result.URL != "" {
			if err := f.store.ApplyVideoResult(ctx, taskID, *oc.Result); err != nil {
				f.logger.Warn().Err(err).Str("task_id", taskID).Msg("reconcile: reapply video result failed")
			}
		}
		f.logger.Debug().Str("task_id", taskID).Msg("reconcile: job already terminal")
		return false, nil
	}
	if f.poller != nil {
		f.poller.Cancel(taskID)
	}
	f.logger.Info().
		Str("task_id", taskID).
		Str("status", string(status)).
		Msg("reconcile: job finalized")
	return true, nil
}
