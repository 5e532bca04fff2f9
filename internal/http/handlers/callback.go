package handlers

import (
	"errors"
	"io"
	"net/http"

	"server/internal/domain"
	"server/internal/providers/kie"
	"server/internal/reconcile"
)

const maxCallbackBody = 1 << 20

// KieCallback receives the provider's completion webhook, the primary
// completion signal. The terminal transition is a compare-and-set, so a
// replayed callback or a lost race against the polling loop degrades to a
// no-op rather than a second transition.
func (a *App) KieCallback(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable payload")
		return
	}
	cb, err := kie.ParseCallback(raw)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid callback payload")
		return
	}

	var oc reconcile.Outcome
	switch {
	case cb.Success && len(cb.ResultURLs) > 0:
		oc = reconcile.SuccessOutcome(cb.ResultURLs[0], cb.Resolution, cb.Degraded)
	case cb.Success:
		oc = reconcile.FailureOutcome("callback reported success without result urls")
	default:
		reason := cb.Message
		if reason == "" {
			reason = "provider reported failure"
		}
		oc = reconcile.FailureOutcome(reason)
	}

	ctx := r.Context()
	if _, err := a.Store.GetJob(ctx, cb.TaskID); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
			return
		}
		// Callback for a task this process never submitted: record it rather
		// than erroring so an out-of-order delivery is not lost. The job has
		// no user attribution, which the orphan_callback marker surfaces for
		// operator review.
		status := domain.JobStatusFailed
		if oc.Success {
			status = domain.JobStatusReady
		}
		if err := a.Store.CreateOrphanJob(ctx, cb.TaskID, status, oc.Reason, oc.Result); err != nil {
			a.Logger.Error().Err(err).Str("task_id", cb.TaskID).Msg("callback: record orphan failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to record callback")
			return
		}
		a.Logger.Warn().
			Str("marker", "orphan_callback").
			Str("task_id", cb.TaskID).
			Str("status", string(status)).
			Msg("callback: task id has no local job")
		a.json(w, http.StatusOK, map[string]any{"received": true, "orphan": true})
		return
	}

	won, err := a.Finalizer.Apply(ctx, cb.TaskID, oc)
	if err != nil {
		a.Logger.Error().Err(err).Str("task_id", cb.TaskID).Msg("callback: finalize failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to apply callback")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"received": true, "applied": won})
}
