package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/providers/kie"
	"server/internal/storage"
)

// Fetcher is the slice of the provider client the polling loop needs.
type Fetcher interface {
	FetchRecord(ctx context.Context, taskID string) (*kie.Record, error)
}

// Poller runs one self-rescheduling loop per task id as the fallback
// completion path behind the provider webhook. The registry is in-memory and
// per-process: a restart orphans in-flight loops, which Resume mitigates by
// re-arming every PROCESSING job. The webhook remains the primary signal.
type Poller struct {
	fetcher     Fetcher
	finalizer   *Finalizer
	store       storage.Store
	logger      zerolog.Logger
	interval    time.Duration
	maxAttempts int

	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

// NewPoller wires the poller and registers it with the finalizer so that a
// webhook win cancels the matching loop.
func NewPoller(finalizer *Finalizer, fetcher Fetcher, store storage.Store, logger zerolog.Logger, interval time.Duration, maxAttempts int) *Poller {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	p := &Poller{
		fetcher:     fetcher,
		finalizer:   finalizer,
		store:       store,
		logger:      logger,
		interval:    interval,
		maxAttempts: maxAttempts,
		active:      make(map[string]context.CancelFunc),
	}
	finalizer.poller = p
	return p
}

// Start arms the polling loop for a task. Starting an already-armed task is a
// no-op.
func (p *Poller) Start(taskID string) {
	p.mu.Lock()
	if _, ok := p.active[taskID]; ok {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.active[taskID] = cancel
	p.wg.Add(1)
	p.mu.Unlock()

	go p.run(ctx, taskID)
}

// Cancel signals the loop for taskID to stop without writing any state.
// Cancelling twice, or after the loop finished on its own, is harmless.
func (p *Poller) Cancel(taskID string) {
	p.mu.Lock()
	cancel, ok := p.active[taskID]
	if ok {
		delete(p.active, taskID)
	}
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

// Resume re-arms polling for every PROCESSING job. Called at startup to pick
// up jobs whose loops were lost to a restart.
func (p *Poller) Resume(ctx context.Context) error {
	jobs, err := p.store.ListProcessingJobs(ctx)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		p.Start(job.TaskID)
	}
	if len(jobs) > 0 {
		p.logger.Info().Int("count", len(jobs)).Msg("poller: resumed in-flight jobs")
	}
	return nil
}

// Shutdown cancels all loops and waits for them to drain.
func (p *Poller) Shutdown() {
	p.mu.Lock()
	for taskID, cancel := range p.active {
		delete(p.active, taskID)
		cancel()
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// ActiveCount reports the number of armed loops.
func (p *Poller) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

func (p *Poller) run(ctx context.Context, taskID string) {
	defer p.wg.Done()
	defer p.Cancel(taskID)

	bo := backoff.NewConstantBackOff(p.interval)
	lastErr := ""
	for attempt := 1; ; attempt++ {
		job, err := p.store.GetJob(ctx, taskID)
		if err == nil && job.Status.Terminal() {
			return // webhook won
		}

		record, err := p.fetcher.FetchRecord(ctx, taskID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			lastErr = err.Error()
			p.logger.Warn().Err(err).Str("task_id", taskID).Int("attempt", attempt).Msg("poller: record lookup failed")
		case len(record.ResultURLs) > 0:
			// Re-check cancellation at the last moment; the compare-and-set in
			// the store is the authoritative guard either way.
			if ctx.Err() != nil {
				return
			}
			oc := SuccessOutcome(record.ResultURLs[0], record.Resolution, record.Degraded)
			if _, err := p.finalizer.Apply(ctx, taskID, oc); err != nil {
				p.logger.Error().Err(err).Str("task_id", taskID).Msg("poller: finalize failed")
			}
			return
		}

		if attempt >= p.maxAttempts {
			if ctx.Err() != nil {
				return
			}
			reason := "polling attempts exhausted waiting for provider result"
			if lastErr != "" {
				reason = domain.TruncateReason(lastErr)
			}
			if _, err := p.finalizer.Apply(ctx, taskID, FailureOutcome(reason)); err != nil {
				p.logger.Error().Err(err).Str("task_id", taskID).Msg("poller: finalize failed")
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(bo.NextBackOff()):
		}
	}
}
