package reconcile

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"server/internal/domain"
	"server/internal/providers/kie"
	"server/internal/storage"
)

const testInterval = time.Millisecond

type stubFetcher struct {
	mu      sync.Mutex
	calls   int
	record  *kie.Record
	readyAt int // call number from which record is returned; 0 means never
	err     error
}

func (s *stubFetcher) FetchRecord(ctx context.Context, taskID string) (*kie.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.readyAt > 0 && s.calls >= s.readyAt && s.record != nil {
		return s.record, nil
	}
	return &kie.Record{}, nil
}

func (s *stubFetcher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func waitForTerminal(t *testing.T, store *storage.MemoryStore, taskID string) *domain.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetJob(context.Background(), taskID)
		if err == nil && job.Status.Terminal() {
			return job
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return nil
}

func TestPollerFinalizesOnResult(t *testing.T) {
	store := storage.NewMemoryStore()
	f := NewFinalizer(store, testLogger())
	fetcher := &stubFetcher{
		readyAt: 2,
		record:  &kie.Record{ResultURLs: []string{"https://cdn/v.mp4"}, Resolution: "1080p"},
	}
	p := NewPoller(f, fetcher, store, testLogger(), testInterval, 100)
	newJob(t, store, "task-1")

	p.Start("task-1")
	job := waitForTerminal(t, store, "task-1")
	p.Shutdown()

	if job.Status != domain.JobStatusReady {
		t.Fatalf("expected READY, got %s (%s)", job.Status, job.ErrorReason)
	}
	video, err := store.GetVideo(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("GetVideo error: %v", err)
	}
	if video.VideoURL != "https://cdn/v.mp4" || video.Resolution != "1080p" {
		t.Fatalf("result not applied: %+v", video)
	}
}

func TestPollerExhaustsAttempts(t *testing.T) {
	store := storage.NewMemoryStore()
	f := NewFinalizer(store, testLogger())
	fetcher := &stubFetcher{} // never ready
	const maxAttempts = 3
	p := NewPoller(f, fetcher, store, testLogger(), testInterval, maxAttempts)
	newJob(t, store, "task-1")

	p.Start("task-1")
	job := waitForTerminal(t, store, "task-1")
	p.Shutdown()

	if job.Status != domain.JobStatusFailed {
		t.Fatalf("expected FAILED, got %s", job.Status)
	}
	if !strings.Contains(job.ErrorReason, "exhausted") {
		t.Fatalf("unexpected reason %q", job.ErrorReason)
	}
	if got := fetcher.callCount(); got != maxAttempts {
		t.Fatalf("expected exactly %d lookups, got %d", maxAttempts, got)
	}
}

func TestPollerExhaustionKeepsLastError(t *testing.T) {
	store := storage.NewMemoryStore()
	f := NewFinalizer(store, testLogger())
	fetcher := &stubFetcher{err: errors.New("record lookup boom")}
	p := NewPoller(f, fetcher, store, testLogger(), testInterval, 2)
	newJob(t, store, "task-1")

	p.Start("task-1")
	job := waitForTerminal(t, store, "task-1")
	p.Shutdown()

	if job.Status != domain.JobStatusFailed {
		t.Fatalf("expected FAILED, got %s", job.Status)
	}
	if !strings.Contains(job.ErrorReason, "record lookup boom") {
		t.Fatalf("last error not preserved: %q", job.ErrorReason)
	}
}

func TestPollerStopsAfterWebhookWin(t *testing.T) {
	store := storage.NewMemoryStore()
	f := NewFinalizer(store, testLogger())
	fetcher := &stubFetcher{} // never ready, so only the webhook can finish it
	p := NewPoller(f, fetcher, store, testLogger(), testInterval, 1_000_000)
	newJob(t, store, "task-1")

	p.Start("task-1")
	won, err := f.Apply(context.Background(), "task-1", SuccessOutcome("https://cdn/v.mp4", "", false))
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if !won {
		t.Fatal("webhook apply must win")
	}
	// Apply cancelled the loop; Shutdown just waits for it to drain.
	p.Shutdown()

	job, _ := store.GetJob(context.Background(), "task-1")
	if job.Status != domain.JobStatusReady {
		t.Fatalf("poller overwrote webhook outcome: %s", job.Status)
	}
	if p.ActiveCount() != 0 {
		t.Fatalf("loop still registered: %d", p.ActiveCount())
	}
}

func TestPollerStartIdempotent(t *testing.T) {
	store := storage.NewMemoryStore()
	f := NewFinalizer(store, testLogger())
	p := NewPoller(f, &stubFetcher{}, store, testLogger(), time.Hour, 10)
	newJob(t, store, "task-1")

	p.Start("task-1")
	p.Start("task-1")
	if p.ActiveCount() != 1 {
		t.Fatalf("expected one loop, got %d", p.ActiveCount())
	}
	p.Shutdown()
}

func TestPollerCancelIdempotent(t *testing.T) {
	store := storage.NewMemoryStore()
	f := NewFinalizer(store, testLogger())
	p := NewPoller(f, &stubFetcher{}, store, testLogger(), time.Hour, 10)
	newJob(t, store, "task-1")

	p.Start("task-1")
	p.Cancel("task-1")
	p.Cancel("task-1")
	p.Cancel("never-started")
	p.Shutdown()
	if p.ActiveCount() != 0 {
		t.Fatalf("expected no loops, got %d", p.ActiveCount())
	}
}

func TestPollerResume(t *testing.T) {
	store := storage.NewMemoryStore()
	f := NewFinalizer(store, testLogger())
	p := NewPoller(f, &stubFetcher{}, store, testLogger(), time.Hour, 10)
	newJob(t, store, "task-1")
	newJob(t, store, "task-2")

	if err := p.Resume(context.Background()); err != nil {
		t.Fatalf("Resume error: %v", err)
	}
	if p.ActiveCount() != 2 {
		t.Fatalf("expected two resumed loops, got %d", p.ActiveCount())
	}
	p.Shutdown()
}
