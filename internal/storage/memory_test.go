package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"server/internal/domain"
)

func seedUser(t *testing.T, s *MemoryStore, id string, credits int) {
	t.Helper()
	created, err := s.UpsertUser(context.Background(), id, "", "en", credits)
	if err != nil {
		t.Fatalf("UpsertUser error: %v", err)
	}
	if !created {
		t.Fatalf("expected fresh user %s", id)
	}
}

func TestUpsertUserWelcomeOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedUser(t, s, "u1", 1)

	created, err := s.UpsertUser(ctx, "u1", "u1@example.com", "en", 1)
	if err != nil {
		t.Fatalf("UpsertUser error: %v", err)
	}
	if created {
		t.Fatal("second upsert must not report a fresh user")
	}
	balance, err := s.Balance(ctx, "u1")
	if err != nil {
		t.Fatalf("Balance error: %v", err)
	}
	if balance != 1 {
		t.Fatalf("welcome credit granted twice, balance %d", balance)
	}
	entries, err := s.LedgerEntries(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("LedgerEntries error: %v", err)
	}
	if len(entries) != 1 || entries[0].Reason != domain.LedgerReasonWelcome {
		t.Fatalf("expected exactly one welcome entry, got %+v", entries)
	}
}

func TestDebitOneConcurrent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	const credits = 5
	const attempts = 50
	seedUser(t, s, "u1", credits)

	var wg sync.WaitGroup
	results := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ok, err := s.DebitOne(ctx, "u1", fmt.Sprintf("task-%d", n))
			if err != nil {
				t.Errorf("DebitOne error: %v", err)
				return
			}
			results <- ok
		}(i)
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for ok := range results {
		if ok {
			succeeded++
		}
	}
	if succeeded != credits {
		t.Fatalf("expected exactly %d successful debits, got %d", credits, succeeded)
	}
	balance, err := s.Balance(ctx, "u1")
	if err != nil {
		t.Fatalf("Balance error: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected zero balance, got %d", balance)
	}
}

func TestLedgerMatchesBalance(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedUser(t, s, "u1", 2)

	if ok, _ := s.DebitOne(ctx, "u1", "t1"); !ok {
		t.Fatal("debit should succeed")
	}
	if err := s.Refund(ctx, "u1", "t1"); err != nil {
		t.Fatalf("Refund error: %v", err)
	}
	if err := s.Grant(ctx, "u1", 3, domain.LedgerReasonPromo, "promo-1"); err != nil {
		t.Fatalf("Grant error: %v", err)
	}

	entries, err := s.LedgerEntries(ctx, "u1", 100)
	if err != nil {
		t.Fatalf("LedgerEntries error: %v", err)
	}
	sum := 0
	for _, e := range entries {
		sum += e.Delta
	}
	balance, _ := s.Balance(ctx, "u1")
	if sum != balance {
		t.Fatalf("ledger sum %d does not match balance %d", sum, balance)
	}
}

func TestFinalizeJobCAS(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedUser(t, s, "u1", 1)
	if _, err := s.CreateJob(ctx, "u1", "task-1", "a prompt"); err != nil {
		t.Fatalf("CreateJob error: %v", err)
	}

	won, err := s.FinalizeJob(ctx, "task-1", domain.JobStatusReady, "", &domain.VideoResult{URL: "https://cdn/x.mp4", Resolution: "1080p"})
	if err != nil {
		t.Fatalf("FinalizeJob error: %v", err)
	}
	if !won {
		t.Fatal("first finalize must win")
	}

	won, err = s.FinalizeJob(ctx, "task-1", domain.JobStatusFailed, "late failure", nil)
	if err != nil {
		t.Fatalf("FinalizeJob error: %v", err)
	}
	if won {
		t.Fatal("second finalize must lose")
	}

	job, err := s.GetJob(ctx, "task-1")
	if err != nil {
		t.Fatalf("GetJob error: %v", err)
	}
	if job.Status != domain.JobStatusReady {
		t.Fatalf("terminal status overwritten: %s", job.Status)
	}
	if job.ErrorReason != "" {
		t.Fatalf("loser wrote an error reason: %q", job.ErrorReason)
	}
	video, err := s.GetVideo(ctx, "task-1")
	if err != nil {
		t.Fatalf("GetVideo error: %v", err)
	}
	if video.VideoURL != "https://cdn/x.mp4" {
		t.Fatalf("video url not applied: %q", video.VideoURL)
	}
}

func TestFinalizeJobConcurrent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedUser(t, s, "u1", 1)
	if _, err := s.CreateJob(ctx, "u1", "task-1", "p"); err != nil {
		t.Fatalf("CreateJob error: %v", err)
	}

	const racers = 20
	var wg sync.WaitGroup
	wins := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			status := domain.JobStatusReady
			if n%2 == 1 {
				status = domain.JobStatusFailed
			}
			won, err := s.FinalizeJob(ctx, "task-1", status, "", nil)
			if err != nil {
				t.Errorf("FinalizeJob error: %v", err)
				return
			}
			wins <- won
		}(i)
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestFinalizeJobRejectsNonTerminal(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedUser(t, s, "u1", 1)
	if _, err := s.CreateJob(ctx, "u1", "task-1", "p"); err != nil {
		t.Fatalf("CreateJob error: %v", err)
	}
	if _, err := s.FinalizeJob(ctx, "task-1", domain.JobStatusProcessing, "", nil); err == nil {
		t.Fatal("finalizing to a non-terminal status must error")
	}
}

func TestFinalizeTruncatesReason(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedUser(t, s, "u1", 1)
	if _, err := s.CreateJob(ctx, "u1", "task-1", "p"); err != nil {
		t.Fatalf("CreateJob error: %v", err)
	}
	long := make([]byte, domain.MaxErrorReasonLen*2)
	for i := range long {
		long[i] = 'x'
	}
	if _, err := s.FinalizeJob(ctx, "task-1", domain.JobStatusFailed, string(long), nil); err != nil {
		t.Fatalf("FinalizeJob error: %v", err)
	}
	job, _ := s.GetJob(ctx, "task-1")
	if len(job.ErrorReason) != domain.MaxErrorReasonLen {
		t.Fatalf("reason not truncated, len %d", len(job.ErrorReason))
	}
}

func TestApplyVideoResultOnlyWhenEmpty(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedUser(t, s, "u1", 1)
	if _, err := s.CreateJob(ctx, "u1", "task-1", "p"); err != nil {
		t.Fatalf("CreateJob error: %v", err)
	}
	if err := s.ApplyVideoResult(ctx, "task-1", domain.VideoResult{URL: "https://cdn/a.mp4"}); err != nil {
		t.Fatalf("ApplyVideoResult error: %v", err)
	}
	if err := s.ApplyVideoResult(ctx, "task-1", domain.VideoResult{URL: "https://cdn/b.mp4"}); err != nil {
		t.Fatalf("ApplyVideoResult error: %v", err)
	}
	video, _ := s.GetVideo(ctx, "task-1")
	if video.VideoURL != "https://cdn/a.mp4" {
		t.Fatalf("existing url overwritten: %q", video.VideoURL)
	}
}

func TestRekeyJobMovesBothRecords(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedUser(t, s, "u1", 1)
	if _, err := s.CreateJob(ctx, "u1", "pending-abc", "p"); err != nil {
		t.Fatalf("CreateJob error: %v", err)
	}
	if err := s.RekeyJob(ctx, "pending-abc", "prov-123"); err != nil {
		t.Fatalf("RekeyJob error: %v", err)
	}

	if _, err := s.GetJob(ctx, "pending-abc"); err == nil {
		t.Fatal("old task id must be gone")
	}
	job, err := s.GetJob(ctx, "prov-123")
	if err != nil {
		t.Fatalf("GetJob error: %v", err)
	}
	if job.Status != domain.JobStatusProcessing {
		t.Fatalf("rekey must move job to PROCESSING, got %s", job.Status)
	}
	video, err := s.GetVideo(ctx, "prov-123")
	if err != nil {
		t.Fatalf("video not rekeyed: %v", err)
	}
	if video.TaskID != "prov-123" {
		t.Fatalf("video task id %q", video.TaskID)
	}
}

func TestRekeyJobMissing(t *testing.T) {
	s := NewMemoryStore()
	if err := s.RekeyJob(context.Background(), "nope", "prov-1"); err == nil {
		t.Fatal("rekeying a missing job must error")
	}
}

func TestListProcessingJobs(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedUser(t, s, "u1", 3)
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("pending-%d", i)
		if _, err := s.CreateJob(ctx, "u1", id, "p"); err != nil {
			t.Fatalf("CreateJob error: %v", err)
		}
		if err := s.RekeyJob(ctx, id, fmt.Sprintf("prov-%d", i)); err != nil {
			t.Fatalf("RekeyJob error: %v", err)
		}
	}
	if _, err := s.FinalizeJob(ctx, "prov-0", domain.JobStatusReady, "", nil); err != nil {
		t.Fatalf("FinalizeJob error: %v", err)
	}

	jobs, err := s.ListProcessingJobs(ctx)
	if err != nil {
		t.Fatalf("ListProcessingJobs error: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 processing jobs, got %d", len(jobs))
	}
}

func TestApplyRenewalInvoiceDedup(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedUser(t, s, "u1", 0)

	grant := RenewalGrant{
		EventID:   "evt_1",
		EventType: "invoice.payment_succeeded",
		InvoiceID: "in_1",
		UserID:    "u1",
		Plan:      "basic",
		Credits:   30,
		RenewAt:   time.Now().Add(30 * 24 * time.Hour),
	}
	applied, err := s.ApplyRenewal(ctx, grant)
	if err != nil {
		t.Fatalf("ApplyRenewal error: %v", err)
	}
	if !applied {
		t.Fatal("first grant must apply")
	}

	// Same invoice under a different event id.
	grant.EventID = "evt_2"
	grant.EventType = "invoice.paid"
	applied, err = s.ApplyRenewal(ctx, grant)
	if err != nil {
		t.Fatalf("ApplyRenewal error: %v", err)
	}
	if applied {
		t.Fatal("duplicate invoice must not grant again")
	}

	balance, _ := s.Balance(ctx, "u1")
	if balance != 30 {
		t.Fatalf("expected 30 credits, got %d", balance)
	}
	for _, id := range []string{"evt_1", "evt_2"} {
		processed, _ := s.IsEventProcessed(ctx, id)
		if !processed {
			t.Fatalf("event %s not marked processed", id)
		}
	}
	user, _ := s.GetUser(ctx, "u1")
	if user.ActivePlan != "basic" || user.CreditsRenewAt == nil {
		t.Fatalf("plan fields not applied: %+v", user)
	}
}

func TestCreateOrphanJob(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	result := &domain.VideoResult{URL: "https://cdn/o.mp4", Resolution: "720p", Degraded: true}
	if err := s.CreateOrphanJob(ctx, "ghost-1", domain.JobStatusReady, "", result); err != nil {
		t.Fatalf("CreateOrphanJob error: %v", err)
	}
	job, err := s.GetJob(ctx, "ghost-1")
	if err != nil {
		t.Fatalf("GetJob error: %v", err)
	}
	if job.UserID != "" {
		t.Fatalf("orphan must not be attributed to a user, got %q", job.UserID)
	}
	if job.Status != domain.JobStatusReady {
		t.Fatalf("status %s", job.Status)
	}
	video, _ := s.GetVideo(ctx, "ghost-1")
	if video.VideoURL != result.URL || !video.Degraded {
		t.Fatalf("orphan result not applied: %+v", video)
	}
	// Recording the same orphan again is a no-op.
	if err := s.CreateOrphanJob(ctx, "ghost-1", domain.JobStatusFailed, "late", nil); err != nil {
		t.Fatalf("CreateOrphanJob error: %v", err)
	}
	job, _ = s.GetJob(ctx, "ghost-1")
	if job.Status != domain.JobStatusReady {
		t.Fatalf("orphan overwritten: %s", job.Status)
	}
}
