package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"server/internal/domain"
)

// MemoryStore implements Store with a single mutex guarding all state. It
// backs tests and the STORE_DRIVER=memory development mode. Holding one lock
// across each operation gives the same atomicity the Postgres statements do.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[string]*domain.User
	jobs     map[string]*domain.Job
	videos   map[string]*domain.Video
	ledger   []domain.LedgerEntry
	events   map[string]string
	invoices map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*domain.User),
		jobs:     make(map[string]*domain.Job),
		videos:   make(map[string]*domain.Video),
		events:   make(map[string]string),
		invoices: make(map[string]string),
	}
}

func (s *MemoryStore) UpsertUser(_ context.Context, id, email, locale string, welcomeCredits int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.Email = email
		u.UpdatedAt = time.Now()
		return false, nil
	}
	now := time.Now()
	s.users[id] = &domain.User{
		ID:               id,
		Email:            email,
		Locale:           locale,
		CreditsRemaining: welcomeCredits,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if welcomeCredits > 0 {
		s.appendEntry(id, welcomeCredits, domain.LedgerReasonWelcome, "")
	}
	return true, nil
}

// appendEntry must be called with the lock held.
func (s *MemoryStore) appendEntry(userID string, delta int, reason domain.LedgerReason, relatedID string) {
	s.ledger = append(s.ledger, domain.LedgerEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Delta:     delta,
		Reason:    reason,
		RelatedID: relatedID,
		CreatedAt: time.Now(),
	})
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) GetUserByCustomerID(_ context.Context, customerID string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.StripeCustomerID == customerID && customerID != "" {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *MemoryStore) LinkStripeCustomer(_ context.Context, userID, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return domain.ErrNotFound
	}
	u.StripeCustomerID = customerID
	u.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) ClearPlan(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return domain.ErrNotFound
	}
	u.ActivePlan = ""
	u.CreditsRenewAt = nil
	u.StripeSubscriptionID = ""
	u.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) DebitOne(_ context.Context, userID, taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if u.CreditsRemaining < 1 {
		return false, nil
	}
	u.CreditsRemaining--
	u.UpdatedAt = time.Now()
	s.appendEntry(userID, -1, domain.LedgerReasonVideoGeneration, taskID)
	return true, nil
}

func (s *MemoryStore) Refund(_ context.Context, userID, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return domain.ErrNotFound
	}
	u.CreditsRemaining++
	u.UpdatedAt = time.Now()
	s.appendEntry(userID, 1, domain.LedgerReasonRefund, taskID)
	return nil
}

func (s *MemoryStore) Grant(_ context.Context, userID string, amount int, reason domain.LedgerReason, relatedID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return domain.ErrNotFound
	}
	u.CreditsRemaining += amount
	u.UpdatedAt = time.Now()
	s.appendEntry(userID, amount, reason, relatedID)
	return nil
}

func (s *MemoryStore) Balance(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return u.CreditsRemaining, nil
}

func (s *MemoryStore) LedgerEntries(_ context.Context, userID string, limit int) ([]domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []domain.LedgerEntry
	for i := len(s.ledger) - 1; i >= 0 && len(entries) < limit; i-- {
		if s.ledger[i].UserID == userID {
			entries = append(entries, s.ledger[i])
		}
	}
	return entries, nil
}

func (s *MemoryStore) CreateJob(_ context.Context, userID, taskID, prompt string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[taskID]; ok {
		return nil, domain.ErrDuplicateOperation
	}
	now := time.Now()
	job := &domain.Job{
		ID:        uuid.NewString(),
		UserID:    userID,
		TaskID:    taskID,
		Status:    domain.JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.jobs[taskID] = job
	s.videos[taskID] = &domain.Video{
		TaskID:    taskID,
		UserID:    userID,
		Prompt:    prompt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) GetJob(_ context.Context, taskID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[taskID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) GetVideo(_ context.Context, taskID string) (*domain.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	video, ok := s.videos[taskID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *video
	return &cp, nil
}

func (s *MemoryStore) FinalizeJob(_ context.Context, taskID string, status domain.JobStatus, errorReason string, result *domain.VideoResult) (bool, error) {
	if !status.Terminal() {
		return false, domain.ErrTerminalState
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[taskID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if job.Status.Terminal() {
		return false, nil
	}
	job.Status = status
	job.ErrorReason = domain.TruncateReason(errorReason)
	job.UpdatedAt = time.Now()
	if status == domain.JobStatusReady && result != nil {
		s.applyResultLocked(taskID, *result, false)
	}
	return true, nil
}

// applyResultLocked must be called with the lock held. When onlyIfEmpty is
// set the result is applied only to a video that still lacks a URL.
func (s *MemoryStore) applyResultLocked(taskID string, result domain.VideoResult, onlyIfEmpty bool) {
	video, ok := s.videos[taskID]
	if !ok {
		return
	}
	if onlyIfEmpty && video.VideoURL != "" {
		return
	}
	if result.URL != "" {
		video.VideoURL = result.URL
	}
	if result.Resolution != "" {
		video.Resolution = result.Resolution
	}
	video.Degraded = result.Degraded
	video.UpdatedAt = time.Now()
}

func (s *MemoryStore) ApplyVideoResult(_ context.Context, taskID string, result domain.VideoResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyResultLocked(taskID, result, true)
	return nil
}

func (s *MemoryStore) RekeyJob(_ context.Context, oldTaskID, newTaskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, jobOK := s.jobs[oldTaskID]
	video, videoOK := s.videos[oldTaskID]
	if !jobOK || !videoOK {
		return domain.ErrNotFound
	}
	job.TaskID = newTaskID
	job.Status = domain.JobStatusProcessing
	job.UpdatedAt = time.Now()
	video.TaskID = newTaskID
	video.UpdatedAt = time.Now()
	delete(s.jobs, oldTaskID)
	delete(s.videos, oldTaskID)
	s.jobs[newTaskID] = job
	s.videos[newTaskID] = video
	return nil
}

func (s *MemoryStore) ListProcessingJobs(_ context.Context) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []domain.Job
	for _, job := range s.jobs {
		if job.Status == domain.JobStatusProcessing {
			jobs = append(jobs, *job)
		}
	}
	return jobs, nil
}

func (s *MemoryStore) CreateOrphanJob(_ context.Context, taskID string, status domain.JobStatus, errorReason string, result *domain.VideoResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[taskID]; ok {
		return nil
	}
	now := time.Now()
	s.jobs[taskID] = &domain.Job{
		ID:          uuid.NewString(),
		TaskID:      taskID,
		Status:      status,
		ErrorReason: domain.TruncateReason(errorReason),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.videos[taskID] = &domain.Video{TaskID: taskID, CreatedAt: now, UpdatedAt: now}
	if result != nil {
		s.applyResultLocked(taskID, *result, false)
	}
	return nil
}

func (s *MemoryStore) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.events[eventID]
	return ok, nil
}

func (s *MemoryStore) MarkEventProcessed(_ context.Context, eventID, eventType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[eventID]; !ok {
		s.events[eventID] = eventType
	}
	return nil
}

func (s *MemoryStore) ApplyRenewal(_ context.Context, grant RenewalGrant) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[grant.EventID]; !ok {
		s.events[grant.EventID] = grant.EventType
	}
	if _, ok := s.invoices[grant.InvoiceID]; ok {
		return false, nil
	}
	u, ok := s.users[grant.UserID]
	if !ok {
		return false, domain.ErrNotFound
	}
	s.invoices[grant.InvoiceID] = grant.UserID
	u.CreditsRemaining += grant.Credits
	u.ActivePlan = grant.Plan
	renewAt := grant.RenewAt
	u.CreditsRenewAt = &renewAt
	u.StripeSubscriptionID = grant.SubscriptionID
	u.UpdatedAt = time.Now()
	s.appendEntry(grant.UserID, grant.Credits, domain.LedgerReasonRenewal, grant.InvoiceID)
	return true, nil
}

var _ Store = (*MemoryStore)(nil)
