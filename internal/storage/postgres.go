package storage

import (
	"context"
	"fmt"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/sqlinline"
)

// PostgresStore implements Store on top of the markered inline SQL in
// internal/sqlinline. Every multi-write contract (debit, rekey, finalize,
// renewal) is a single CTE statement, so statement-level atomicity from
// Postgres is the transaction boundary.
type PostgresStore struct {
	sql infra.SQLExecutor
}

func NewPostgresStore(sql infra.SQLExecutor) *PostgresStore {
	return &PostgresStore{sql: sql}
}

func (s *PostgresStore) UpsertUser(ctx context.Context, id, email, locale string, welcomeCredits int) (bool, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QUpsertUserWithWelcome, id, email, locale, welcomeCredits)
	var userID string
	var created bool
	if err := row.Scan(&userID, &created); err != nil {
		return false, fmt.Errorf("upsert user: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return s.scanUser(s.sql.QueryRow(ctx, sqlinline.QSelectUser, id))
}

func (s *PostgresStore) GetUserByCustomerID(ctx context.Context, customerID string) (*domain.User, error) {
	return s.scanUser(s.sql.QueryRow(ctx, sqlinline.QSelectUserByCustomer, customerID))
}

func (s *PostgresStore) scanUser(row interface{ Scan(dest ...any) error }) (*domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID, &u.Email, &u.Locale, &u.CreditsRemaining, &u.ActivePlan,
		&u.CreditsRenewAt, &u.StripeCustomerID, &u.StripeSubscriptionID,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) LinkStripeCustomer(ctx context.Context, userID, customerID string) error {
	tag, err := s.sql.Exec(ctx, sqlinline.QLinkStripeCustomer, userID, customerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ClearPlan(ctx context.Context, userID string) error {
	tag, err := s.sql.Exec(ctx, sqlinline.QClearPlan, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DebitOne(ctx context.Context, userID, taskID string) (bool, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QDebitOneCredit, userID, taskID)
	var debited bool
	if err := row.Scan(&debited); err != nil {
		return false, fmt.Errorf("debit credit: %w", err)
	}
	return debited, nil
}

func (s *PostgresStore) Refund(ctx context.Context, userID, taskID string) error {
	row := s.sql.QueryRow(ctx, sqlinline.QRefundCredit, userID, taskID)
	var refunded bool
	if err := row.Scan(&refunded); err != nil {
		return fmt.Errorf("refund credit: %w", err)
	}
	if !refunded {
		return domain.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Grant(ctx context.Context, userID string, amount int, reason domain.LedgerReason, relatedID string) error {
	row := s.sql.QueryRow(ctx, sqlinline.QGrantCredits, userID, amount, string(reason), relatedID)
	var granted bool
	if err := row.Scan(&granted); err != nil {
		return fmt.Errorf("grant credits: %w", err)
	}
	if !granted {
		return domain.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Balance(ctx context.Context, userID string) (int, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectBalance, userID)
	var balance int
	if err := row.Scan(&balance); err != nil {
		if infra.IsNoRows(err) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("select balance: %w", err)
	}
	return balance, nil
}

func (s *PostgresStore) LedgerEntries(ctx context.Context, userID string, limit int) ([]domain.LedgerEntry, error) {
	rows, err := s.sql.Query(ctx, sqlinline.QSelectLedgerEntries, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("select ledger: %w", err)
	}
	defer rows.Close()
	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var reason string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Delta, &reason, &e.RelatedID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Reason = domain.LedgerReason(reason)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) CreateJob(ctx context.Context, userID, taskID, prompt string) (*domain.Job, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QInsertJobAndVideo, userID, taskID, prompt)
	var id string
	if err := row.Scan(&id); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return &domain.Job{ID: id, UserID: userID, TaskID: taskID, Status: domain.JobStatusQueued}, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, taskID string) (*domain.Job, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectJobByTask, taskID)
	var j domain.Job
	var status string
	err := row.Scan(&j.ID, &j.UserID, &j.TaskID, &status, &j.ErrorReason, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select job: %w", err)
	}
	j.Status = domain.JobStatus(status)
	return &j, nil
}

func (s *PostgresStore) GetVideo(ctx context.Context, taskID string) (*domain.Video, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectVideoByTask, taskID)
	var v domain.Video
	err := row.Scan(&v.TaskID, &v.UserID, &v.Prompt, &v.VideoURL, &v.Resolution, &v.Degraded, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select video: %w", err)
	}
	return &v, nil
}

func (s *PostgresStore) FinalizeJob(ctx context.Context, taskID string, status domain.JobStatus, errorReason string, result *domain.VideoResult) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("finalize job: %q is not a terminal status", status)
	}
	url, resolution, degraded := "", "", false
	if result != nil {
		url, resolution, degraded = result.URL, result.Resolution, result.Degraded
	}
	row := s.sql.QueryRow(ctx, sqlinline.QFinalizeJob,
		taskID, string(status), domain.TruncateReason(errorReason), url, resolution, degraded)
	var won bool
	if err := row.Scan(&won); err != nil {
		return false, fmt.Errorf("finalize job: %w", err)
	}
	return won, nil
}

func (s *PostgresStore) ApplyVideoResult(ctx context.Context, taskID string, result domain.VideoResult) error {
	_, err := s.sql.Exec(ctx, sqlinline.QApplyVideoResult, taskID, result.URL, result.Resolution, result.Degraded)
	return err
}

func (s *PostgresStore) RekeyJob(ctx context.Context, oldTaskID, newTaskID string) error {
	row := s.sql.QueryRow(ctx, sqlinline.QRekeyJobAndVideo, oldTaskID, newTaskID)
	var updated int
	if err := row.Scan(&updated); err != nil {
		return fmt.Errorf("rekey job: %w", err)
	}
	if updated != 2 {
		return fmt.Errorf("rekey job: expected job/video pair, updated %d rows: %w", updated, domain.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListProcessingJobs(ctx context.Context) ([]domain.Job, error) {
	rows, err := s.sql.Query(ctx, sqlinline.QListProcessingJobs)
	if err != nil {
		return nil, fmt.Errorf("list processing jobs: %w", err)
	}
	defer rows.Close()
	var jobs []domain.Job
	for rows.Next() {
		var j domain.Job
		var status string
		if err := rows.Scan(&j.ID, &j.UserID, &j.TaskID, &status, &j.ErrorReason, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		j.Status = domain.JobStatus(status)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) CreateOrphanJob(ctx context.Context, taskID string, status domain.JobStatus, errorReason string, result *domain.VideoResult) error {
	url, resolution, degraded := "", "", false
	if result != nil {
		url, resolution, degraded = result.URL, result.Resolution, result.Degraded
	}
	row := s.sql.QueryRow(ctx, sqlinline.QInsertOrphanJob,
		taskID, string(status), domain.TruncateReason(errorReason), url, resolution, degraded)
	var inserted bool
	if err := row.Scan(&inserted); err != nil {
		return fmt.Errorf("insert orphan job: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QIsEventProcessed, eventID)
	var processed bool
	if err := row.Scan(&processed); err != nil {
		return false, fmt.Errorf("check event: %w", err)
	}
	return processed, nil
}

func (s *PostgresStore) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.sql.Exec(ctx, sqlinline.QMarkEventProcessed, eventID, eventType)
	return err
}

func (s *PostgresStore) ApplyRenewal(ctx context.Context, grant RenewalGrant) (bool, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QApplyRenewal,
		grant.InvoiceID, grant.UserID, grant.Credits, grant.Plan,
		grant.RenewAt, grant.SubscriptionID, grant.EventID, grant.EventType)
	var applied bool
	if err := row.Scan(&applied); err != nil {
		return false, fmt.Errorf("apply renewal: %w", err)
	}
	return applied, nil
}

var _ Store = (*PostgresStore)(nil)
