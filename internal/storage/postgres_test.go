package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"server/internal/domain"
)

// fakeExecutor records the last statement and feeds canned scan values back.
type fakeExecutor struct {
	lastQuery string
	lastArgs  []any
	scanVals  []any
	scanErr   error
}

func (f *fakeExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	f.lastQuery = query
	f.lastArgs = args
	return pgconn.CommandTag{}, f.scanErr
}

func (f *fakeExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	f.lastQuery = query
	f.lastArgs = args
	return fakeRow{vals: f.scanVals, err: f.scanErr}
}

func (f *fakeExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		if i >= len(r.vals) {
			break
		}
		switch ptr := d.(type) {
		case *bool:
			*ptr = r.vals[i].(bool)
		case *int:
			*ptr = r.vals[i].(int)
		case *string:
			*ptr = r.vals[i].(string)
		}
	}
	return nil
}

func TestPostgresDebitOne(t *testing.T) {
	exec := &fakeExecutor{scanVals: []any{true}}
	store := NewPostgresStore(exec)
	ok, err := store.DebitOne(context.Background(), "u1", "task-1")
	if err != nil {
		t.Fatalf("DebitOne error: %v", err)
	}
	if !ok {
		t.Fatal("expected debit to succeed")
	}
	if len(exec.lastArgs) != 2 || exec.lastArgs[0] != "u1" || exec.lastArgs[1] != "task-1" {
		t.Fatalf("unexpected args %v", exec.lastArgs)
	}
}

func TestPostgresDebitOneExhausted(t *testing.T) {
	store := NewPostgresStore(&fakeExecutor{scanVals: []any{false}})
	ok, err := store.DebitOne(context.Background(), "u1", "task-1")
	if err != nil {
		t.Fatalf("DebitOne error: %v", err)
	}
	if ok {
		t.Fatal("expected debit to report exhaustion")
	}
}

func TestPostgresFinalizeRejectsNonTerminal(t *testing.T) {
	store := NewPostgresStore(&fakeExecutor{})
	if _, err := store.FinalizeJob(context.Background(), "t", domain.JobStatusQueued, "", nil); err == nil {
		t.Fatal("expected error for non-terminal status")
	}
}

func TestPostgresFinalizeLost(t *testing.T) {
	store := NewPostgresStore(&fakeExecutor{scanVals: []any{false}})
	won, err := store.FinalizeJob(context.Background(), "t", domain.JobStatusReady, "", nil)
	if err != nil {
		t.Fatalf("FinalizeJob error: %v", err)
	}
	if won {
		t.Fatal("expected loss to surface as won=false")
	}
}

func TestPostgresRekeyPartialUpdate(t *testing.T) {
	store := NewPostgresStore(&fakeExecutor{scanVals: []any{1}})
	err := store.RekeyJob(context.Background(), "old", "new")
	if err == nil {
		t.Fatal("expected error when only one record was rekeyed")
	}
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound in chain, got %v", err)
	}
}

func TestPostgresGetJobNoRows(t *testing.T) {
	store := NewPostgresStore(&fakeExecutor{scanErr: pgx.ErrNoRows})
	_, err := store.GetJob(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresApplyRenewalArgs(t *testing.T) {
	exec := &fakeExecutor{scanVals: []any{true}}
	store := NewPostgresStore(exec)
	applied, err := store.ApplyRenewal(context.Background(), RenewalGrant{
		EventID:   "evt_1",
		EventType: "invoice.paid",
		InvoiceID: "in_1",
		UserID:    "u1",
		Plan:      "basic",
		Credits:   30,
	})
	if err != nil {
		t.Fatalf("ApplyRenewal error: %v", err)
	}
	if !applied {
		t.Fatal("expected applied")
	}
	if len(exec.lastArgs) != 8 {
		t.Fatalf("expected 8 statement args, got %d", len(exec.lastArgs))
	}
	if exec.lastArgs[0] != "in_1" || exec.lastArgs[6] != "evt_1" {
		t.Fatalf("unexpected arg order %v", exec.lastArgs)
	}
}
