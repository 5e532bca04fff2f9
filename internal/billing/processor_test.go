package billing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"server/internal/storage"
)

const testSecret = "whsec_test"

func testProcessor(t *testing.T) (*Processor, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	catalog := Catalog{
		"price_basic": {Name: "basic", Credits: 30},
		"price_pro":   {Name: "pro", Credits: 120},
	}
	p := NewProcessor(store, catalog, testSecret, 5*time.Minute, zerolog.New(io.Discard))
	return p, store
}

func signedEvent(t *testing.T, p *Processor, id, typ, object string) ([]byte, string) {
	t.Helper()
	payload := []byte(fmt.Sprintf(`{"id":%q,"type":%q,"data":{"object":%s}}`, id, typ, object))
	return payload, SignPayload(payload, testSecret, time.Now())
}

func seedLinkedUser(t *testing.T, store *storage.MemoryStore, userID, customerID string) {
	t.Helper()
	ctx := context.Background()
	if _, err := store.UpsertUser(ctx, userID, "", "en", 0); err != nil {
		t.Fatalf("UpsertUser error: %v", err)
	}
	if err := store.LinkStripeCustomer(ctx, userID, customerID); err != nil {
		t.Fatalf("LinkStripeCustomer error: %v", err)
	}
}

func TestHandleRejectsBadSignature(t *testing.T) {
	p, store := testProcessor(t)
	payload, _ := signedEvent(t, p, "evt_1", "invoice.paid", `{"id":"in_1"}`)
	err := p.Handle(context.Background(), payload, "t=1,v1=deadbeef")
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	processed, _ := store.IsEventProcessed(context.Background(), "evt_1")
	if processed {
		t.Fatal("rejected delivery must leave no state behind")
	}
}

func TestHandleRejectsMalformedPayload(t *testing.T) {
	p, _ := testProcessor(t)
	payload := []byte("not json")
	header := SignPayload(payload, testSecret, time.Now())
	err := p.Handle(context.Background(), payload, header)
	if !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("expected ErrMalformedEvent, got %v", err)
	}
}

func TestCheckoutCompletedLinksCustomer(t *testing.T) {
	p, store := testProcessor(t)
	ctx := context.Background()
	if _, err := store.UpsertUser(ctx, "u1", "", "en", 0); err != nil {
		t.Fatalf("UpsertUser error: %v", err)
	}
	payload, header := signedEvent(t, p, "evt_1", "checkout.session.completed",
		`{"customer":"cus_1","client_reference_id":"u1","subscription":"sub_1"}`)
	if err := p.Handle(ctx, payload, header); err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	user, err := store.GetUserByCustomerID(ctx, "cus_1")
	if err != nil {
		t.Fatalf("customer not linked: %v", err)
	}
	if user.ID != "u1" {
		t.Fatalf("linked wrong user %q", user.ID)
	}
}

func TestInvoicePaidGrantsOnce(t *testing.T) {
	p, store := testProcessor(t)
	ctx := context.Background()
	seedLinkedUser(t, store, "u1", "cus_1")

	object := `{"id":"in_1","customer":"cus_1","subscription":"sub_1","lines":{"data":[{"price":{"id":"price_basic"}}]}}`
	payload, header := signedEvent(t, p, "evt_1", "invoice.payment_succeeded", object)
	if err := p.Handle(ctx, payload, header); err != nil {
		t.Fatalf("Handle error: %v", err)
	}

	balance, _ := store.Balance(ctx, "u1")
	if balance != 30 {
		t.Fatalf("expected 30 credits, got %d", balance)
	}
	user, _ := store.GetUser(ctx, "u1")
	if user.ActivePlan != "basic" || user.CreditsRenewAt == nil {
		t.Fatalf("plan fields not set: %+v", user)
	}
}

func TestInvoicePaidEventReplay(t *testing.T) {
	p, store := testProcessor(t)
	ctx := context.Background()
	seedLinkedUser(t, store, "u1", "cus_1")

	object := `{"id":"in_1","customer":"cus_1","lines":{"data":[{"price":{"id":"price_basic"}}]}}`
	payload, header := signedEvent(t, p, "evt_1", "invoice.paid", object)
	for i := 0; i < 3; i++ {
		if err := p.Handle(ctx, payload, header); err != nil {
			t.Fatalf("Handle #%d error: %v", i+1, err)
		}
	}
	balance, _ := store.Balance(ctx, "u1")
	if balance != 30 {
		t.Fatalf("replayed event granted again, balance %d", balance)
	}
}

func TestInvoicePaidDuplicateInvoiceAcrossEventIDs(t *testing.T) {
	p, store := testProcessor(t)
	ctx := context.Background()
	seedLinkedUser(t, store, "u1", "cus_1")

	object := `{"id":"in_1","customer":"cus_1","lines":{"data":[{"price":{"id":"price_pro"}}]}}`
	first, firstHeader := signedEvent(t, p, "evt_1", "invoice.payment_succeeded", object)
	second, secondHeader := signedEvent(t, p, "evt_2", "invoice.paid", object)

	if err := p.Handle(ctx, first, firstHeader); err != nil {
		t.Fatalf("Handle first error: %v", err)
	}
	if err := p.Handle(ctx, second, secondHeader); err != nil {
		t.Fatalf("Handle second error: %v", err)
	}

	balance, _ := store.Balance(ctx, "u1")
	if balance != 120 {
		t.Fatalf("same invoice granted twice, balance %d", balance)
	}
	for _, id := range []string{"evt_1", "evt_2"} {
		processed, _ := store.IsEventProcessed(ctx, id)
		if !processed {
			t.Fatalf("event %s not marked processed", id)
		}
	}
}

func TestInvoicePaidUnknownPriceSkips(t *testing.T) {
	p, store := testProcessor(t)
	ctx := context.Background()
	seedLinkedUser(t, store, "u1", "cus_1")

	object := `{"id":"in_1","customer":"cus_1","lines":{"data":[{"price":{"id":"price_unknown"}}]}}`
	payload, header := signedEvent(t, p, "evt_1", "invoice.paid", object)
	if err := p.Handle(ctx, payload, header); err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	balance, _ := store.Balance(ctx, "u1")
	if balance != 0 {
		t.Fatalf("unknown price granted credits: %d", balance)
	}
	processed, _ := store.IsEventProcessed(ctx, "evt_1")
	if !processed {
		t.Fatal("skipped event must still be marked processed")
	}
}

func TestInvoicePaidUnknownCustomerSkips(t *testing.T) {
	p, store := testProcessor(t)
	ctx := context.Background()
	object := `{"id":"in_1","customer":"cus_ghost","lines":{"data":[{"price":{"id":"price_basic"}}]}}`
	payload, header := signedEvent(t, p, "evt_1", "invoice.paid", object)
	if err := p.Handle(ctx, payload, header); err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	processed, _ := store.IsEventProcessed(ctx, "evt_1")
	if !processed {
		t.Fatal("skipped event must still be marked processed")
	}
}

func TestSubscriptionDeletedKeepsCredits(t *testing.T) {
	p, store := testProcessor(t)
	ctx := context.Background()
	seedLinkedUser(t, store, "u1", "cus_1")

	grantObject := `{"id":"in_1","customer":"cus_1","lines":{"data":[{"price":{"id":"price_basic"}}]}}`
	payload, header := signedEvent(t, p, "evt_1", "invoice.paid", grantObject)
	if err := p.Handle(ctx, payload, header); err != nil {
		t.Fatalf("Handle error: %v", err)
	}

	payload, header = signedEvent(t, p, "evt_2", "customer.subscription.deleted", `{"id":"sub_1","customer":"cus_1"}`)
	if err := p.Handle(ctx, payload, header); err != nil {
		t.Fatalf("Handle error: %v", err)
	}

	user, _ := store.GetUser(ctx, "u1")
	if user.ActivePlan != "" || user.CreditsRenewAt != nil {
		t.Fatalf("plan not cleared: %+v", user)
	}
	if user.CreditsRemaining != 30 {
		t.Fatalf("cancellation clawed back credits: %d", user.CreditsRemaining)
	}
}

func TestUnknownEventTypeMarkedProcessed(t *testing.T) {
	p, store := testProcessor(t)
	ctx := context.Background()
	payload, header := signedEvent(t, p, "evt_1", "charge.refunded", `{"id":"ch_1"}`)
	if err := p.Handle(ctx, payload, header); err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	processed, _ := store.IsEventProcessed(ctx, "evt_1")
	if !processed {
		t.Fatal("ignored event must be marked processed")
	}
}
