package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/storage"
)

// Plan maps a processor price id to the credits granted on each renewal.
type Plan struct {
	Name       string
	Credits    int
	RenewEvery time.Duration
}

// Catalog indexes plans by processor price id.
type Catalog map[string]Plan

// Processor handles signed payment webhook events. Events are deduplicated at
// the event-id granularity; renewal grants are additionally deduplicated at
// the invoice-id granularity inside the same atomic store write, because the
// processor has been observed to deliver one economic event under two
// different event ids.
type Processor struct {
	store     storage.Store
	catalog   Catalog
	secret    string
	tolerance time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

func NewProcessor(store storage.Store, catalog Catalog, secret string, tolerance time.Duration, logger zerolog.Logger) *Processor {
	return &Processor{
		store:     store,
		catalog:   catalog,
		secret:    secret,
		tolerance: tolerance,
		logger:    logger,
		now:       time.Now,
	}
}

// Handle verifies and applies one webhook delivery. A nil return means the
// delivery was handled (possibly as a deliberate no-op) and the processor
// should not redeliver. ErrInvalidSignature must surface as a client error;
// any other error should surface as a server error so the processor retries.
func (p *Processor) Handle(ctx context.Context, payload []byte, sigHeader string) error {
	if err := VerifySignature(payload, sigHeader, p.secret, p.tolerance, p.now()); err != nil {
		return err
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("%w: not valid JSON", ErrMalformedEvent)
	}
	if event.ID == "" {
		return fmt.Errorf("%w: missing event id", ErrMalformedEvent)
	}

	processed, err := p.store.IsEventProcessed(ctx, event.ID)
	if err != nil {
		return fmt.Errorf("billing: event dedup lookup: %w", err)
	}
	if processed {
		p.logger.Debug().Str("event_id", event.ID).Msg("billing: event already processed")
		return nil
	}

	switch event.Type {
	case "checkout.session.completed":
		return p.handleCheckoutCompleted(ctx, event)
	case "invoice.payment_succeeded", "invoice.paid":
		return p.handleInvoicePaid(ctx, event)
	case "customer.subscription.deleted":
		return p.handleSubscriptionDeleted(ctx, event)
	default:
		p.logger.Debug().Str("event_id", event.ID).Str("type", event.Type).Msg("billing: ignoring event type")
		return p.store.MarkEventProcessed(ctx, event.ID, event.Type)
	}
}

func (p *Processor) handleCheckoutCompleted(ctx context.Context, event Event) error {
	var session checkoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return fmt.Errorf("billing: decode checkout session: %w", err)
	}
	if session.ClientReferenceID == "" || session.Customer == "" {
		return p.skip(ctx, event, "checkout session missing customer linkage")
	}
	if err := p.store.LinkStripeCustomer(ctx, session.ClientReferenceID, session.Customer); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return p.skip(ctx, event, "checkout session references unknown user")
		}
		return fmt.Errorf("billing: link customer: %w", err)
	}
	p.logger.Info().
		Str("event_id", event.ID).
		Str("user_id", session.ClientReferenceID).
		Msg("billing: customer linked")
	return p.store.MarkEventProcessed(ctx, event.ID, event.Type)
}

func (p *Processor) handleInvoicePaid(ctx context.Context, event Event) error {
	var inv invoice
	if err := json.Unmarshal(event.Data.Object, &inv); err != nil {
		return fmt.Errorf("billing: decode invoice: %w", err)
	}
	if inv.ID == "" || inv.Customer == "" {
		return p.skip(ctx, event, "invoice missing id or customer")
	}

	user, err := p.store.GetUserByCustomerID(ctx, inv.Customer)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return p.skip(ctx, event, "invoice customer has no local user")
		}
		return fmt.Errorf("billing: resolve invoice customer: %w", err)
	}

	plan, ok := p.catalog[inv.priceID()]
	if !ok {
		return p.skip(ctx, event, "invoice price not in plan catalog")
	}

	renewEvery := plan.RenewEvery
	if renewEvery <= 0 {
		renewEvery = 30 * 24 * time.Hour
	}
	applied, err := p.store.ApplyRenewal(ctx, storage.RenewalGrant{
		EventID:        event.ID,
		EventType:      event.Type,
		InvoiceID:      inv.ID,
		UserID:         user.ID,
		Plan:           plan.Name,
		Credits:        plan.Credits,
		RenewAt:        p.now().Add(renewEvery),
		SubscriptionID: inv.Subscription,
	})
	if err != nil {
		return fmt.Errorf("billing: apply renewal: %w", err)
	}
	if !applied {
		// Same invoice seen under another event id; the grant already
		// happened, so this delivery only needs its event marker.
		p.logger.Info().
			Str("event_id", event.ID).
			Str("invoice_id", inv.ID).
			Msg("billing: invoice already granted")
		return p.store.MarkEventProcessed(ctx, event.ID, event.Type)
	}
	p.logger.Info().
		Str("event_id", event.ID).
		Str("invoice_id", inv.ID).
		Str("user_id", user.ID).
		Str("plan", plan.Name).
		Int("credits", plan.Credits).
		Msg("billing: renewal credits granted")
	return nil
}

func (p *Processor) handleSubscriptionDeleted(ctx context.Context, event Event) error {
	var sub subscription
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return fmt.Errorf("billing: decode subscription: %w", err)
	}
	user, err := p.store.GetUserByCustomerID(ctx, sub.Customer)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return p.skip(ctx, event, "subscription customer has no local user")
		}
		return fmt.Errorf("billing: resolve subscription customer: %w", err)
	}
	// Plan state is cleared; the credit balance and ledger are untouched, so
	// already-granted credits stay spendable.
	if err := p.store.ClearPlan(ctx, user.ID); err != nil {
		return fmt.Errorf("billing: clear plan: %w", err)
	}
	p.logger.Info().
		Str("event_id", event.ID).
		Str("user_id", user.ID).
		Msg("billing: subscription cancelled, plan cleared")
	return p.store.MarkEventProcessed(ctx, event.ID, event.Type)
}

// skip records an event this system cannot act on as processed without
// granting anything. Failing instead would make the processor redeliver an
// event that can never succeed.
func (p *Processor) skip(ctx context.Context, event Event, why string) error {
	p.logger.Warn().
		Str("event_id", event.ID).
		Str("type", event.Type).
		Str("reason", why).
		Msg("billing: event skipped")
	return p.store.MarkEventProcessed(ctx, event.ID, event.Type)
}
