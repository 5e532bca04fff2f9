package handlers

import (
	"errors"
	"io"
	"net/http"

	"server/internal/billing"
)

const maxWebhookBody = 1 << 20

// StripeWebhook receives signed payment-processor events. A 200 means
// "handled", including deliberate no-ops, so the processor stops redelivering;
// non-200 is reserved for signature failures (client error, no state change)
// and transient faults where redelivery is actually wanted.
func (a *App) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable payload")
		return
	}
	err = a.Billing.Handle(r.Context(), raw, r.Header.Get("Stripe-Signature"))
	switch {
	case errors.Is(err, billing.ErrInvalidSignature):
		a.error(w, http.StatusBadRequest, "invalid_signature", "webhook signature verification failed")
	case errors.Is(err, billing.ErrMalformedEvent):
		a.error(w, http.StatusBadRequest, "bad_request", "malformed event payload")
	case err != nil:
		a.Logger.Error().Err(err).Msg("billing: webhook processing failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to process event")
	default:
		a.json(w, http.StatusOK, map[string]any{"received": true})
	}
}
