package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"server/internal/billing"
)

func postWebhook(env *testEnv, payload []byte, header string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", header)
	env.app.StripeWebhook(rec, req)
	return rec
}

func TestStripeWebhookAccepted(t *testing.T) {
	env := newTestEnv(t, 1)
	payload := []byte(`{"id":"evt_1","type":"charge.refunded","data":{"object":{}}}`)
	header := billing.SignPayload(payload, "whsec_test", time.Now())
	rec := postWebhook(env, payload, header)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestStripeWebhookBadSignature(t *testing.T) {
	env := newTestEnv(t, 1)
	payload := []byte(`{"id":"evt_1","type":"invoice.paid","data":{"object":{}}}`)
	rec := postWebhook(env, payload, "t=1,v1=deadbeef")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStripeWebhookMalformedEvent(t *testing.T) {
	env := newTestEnv(t, 1)
	payload := []byte(`not json`)
	header := billing.SignPayload(payload, "whsec_test", time.Now())
	rec := postWebhook(env, payload, header)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
