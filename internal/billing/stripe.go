// Package billing consumes payment-processor webhook events and applies
// credit grants and plan changes with event- and invoice-level idempotency.
package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidSignature indicates a payload whose signature header failed
// verification. Handlers must reject these with a client error and perform no
// state change.
var ErrInvalidSignature = errors.New("billing: invalid webhook signature")

// ErrMalformedEvent indicates a correctly signed payload that cannot be
// decoded into an event envelope. Redelivery cannot fix it, so handlers
// should answer with a client error.
var ErrMalformedEvent = errors.New("billing: malformed event payload")

// Event is the processor's signed envelope.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// checkoutSession links the processor customer to a local account.
type checkoutSession struct {
	Customer          string `json:"customer"`
	ClientReferenceID string `json:"client_reference_id"`
	Subscription      string `json:"subscription"`
}

// invoice is decoded tolerantly: the price id has moved between price.id and
// the legacy plan.id across processor API versions, so both are probed.
type invoice struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	Lines        struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
			Plan struct {
				ID string `json:"id"`
			} `json:"plan"`
		} `json:"data"`
	} `json:"lines"`
}

func (inv invoice) priceID() string {
	for _, line := range inv.Lines.Data {
		if line.Price.ID != "" {
			return line.Price.ID
		}
		if line.Plan.ID != "" {
			return line.Plan.ID
		}
	}
	return ""
}

type subscription struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
}

// VerifySignature checks a "t=<unix>,v1=<hex hmac>" style signature header
// against the raw payload. The signed message is "<t>.<payload>" with an
// HMAC-SHA256 keyed by the shared endpoint secret. Timestamps older than the
// tolerance window are rejected to blunt replay.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	var ts int64
	var signatures []string
	for _, pair := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
			}
			ts = parsed
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if ts == 0 || len(signatures) == 0 {
		return fmt.Errorf("%w: missing timestamp or signature", ErrInvalidSignature)
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(ts, 0))
		if age > tolerance || age < -tolerance {
			return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
		}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return nil
		}
	}
	return fmt.Errorf("%w: no matching v1 signature", ErrInvalidSignature)
}

// SignPayload produces a signature header for payload, the counterpart of
// VerifySignature. Used by tests and local tooling.
func SignPayload(payload []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}
