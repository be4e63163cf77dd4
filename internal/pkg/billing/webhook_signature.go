package billing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeVerifier checks the Stripe-Signature header against the endpoint
// secret. An empty secret fails every delivery.
type StripeVerifier struct {
	secret    string
	tolerance time.Duration
}

// NewStripeVerifier creates a verifier. A zero tolerance uses the library default.
func NewStripeVerifier(secret string, tolerance time.Duration) *StripeVerifier {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &StripeVerifier{secret: strings.TrimSpace(secret), tolerance: tolerance}
}

// Verify authenticates payload and decodes the event envelope.
func (v *StripeVerifier) Verify(payload []byte, signatureHeader string) (stripe.Event, error) {
	if v.secret == "" || strings.TrimSpace(signatureHeader) == "" {
		return stripe.Event{}, ErrInvalidSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err == nil {
		return event, nil
	}
	if isSignatureError(err) {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return stripe.Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}
