package billing

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/VenueFox/internal/pkg/metrics"
)

const defaultWebhookTimeout = 10 * time.Second

// EventSource authenticates a raw delivery and normalizes it.
type EventSource interface {
	Provider() string
	Parse(payload []byte, signatureHeader string) (Event, error)
}

// Gateway is the webhook ingestion path: verify, dedupe, reconcile.
type Gateway struct {
	source     EventSource
	ledger     Ledger
	reconciler *Reconciler
	timeout    time.Duration
}

// NewGateway creates a gateway. A non-positive timeout uses 10s.
func NewGateway(source EventSource, ledger Ledger, reconciler *Reconciler, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &Gateway{source: source, ledger: ledger, reconciler: reconciler, timeout: timeout}
}

// Receive processes one delivery. A nil error means the delivery is accepted
// and must be acknowledged; duplicate, stale, unknown-ref and ignored events
// are accepted. ErrInvalidSignature and ErrMalformedEvent reject the delivery.
// Any other error means nothing was applied and the processor should redeliver.
func (g *Gateway) Receive(ctx context.Context, payload []byte, signatureHeader string) (Outcome, error) {
	outcome, err := g.receive(ctx, payload, signatureHeader)

	label := string(outcome)
	switch {
	case errors.Is(err, ErrInvalidSignature):
		label = "invalid_signature"
	case errors.Is(err, ErrMalformedEvent):
		label = "malformed"
	case err != nil:
		label = "error"
	}
	metrics.WebhookDeliveries.WithLabelValues(g.source.Provider(), label).Inc()
	return outcome, err
}

func (g *Gateway) receive(ctx context.Context, payload []byte, signatureHeader string) (Outcome, error) {
	ev, err := g.source.Parse(payload, signatureHeader)
	if err != nil {
		return "", err
	}
	if ev.Kind == EventIgnored || ev.Kind == "" {
		log.Debugf("[Webhook] Accepted %s (%s) without transition", ev.EventType, ev.ProviderEventID)
		return OutcomeIgnored, nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	entry := EntryFor(ev)
	fresh, err := g.ledger.Record(ctx, entry)
	if err != nil {
		return "", err
	}
	if !fresh {
		log.Infof("[Webhook] Duplicate delivery %s for %q (%s)", ev.ProviderEventID, ev.ExternalRef, ev.EventType)
		return OutcomeDuplicate, nil
	}

	res, err := g.reconciler.Apply(ctx, ev)
	if err != nil {
		// the entry must not outlive a failed transition, or redelivery would
		// be swallowed as a duplicate
		if ferr := g.ledger.Forget(context.WithoutCancel(ctx), entry.Key); ferr != nil {
			log.Errorf("[Webhook] Failed to roll back ledger entry %s: %v", entry.Key, ferr)
		}
		log.Errorf("[Webhook] Transition for %s (%s) failed: %v", ev.ProviderEventID, ev.EventType, err)
		return "", err
	}

	if err := g.ledger.MarkProcessed(context.WithoutCancel(ctx), entry.Key, res.Outcome, nil); err != nil {
		log.Warnf("[Webhook] Failed to mark ledger entry %s processed: %v", entry.Key, err)
	}
	return res.Outcome, nil
}
