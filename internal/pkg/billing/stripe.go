package billing

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/ManuelReschke/VenueFox/app/models"
	"github.com/ManuelReschke/VenueFox/internal/pkg/env"
)

const defaultStripeToleranceSeconds = 300

// StripeSource verifies Stripe deliveries and normalizes them into events.
type StripeSource struct {
	verifier *StripeVerifier
	plans    map[string]models.SubscriptionPlan // price id -> plan
}

// NewStripeSource creates a source. prices maps each plan to its Stripe price id.
func NewStripeSource(verifier *StripeVerifier, prices map[models.SubscriptionPlan]string) *StripeSource {
	plans := make(map[string]models.SubscriptionPlan, len(prices))
	for plan, priceID := range prices {
		if id := strings.TrimSpace(priceID); id != "" {
			plans[id] = plan
		}
	}
	return &StripeSource{verifier: verifier, plans: plans}
}

func NewStripeSourceFromEnv() *StripeSource {
	tolerance, err := strconv.Atoi(env.GetEnv("STRIPE_WEBHOOK_TOLERANCE_SECONDS", strconv.Itoa(defaultStripeToleranceSeconds)))
	if err != nil || tolerance <= 0 {
		tolerance = defaultStripeToleranceSeconds
	}
	verifier := NewStripeVerifier(env.GetEnv("STRIPE_WEBHOOK_SECRET", ""), time.Duration(tolerance)*time.Second)
	return NewStripeSource(verifier, StripePricesFromEnv())
}

// StripePricesFromEnv reads the configured price id of every plan.
func StripePricesFromEnv() map[models.SubscriptionPlan]string {
	return map[models.SubscriptionPlan]string{
		models.PlanMonthly:  strings.TrimSpace(env.GetEnv("STRIPE_PRICE_MONTHLY", "")),
		models.PlanSixMonth: strings.TrimSpace(env.GetEnv("STRIPE_PRICE_SIX_MONTH", "")),
		models.PlanYearly:   strings.TrimSpace(env.GetEnv("STRIPE_PRICE_YEARLY", "")),
	}
}

func (s *StripeSource) Provider() string {
	return models.BillingProviderStripe
}

// Parse verifies and normalizes one delivery.
func (s *StripeSource) Parse(payload []byte, signatureHeader string) (Event, error) {
	se, err := s.verifier.Verify(payload, signatureHeader)
	if err != nil {
		return Event{}, err
	}
	return s.Normalize(se)
}

type stripeCheckoutSession struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	ClientReferenceID string            `json:"client_reference_id"`
	Subscription      json.RawMessage   `json:"subscription"`
	Metadata          map[string]string `json:"metadata"`
}

type stripePrice struct {
	ID        string            `json:"id"`
	LookupKey string            `json:"lookup_key"`
	Metadata  map[string]string `json:"metadata"`
	Recurring *struct {
		Interval      string `json:"interval"`
		IntervalCount int64  `json:"interval_count"`
	} `json:"recurring"`
}

type stripeSubscription struct {
	ID                string            `json:"id"`
	Status            string            `json:"status"`
	CurrentPeriodEnd  int64             `json:"current_period_end"`
	TrialEnd          int64             `json:"trial_end"`
	CanceledAt        int64             `json:"canceled_at"`
	EndedAt           int64             `json:"ended_at"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	Metadata          map[string]string `json:"metadata"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd int64       `json:"current_period_end"`
			Price            stripePrice `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

type stripeInvoice struct {
	ID           string          `json:"id"`
	Subscription json.RawMessage `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription json.RawMessage `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Period struct {
				End int64 `json:"end"`
			} `json:"period"`
			Price *stripePrice `json:"price"`
		} `json:"data"`
	} `json:"lines"`
}

// Normalize maps a verified Stripe event onto the internal transition table.
// Types without a mapping come back as EventIgnored.
func (s *StripeSource) Normalize(se stripe.Event) (Event, error) {
	ev := Event{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: se.ID,
		EventType:       string(se.Type),
		Kind:            EventIgnored,
		ObservedAt:      time.Unix(se.Created, 0).UTC(),
	}
	if se.Data == nil || len(se.Data.Raw) == 0 {
		return ev, nil
	}
	ev.Payload = se.Data.Raw

	switch ev.EventType {
	case "checkout.session.completed":
		var cs stripeCheckoutSession
		if err := json.Unmarshal(se.Data.Raw, &cs); err != nil {
			return ev, fmt.Errorf("%w: decode checkout.session: %v", ErrMalformedEvent, err)
		}
		if cs.Mode != "" && cs.Mode != "subscription" {
			return ev, nil
		}
		ev.Kind = EventLink
		ev.ExternalRef = expandableID(cs.Subscription)
		ev.TenantID = tenantFromMetadata(cs.ClientReferenceID, cs.Metadata)
		if plan, ok := ParsePlan(cs.Metadata["plan"]); ok {
			ev.Plan = plan
		}

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripeSubscription
		if err := json.Unmarshal(se.Data.Raw, &sub); err != nil {
			return ev, fmt.Errorf("%w: decode subscription: %v", ErrMalformedEvent, err)
		}
		s.fillSubscription(&ev, sub)

		switch ev.EventType {
		case "customer.subscription.created":
			ev.Kind = EventLink
			ev.TenantID = tenantFromMetadata("", sub.Metadata)
			switch kind := subscriptionStatusKind(sub.Status); kind {
			case EventActivated, EventTrialing:
				ev.FollowUp = kind
			}
		case "customer.subscription.updated":
			ev.Kind = subscriptionStatusKind(sub.Status)
		default:
			ev.Kind = EventCanceled
		}

	case "invoice.paid", "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripeInvoice
		if err := json.Unmarshal(se.Data.Raw, &inv); err != nil {
			return ev, fmt.Errorf("%w: decode invoice: %v", ErrMalformedEvent, err)
		}
		ev.ExternalRef = invoiceSubscriptionID(inv)
		if ev.ExternalRef == "" {
			// one-off invoice, nothing to reconcile
			return ev, nil
		}
		if ev.EventType == "invoice.payment_failed" {
			ev.Kind = EventPaymentFailed
			return ev, nil
		}
		ev.Kind = EventRenewed
		if len(inv.Lines.Data) > 0 {
			line := inv.Lines.Data[0]
			ev.CurrentPeriodEnd = unixPtr(line.Period.End)
			if line.Price != nil {
				ev.Plan = s.planForPrice(*line.Price)
			}
		}
	}

	return ev, nil
}

func (s *StripeSource) fillSubscription(ev *Event, sub stripeSubscription) {
	ev.ExternalRef = sub.ID
	ev.TrialEndsAt = unixPtr(sub.TrialEnd)
	cancelAtPeriodEnd := sub.CancelAtPeriodEnd
	ev.CancelAtPeriodEnd = &cancelAtPeriodEnd

	periodEnd := sub.CurrentPeriodEnd
	if len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if periodEnd == 0 {
			periodEnd = item.CurrentPeriodEnd
		}
		ev.Plan = s.planForPrice(item.Price)
	}
	ev.CurrentPeriodEnd = unixPtr(periodEnd)

	switch {
	case sub.CanceledAt > 0:
		ev.CanceledAt = unixPtr(sub.CanceledAt)
	case sub.EndedAt > 0:
		ev.CanceledAt = unixPtr(sub.EndedAt)
	}
}

func (s *StripeSource) planForPrice(p stripePrice) models.SubscriptionPlan {
	if plan, ok := s.plans[p.ID]; ok {
		return plan
	}
	if plan, ok := ParsePlan(p.LookupKey); ok {
		return plan
	}
	if plan, ok := ParsePlan(p.Metadata["plan"]); ok {
		return plan
	}
	if p.Recurring != nil {
		switch {
		case p.Recurring.Interval == "year":
			return models.PlanYearly
		case p.Recurring.Interval == "month" && p.Recurring.IntervalCount == 6:
			return models.PlanSixMonth
		case p.Recurring.Interval == "month" && p.Recurring.IntervalCount <= 1:
			return models.PlanMonthly
		}
	}
	return ""
}

// subscriptionStatusKind maps a Stripe subscription status onto an event kind.
func subscriptionStatusKind(status string) EventKind {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active":
		return EventActivated
	case "trialing":
		return EventTrialing
	case "past_due":
		return EventPaymentFailed
	case "canceled", "unpaid", "incomplete_expired":
		return EventCanceled
	case "paused":
		return EventSuspended
	default:
		return EventIgnored
	}
}

func invoiceSubscriptionID(inv stripeInvoice) string {
	if id := expandableID(inv.Subscription); id != "" {
		return id
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		return expandableID(inv.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

// expandableID reads a Stripe expandable field: either "id" or {"id": ...}.
func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return strings.TrimSpace(id)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return strings.TrimSpace(obj.ID)
	}
	return ""
}

func tenantFromMetadata(clientReferenceID string, metadata map[string]string) uint {
	for _, raw := range []string{clientReferenceID, metadata["tenant_id"]} {
		id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err == nil && id > 0 {
			return uint(id)
		}
	}
	return 0
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
