package billing

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscription"

	"github.com/ManuelReschke/VenueFox/app/models"
	"github.com/ManuelReschke/VenueFox/internal/pkg/env"
)

// Processor is the payment processor collaborator. Capture and refunds stay
// on the processor side.
type Processor interface {
	CreateSubscription(ctx context.Context, tenantID uint, email string, plan models.SubscriptionPlan) (string, error)
	CancelSubscription(ctx context.Context, externalRef string) error
}

// StripeProcessor creates and cancels subscriptions through the Stripe API.
type StripeProcessor struct {
	prices map[models.SubscriptionPlan]string
}

// NewStripeProcessor sets the global Stripe key and returns a processor for
// the given plan prices.
func NewStripeProcessor(apiKey string, prices map[models.SubscriptionPlan]string) *StripeProcessor {
	stripe.Key = apiKey
	return &StripeProcessor{prices: prices}
}

// NewStripeProcessorFromEnv returns nil when STRIPE_SECRET_KEY is unset.
func NewStripeProcessorFromEnv() *StripeProcessor {
	key := strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", ""))
	if key == "" {
		return nil
	}
	return NewStripeProcessor(key, StripePricesFromEnv())
}

// CreateSubscription creates a customer and an incomplete subscription tagged
// with the tenant id, so the created event links back to the tenant.
func (p *StripeProcessor) CreateSubscription(_ context.Context, tenantID uint, email string, plan models.SubscriptionPlan) (string, error) {
	priceID := strings.TrimSpace(p.prices[plan])
	if priceID == "" {
		return "", fmt.Errorf("billing: no stripe price configured for plan %q", plan)
	}
	tenant := strconv.FormatUint(uint64(tenantID), 10)

	c, err := customer.New(&stripe.CustomerParams{
		Email:    stripe.String(email),
		Metadata: map[string]string{"tenant_id": tenant},
	})
	if err != nil {
		return "", fmt.Errorf("billing: create stripe customer: %w", err)
	}

	sub, err := subscription.New(&stripe.SubscriptionParams{
		Customer:        stripe.String(c.ID),
		PaymentBehavior: stripe.String("default_incomplete"),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceID)},
		},
		Metadata: map[string]string{
			"tenant_id": tenant,
			"plan":      string(plan),
		},
	})
	if err != nil {
		return "", fmt.Errorf("billing: create stripe subscription: %w", err)
	}
	return sub.ID, nil
}

// CancelSubscription cancels immediately; the deleted event drives the state change.
func (p *StripeProcessor) CancelSubscription(_ context.Context, externalRef string) error {
	if _, err := subscription.Cancel(externalRef, &stripe.SubscriptionCancelParams{}); err != nil {
		return fmt.Errorf("billing: cancel stripe subscription: %w", err)
	}
	return nil
}
