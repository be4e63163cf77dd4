package billing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/VenueFox/app/models"
)

// stubSource maps a payload to a prepared event and accepts any signature
// equal to "valid".
type stubSource struct {
	events map[string]Event
}

func (s *stubSource) Provider() string { return models.BillingProviderStripe }

func (s *stubSource) Parse(payload []byte, signatureHeader string) (Event, error) {
	if signatureHeader != "valid" {
		return Event{}, ErrInvalidSignature
	}
	ev, ok := s.events[string(payload)]
	if !ok {
		return Event{}, fmt.Errorf("%w: unknown payload", ErrMalformedEvent)
	}
	return ev, nil
}

type gatewayFixture struct {
	store   *MemoryStore
	gateway *Gateway
	keys    func() []string
}

func newGatewayFixture(t *testing.T, store Store, mem *MemoryStore, events map[string]Event) gatewayFixture {
	t.Helper()
	mr, client := newMiniRedisClient(t)
	gw := NewGateway(&stubSource{events: events}, NewRedisLedger(client, time.Hour, time.Second), NewReconciler(store, nil), time.Second)
	return gatewayFixture{store: mem, gateway: gw, keys: mr.Keys}
}

func scenarioEvents() map[string]Event {
	activated := event(EventActivated, "customer.subscription.updated", t1)
	activated.CurrentPeriodEnd = timePtr(t1.AddDate(0, 1, 0))
	return map[string]Event{
		"activated":      activated,
		"payment_failed": event(EventPaymentFailed, "invoice.payment_failed", t2),
		"canceled":       event(EventCanceled, "customer.subscription.deleted", t3),
		"unknown_type":   {Provider: models.BillingProviderStripe, EventType: "customer.tax_id.created", Kind: EventIgnored, ObservedAt: t1},
	}
}

func TestGatewayReceive_ScenarioWithRedelivery(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedSubscription(t, store, models.SubscriptionStatusTrialing, models.PlanMonthly)
	f := newGatewayFixture(t, store, store, scenarioEvents())

	outcome, err := f.gateway.Receive(ctx, []byte("activated"), "valid")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	afterFirst, _ := store.Get(ctx, testTenantID)
	assert.Equal(t, models.SubscriptionStatusActive, afterFirst.Status)
	assertListingsPublished(t, store, testTenantID, true)

	outcome, err = f.gateway.Receive(ctx, []byte("activated"), "valid")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	afterDup, _ := store.Get(ctx, testTenantID)
	assert.Equal(t, afterFirst.Version, afterDup.Version, "redelivery must not touch the row")

	outcome, err = f.gateway.Receive(ctx, []byte("payment_failed"), "valid")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	sub, _ := store.Get(ctx, testTenantID)
	assert.Equal(t, models.SubscriptionStatusPastDue, sub.Status)
	assertListingsPublished(t, store, testTenantID, true)

	outcome, err = f.gateway.Receive(ctx, []byte("canceled"), "valid")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	sub, _ = store.Get(ctx, testTenantID)
	assert.Equal(t, models.SubscriptionStatusCanceled, sub.Status)
	require.NotNil(t, sub.CanceledAt)
	assert.True(t, sub.CanceledAt.Equal(t3))
	assertListingsPublished(t, store, testTenantID, false)
}

func TestGatewayReceive_OrderIndependent(t *testing.T) {
	tests := []struct {
		order      []string
		wantStatus models.SubscriptionStatus
		published  bool
	}{
		{[]string{"activated", "payment_failed", "canceled"}, models.SubscriptionStatusCanceled, false},
		{[]string{"canceled", "activated", "payment_failed"}, models.SubscriptionStatusCanceled, false},
		{[]string{"payment_failed", "canceled", "activated", "canceled", "activated"}, models.SubscriptionStatusCanceled, false},
		{[]string{"activated", "payment_failed"}, models.SubscriptionStatusPastDue, true},
		{[]string{"payment_failed", "activated"}, models.SubscriptionStatusPastDue, true},
		{[]string{"payment_failed", "activated", "payment_failed"}, models.SubscriptionStatusPastDue, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.order), func(t *testing.T) {
			ctx := context.Background()
			store := NewMemoryStore()
			seedSubscription(t, store, models.SubscriptionStatusTrialing, models.PlanMonthly)
			f := newGatewayFixture(t, store, store, scenarioEvents())

			for _, name := range tt.order {
				_, err := f.gateway.Receive(ctx, []byte(name), "valid")
				require.NoError(t, err)
			}

			sub, _ := store.Get(ctx, testTenantID)
			assert.Equal(t, tt.wantStatus, sub.Status)
			assert.Empty(t, sub.DeferredEvent)
			if tt.wantStatus == models.SubscriptionStatusCanceled {
				require.NotNil(t, sub.CanceledAt)
				assert.True(t, sub.CanceledAt.Equal(t3))
			}
			assertListingsPublished(t, store, testTenantID, tt.published)
		})
	}
}

func TestGatewayReceive_InvalidSignature(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seeded := seedSubscription(t, store, models.SubscriptionStatusTrialing, models.PlanMonthly)
	f := newGatewayFixture(t, store, store, scenarioEvents())

	_, err := f.gateway.Receive(ctx, []byte("activated"), "forged")
	require.ErrorIs(t, err, ErrInvalidSignature)

	sub, _ := store.Get(ctx, testTenantID)
	assert.Equal(t, seeded.Version, sub.Version)
	assert.Empty(t, f.keys())
}

func TestGatewayReceive_UnknownTypeAccepted(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	f := newGatewayFixture(t, store, store, scenarioEvents())

	outcome, err := f.gateway.Receive(ctx, []byte("unknown_type"), "valid")
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Empty(t, f.keys())
}

func TestGatewayReceive_UnknownExternalRef(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	f := newGatewayFixture(t, store, store, scenarioEvents())

	outcome, err := f.gateway.Receive(ctx, []byte("canceled"), "valid")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknownRef, outcome)

	_, err = store.Get(ctx, testTenantID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, f.keys(), 1)
}

func TestGatewayReceive_FailedTransitionRollsBackLedger(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	seedSubscription(t, mem, models.SubscriptionStatusTrialing, models.PlanMonthly)
	store := &conflictStore{MemoryStore: mem, conflicts: 2}
	f := newGatewayFixture(t, store, mem, scenarioEvents())

	_, err := f.gateway.Receive(ctx, []byte("activated"), "valid")
	require.ErrorIs(t, err, ErrConflict)
	assert.Empty(t, f.keys(), "ledger entry must be rolled back")

	sub, _ := mem.Get(ctx, testTenantID)
	assert.Equal(t, models.SubscriptionStatusTrialing, sub.Status)

	outcome, err := f.gateway.Receive(ctx, []byte("activated"), "valid")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	sub, _ = mem.Get(ctx, testTenantID)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
}

func TestGatewayReceive_MalformedEvent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	f := newGatewayFixture(t, store, store, scenarioEvents())

	_, err := f.gateway.Receive(ctx, []byte("garbage"), "valid")
	assert.ErrorIs(t, err, ErrMalformedEvent)
}
