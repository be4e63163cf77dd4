package overrides

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/VenueFox/app/models"
	"github.com/ManuelReschke/VenueFox/internal/pkg/audit"
	"github.com/ManuelReschke/VenueFox/internal/pkg/billing"
	"github.com/ManuelReschke/VenueFox/internal/pkg/entitlements"
)

const (
	tenantID = uint(21)
	operator = "ops@venuefox.test"
)

var errSinkDown = errors.New("audit sink down")

// brokenAuditStore commits nothing whenever an audit record is written.
type brokenAuditStore struct {
	*billing.MemoryStore
}

func (s *brokenAuditStore) Atomically(ctx context.Context, fn func(tx billing.Tx) error) error {
	return s.MemoryStore.Atomically(ctx, func(tx billing.Tx) error {
		return fn(brokenAuditTx{Tx: tx})
	})
}

type brokenAuditTx struct {
	billing.Tx
}

func (brokenAuditTx) AppendAudit(*models.AuditRecord) error { return errSinkDown }

func seed(store *billing.MemoryStore, status models.SubscriptionStatus) {
	if status != "" {
		ref := "sub_ovr"
		end := time.Now().AddDate(0, 1, 0)
		store.PutSubscription(models.Subscription{
			TenantID:         tenantID,
			Plan:             models.PlanMonthly,
			Status:           status,
			ExternalRef:      &ref,
			CurrentPeriodEnd: &end,
		})
	}
	store.AddListing(models.Listing{TenantID: tenantID, Title: "Harbour Loft", Slug: "harbour-loft", Published: status == models.SubscriptionStatusActive})
	store.AddListing(models.Listing{TenantID: tenantID, Title: "Old Mill", Slug: "old-mill", Published: status == models.SubscriptionStatusActive})
}

func published(t *testing.T, store *billing.MemoryStore) bool {
	t.Helper()
	listings := store.Listings(tenantID)
	require.NotEmpty(t, listings)
	for _, l := range listings[1:] {
		require.Equal(t, listings[0].Published, l.Published)
	}
	return listings[0].Published
}

func request(capability string, value any) Request {
	raw, _ := json.Marshal(value)
	return Request{Capability: capability, Value: raw}
}

func TestGrantOverride_FreeListingWithoutSubscription(t *testing.T) {
	ctx := context.Background()
	store := billing.NewMemoryStore()
	seed(store, "")
	ch := NewChannel(billing.NewReconciler(store, nil))

	out, err := ch.GrantOverride(ctx, operator, tenantID, request(FreeListing, true))
	require.NoError(t, err)
	assert.True(t, out.Entitlements.CanPublish)
	assert.Equal(t, entitlements.SourceOverride, out.Entitlements.Sources[entitlements.CapabilityPublish])
	assert.NotEmpty(t, out.AuditID)
	assert.True(t, published(t, store))

	ov, err := store.GetOverrides(ctx, tenantID)
	require.NoError(t, err)
	require.NotNil(t, ov)
	assert.Equal(t, operator, ov.UpdatedBy)

	out, err = ch.GrantOverride(ctx, operator, tenantID, request(FreeListing, nil))
	require.NoError(t, err)
	assert.False(t, out.Entitlements.CanPublish)
	assert.False(t, published(t, store))

	records := store.AuditRecords()
	require.Len(t, records, 2)
	assert.Equal(t, "", records[0].Before)
	assert.Equal(t, "override.set.free_listing", records[0].Action)
	assert.Equal(t, models.AuditEntityOverride, records[0].EntityType)
	assert.Equal(t, tenantID, records[0].EntityID)

	after, err := audit.Decode(records[1].After)
	require.NoError(t, err)
	assert.Nil(t, after.Overrides.FreeListing)
	before, err := audit.Decode(records[1].Before)
	require.NoError(t, err)
	require.NotNil(t, before.Overrides.FreeListing)
	assert.True(t, *before.Overrides.FreeListing)
}

func TestGrantOverride_RevokeBeatsActiveSubscription(t *testing.T) {
	ctx := context.Background()
	store := billing.NewMemoryStore()
	seed(store, models.SubscriptionStatusActive)
	ch := NewChannel(billing.NewReconciler(store, nil))

	out, err := ch.GrantOverride(ctx, operator, tenantID, request(FreeListing, false))
	require.NoError(t, err)
	assert.False(t, out.Entitlements.CanPublish)
	assert.False(t, published(t, store))

	sub, err := store.Get(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
}

func TestGrantOverride_AuditFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	mem := billing.NewMemoryStore()
	seed(mem, "")
	ch := NewChannel(billing.NewReconciler(&brokenAuditStore{MemoryStore: mem}, nil))

	_, err := ch.GrantOverride(ctx, operator, tenantID, request(FreeListing, true))
	require.ErrorIs(t, err, audit.ErrAuditWriteFailed)
	assert.ErrorIs(t, err, errSinkDown)

	ov, err := mem.GetOverrides(ctx, tenantID)
	require.NoError(t, err)
	assert.Nil(t, ov)
	assert.False(t, published(t, mem))
	assert.Empty(t, mem.AuditRecords())
}

func TestGrantOverride_TierAndCredits(t *testing.T) {
	ctx := context.Background()
	store := billing.NewMemoryStore()
	seed(store, models.SubscriptionStatusActive)
	ch := NewChannel(billing.NewReconciler(store, nil))

	out, err := ch.GrantOverride(ctx, operator, tenantID, request(Tier, "PREMIUM"))
	require.NoError(t, err)
	assert.Equal(t, entitlements.TierPremium, out.Entitlements.Tier)
	assert.True(t, out.Entitlements.Inventory)

	out, err = ch.GrantOverride(ctx, operator, tenantID, request(BoostCredits, 3))
	require.NoError(t, err)
	assert.True(t, out.Entitlements.Boost)
	assert.Equal(t, int64(3), out.Entitlements.BoostCredits)

	out, err = ch.GrantOverride(ctx, operator, tenantID, request(Analytics, false))
	require.NoError(t, err)
	assert.False(t, out.Entitlements.Analytics)
	assert.True(t, out.Entitlements.Inventory)

	ov, _ := store.GetOverrides(ctx, tenantID)
	assert.Equal(t, "premium", ov.Tier)
	assert.Len(t, store.AuditRecords(), 3)
}

func TestGrantOverride_InvalidRequests(t *testing.T) {
	store := billing.NewMemoryStore()
	seed(store, "")
	ch := NewChannel(billing.NewReconciler(store, nil))

	tests := []struct {
		name string
		req  Request
	}{
		{"missing capability", request("", true)},
		{"unknown capability", request("publish_everywhere", true)},
		{"flag expects bool", request(Inventory, "yes")},
		{"unknown tier", request(Tier, "gold")},
		{"tier expects string", request(Tier, 2)},
		{"negative credits", request(BoostCredits, -1)},
		{"fractional credits", request(BoostCredits, 1.5)},
		{"null credits", request(BoostCredits, nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ch.GrantOverride(context.Background(), operator, tenantID, tt.req)
			assert.ErrorIs(t, err, ErrInvalidOverride)
		})
	}

	_, err := ch.GrantOverride(context.Background(), "  ", tenantID, request(FreeListing, true))
	assert.ErrorIs(t, err, audit.ErrMissingActor)
	assert.Empty(t, store.AuditRecords())
}

func TestPauseAndReactivate(t *testing.T) {
	ctx := context.Background()
	store := billing.NewMemoryStore()
	seed(store, models.SubscriptionStatusActive)
	ch := NewChannel(billing.NewReconciler(store, nil))

	out, err := ch.Pause(ctx, operator, tenantID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusPaused, out.Subscription.Status)
	assert.False(t, out.Entitlements.CanPublish)
	assert.False(t, published(t, store))

	_, err = ch.Pause(ctx, operator, tenantID)
	assert.ErrorIs(t, err, billing.ErrInvalidTransition)

	out, err = ch.Reactivate(ctx, operator, tenantID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, out.Subscription.Status)
	assert.True(t, published(t, store))

	records := store.AuditRecords()
	require.Len(t, records, 2)
	assert.Equal(t, audit.ActionSubscriptionPause, records[0].Action)
	assert.Equal(t, audit.ActionSubscriptionResume, records[1].Action)
	snap, err := audit.Decode(records[0].After)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusPaused, snap.Subscription.Status)
}

func TestPause_AuditFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	mem := billing.NewMemoryStore()
	seed(mem, models.SubscriptionStatusActive)
	ch := NewChannel(billing.NewReconciler(&brokenAuditStore{MemoryStore: mem}, nil))

	_, err := ch.Pause(ctx, operator, tenantID)
	require.ErrorIs(t, err, audit.ErrAuditWriteFailed)

	sub, _ := mem.Get(ctx, tenantID)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.True(t, published(t, mem))
}

func TestPause_NoSubscription(t *testing.T) {
	store := billing.NewMemoryStore()
	ch := NewChannel(billing.NewReconciler(store, nil))

	_, err := ch.Pause(context.Background(), operator, tenantID)
	assert.ErrorIs(t, err, billing.ErrNotFound)
}
