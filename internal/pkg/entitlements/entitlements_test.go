package entitlements

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ManuelReschke/VenueFox/app/models"
)

func boolPtr(b bool) *bool { return &b }

func sub(status models.SubscriptionStatus, plan models.SubscriptionPlan) *models.Subscription {
	return &models.Subscription{TenantID: 1, Status: status, Plan: plan}
}

func TestNormalizeTier(t *testing.T) {
	tests := []struct {
		in   string
		want Tier
	}{
		{in: "free", want: TierFree},
		{in: "pro", want: TierPro},
		{in: "PREMIUM", want: TierPremium},
		{in: " premium ", want: TierPremium},
		{in: "gold", want: TierFree},
	}

	for _, tt := range tests {
		if got := NormalizeTier(tt.in); got != tt.want {
			t.Fatalf("NormalizeTier(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRequireTier(t *testing.T) {
	assert.True(t, RequireTier(TierPremium, TierPro))
	assert.True(t, RequireTier(TierPro, TierPro))
	assert.True(t, RequireTier(TierFree, TierFree))
	assert.False(t, RequireTier(TierFree, TierPro))
	assert.False(t, RequireTier(TierPro, TierPremium))
}

func TestStatusGrantsPublish(t *testing.T) {
	for _, s := range []models.SubscriptionStatus{models.SubscriptionStatusActive, models.SubscriptionStatusPastDue} {
		assert.True(t, StatusGrantsPublish(s), "status %q should publish", s)
	}
	for _, s := range []models.SubscriptionStatus{
		models.SubscriptionStatusIncomplete,
		models.SubscriptionStatusTrialing,
		models.SubscriptionStatusPaused,
		models.SubscriptionStatusCanceled,
	} {
		assert.False(t, StatusGrantsPublish(s), "status %q should not publish", s)
	}
}

func TestResolve_NoSubscriptionNoOverride(t *testing.T) {
	set := Resolve(nil, nil)

	assert.False(t, set.CanPublish)
	assert.False(t, set.Analytics)
	assert.False(t, set.Inventory)
	assert.False(t, set.Boost)
	assert.Equal(t, TierFree, set.Tier)
	assert.Equal(t, SourceDefault, set.Sources[CapabilityPublish])
}

func TestResolve_SubscriptionStatus(t *testing.T) {
	tests := []struct {
		name        string
		sub         *models.Subscription
		wantPublish bool
		wantTier    Tier
	}{
		{"active monthly", sub(models.SubscriptionStatusActive, models.PlanMonthly), true, TierPro},
		{"active yearly", sub(models.SubscriptionStatusActive, models.PlanYearly), true, TierPremium},
		{"past due keeps grace", sub(models.SubscriptionStatusPastDue, models.PlanSixMonth), true, TierPro},
		{"paused", sub(models.SubscriptionStatusPaused, models.PlanYearly), false, TierFree},
		{"canceled", sub(models.SubscriptionStatusCanceled, models.PlanYearly), false, TierFree},
		{"incomplete", sub(models.SubscriptionStatusIncomplete, models.PlanMonthly), false, TierFree},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := Resolve(tt.sub, nil)
			assert.Equal(t, tt.wantPublish, set.CanPublish)
			assert.Equal(t, tt.wantTier, set.Tier)
		})
	}
}

func TestResolve_PlanCeiling(t *testing.T) {
	monthly := Resolve(sub(models.SubscriptionStatusActive, models.PlanMonthly), nil)
	assert.True(t, monthly.Analytics)
	assert.False(t, monthly.Inventory)

	yearly := Resolve(sub(models.SubscriptionStatusActive, models.PlanYearly), nil)
	assert.True(t, yearly.Analytics)
	assert.True(t, yearly.Inventory)
}

func TestResolve_OverrideWinsOverSubscription(t *testing.T) {
	ov := &models.EntitlementOverride{
		TenantID:    1,
		FreeListing: boolPtr(false),
		Analytics:   boolPtr(false),
	}

	set := Resolve(sub(models.SubscriptionStatusActive, models.PlanYearly), ov)

	assert.False(t, set.CanPublish, "explicit revoke must beat an active subscription")
	assert.False(t, set.Analytics)
	assert.True(t, set.Inventory, "inventory still follows the plan ceiling")
	assert.Equal(t, SourceOverride, set.Sources[CapabilityPublish])
	assert.Equal(t, SourceSubscription, set.Sources[CapabilityInventory])
}

func TestResolve_FreeListingWithoutSubscription(t *testing.T) {
	ov := &models.EntitlementOverride{TenantID: 1, FreeListing: boolPtr(true)}

	set := Resolve(nil, ov)
	assert.True(t, set.CanPublish)
	assert.Equal(t, TierFree, set.Tier)
	assert.False(t, set.Analytics)

	canceled := Resolve(sub(models.SubscriptionStatusCanceled, models.PlanMonthly), ov)
	assert.True(t, canceled.CanPublish)
}

func TestResolve_TierOverride(t *testing.T) {
	ov := &models.EntitlementOverride{TenantID: 1, Tier: "premium"}

	set := Resolve(sub(models.SubscriptionStatusActive, models.PlanMonthly), ov)
	assert.Equal(t, TierPremium, set.Tier)
	assert.True(t, set.Inventory)
	assert.Equal(t, SourceOverride, set.Sources[CapabilityInventory])
}

func TestResolve_Boost(t *testing.T) {
	ov := &models.EntitlementOverride{TenantID: 1, BoostCredits: 3}

	assert.True(t, Resolve(sub(models.SubscriptionStatusActive, models.PlanMonthly), ov).Boost)
	assert.False(t, Resolve(sub(models.SubscriptionStatusCanceled, models.PlanMonthly), ov).Boost, "boost needs publish")
	assert.False(t, Resolve(sub(models.SubscriptionStatusActive, models.PlanMonthly), nil).Boost, "boost needs credits")
}

func TestSetAllows(t *testing.T) {
	set := Set{CanPublish: true, Analytics: true}

	assert.True(t, set.Allows(CapabilityPublish))
	assert.True(t, set.Allows(CapabilityAnalytics))
	assert.False(t, set.Allows(CapabilityInventory))
	assert.False(t, set.Allows(Capability("unknown")))
}

func TestParseCapability(t *testing.T) {
	c, ok := ParseCapability(" Analytics ")
	assert.True(t, ok)
	assert.Equal(t, CapabilityAnalytics, c)

	_, ok = ParseCapability("teleport")
	assert.False(t, ok)
}
