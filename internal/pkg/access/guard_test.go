package access

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/VenueFox/app/models"
	"github.com/ManuelReschke/VenueFox/internal/pkg/billing"
	"github.com/ManuelReschke/VenueFox/internal/pkg/entitlements"
)

type fakeDirectory struct {
	tenants map[uint]*models.Tenant
	members map[uint][]uint
	err     error
}

func (d *fakeDirectory) GetByID(id uint) (*models.Tenant, error) {
	t, ok := d.tenants[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return t, nil
}

func (d *fakeDirectory) IsMember(tenantID, userID uint) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	for _, id := range d.members[tenantID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

var (
	owner    = &models.User{ID: 1, Role: models.ROLE_USER}
	stranger = &models.User{ID: 2, Role: models.ROLE_USER}
	operator = &models.User{ID: 3, Role: models.ROLE_ADMIN}
)

func newFixture(status models.SubscriptionStatus, plan models.SubscriptionPlan) (*Guard, *billing.MemoryStore) {
	store := billing.NewMemoryStore()
	if status != "" {
		store.PutSubscription(models.Subscription{TenantID: 10, Plan: plan, Status: status})
	}
	dir := &fakeDirectory{
		tenants: map[uint]*models.Tenant{
			10: {ID: 10, Name: "Harbour Venues", Status: models.TENANT_STATUS_ACTIVE},
			11: {ID: 11, Name: "Closed Venues", Status: models.TENANT_STATUS_DEACTIVATED},
		},
		members: map[uint][]uint{10: {owner.ID}, 11: {owner.ID}},
	}
	return NewGuard(dir, store), store
}

func TestRequireAccess_Outcomes(t *testing.T) {
	tests := []struct {
		name       string
		status     models.SubscriptionStatus
		plan       models.SubscriptionPlan
		user       *models.User
		tenantID   uint
		capability entitlements.Capability
		wantErr    error
	}{
		{"no identity", models.SubscriptionStatusActive, models.PlanMonthly, nil, 10, entitlements.CapabilityPublish, ErrUnauthenticated},
		{"not a member", models.SubscriptionStatusActive, models.PlanMonthly, stranger, 10, entitlements.CapabilityPublish, ErrForbidden},
		{"member without subscription", "", "", owner, 10, entitlements.CapabilityPublish, ErrPaywallRequired},
		{"member with active subscription", models.SubscriptionStatusActive, models.PlanMonthly, owner, 10, entitlements.CapabilityPublish, nil},
		{"past due keeps publish", models.SubscriptionStatusPastDue, models.PlanMonthly, owner, 10, entitlements.CapabilityPublish, nil},
		{"paused loses publish", models.SubscriptionStatusPaused, models.PlanMonthly, owner, 10, entitlements.CapabilityPublish, ErrPaywallRequired},
		{"monthly has analytics", models.SubscriptionStatusActive, models.PlanMonthly, owner, 10, entitlements.CapabilityAnalytics, nil},
		{"monthly lacks inventory", models.SubscriptionStatusActive, models.PlanMonthly, owner, 10, entitlements.CapabilityInventory, ErrPaywallRequired},
		{"yearly has inventory", models.SubscriptionStatusActive, models.PlanYearly, owner, 10, entitlements.CapabilityInventory, nil},
		{"operator is a member", models.SubscriptionStatusActive, models.PlanMonthly, operator, 10, entitlements.CapabilityPublish, nil},
		{"deactivated tenant", models.SubscriptionStatusActive, models.PlanMonthly, owner, 11, entitlements.CapabilityPublish, ErrForbidden},
		{"unknown tenant for operator", models.SubscriptionStatusActive, models.PlanMonthly, operator, 99, entitlements.CapabilityPublish, ErrTenantNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			guard, _ := newFixture(tt.status, tt.plan)
			d, err := guard.RequireAccess(context.Background(), tt.user, tt.tenantID, tt.capability)
			if tt.wantErr == nil {
				require.NoError(t, err)
				require.NotNil(t, d.Tenant)
				assert.Equal(t, tt.tenantID, d.Tenant.ID)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRequireAccess_PaywallCarriesDecision(t *testing.T) {
	guard, _ := newFixture(models.SubscriptionStatusCanceled, models.PlanMonthly)

	d, err := guard.RequireAccess(context.Background(), owner, 10, entitlements.CapabilityPublish)
	require.ErrorIs(t, err, ErrPaywallRequired)
	require.NotNil(t, d.Tenant)
	assert.False(t, d.Entitlements.CanPublish)
	assert.Equal(t, entitlements.TierFree, d.Entitlements.Tier)
}

func TestRequireAccess_RevokeOverrideWins(t *testing.T) {
	ctx := context.Background()
	guard, store := newFixture(models.SubscriptionStatusActive, models.PlanYearly)
	revoke := false
	require.NoError(t, store.Atomically(ctx, func(tx billing.Tx) error {
		return tx.SaveOverrides(&models.EntitlementOverride{TenantID: 10, FreeListing: &revoke, Inventory: &revoke})
	}))

	_, err := guard.RequireAccess(ctx, owner, 10, entitlements.CapabilityPublish)
	assert.ErrorIs(t, err, ErrPaywallRequired)
	_, err = guard.RequireAccess(ctx, owner, 10, entitlements.CapabilityInventory)
	assert.ErrorIs(t, err, ErrPaywallRequired)
	_, err = guard.RequireAccess(ctx, owner, 10, entitlements.CapabilityAnalytics)
	assert.NoError(t, err)
}

func TestRequireAccess_DoesNotWrite(t *testing.T) {
	ctx := context.Background()
	guard, store := newFixture(models.SubscriptionStatusActive, models.PlanMonthly)
	before, _ := store.Get(ctx, 10)

	for i := 0; i < 3; i++ {
		_, _ = guard.RequireAccess(ctx, owner, 10, entitlements.CapabilityBoost)
	}

	after, _ := store.Get(ctx, 10)
	assert.Equal(t, before.Version, after.Version)
	ov, err := store.GetOverrides(ctx, 10)
	require.NoError(t, err)
	assert.Nil(t, ov)
}

func TestRequireTier(t *testing.T) {
	guard, _ := newFixture(models.SubscriptionStatusActive, models.PlanSixMonth)

	d, err := guard.RequireTier(context.Background(), owner, 10, entitlements.TierPro)
	require.NoError(t, err)
	assert.Equal(t, entitlements.TierPro, d.Entitlements.Tier)

	_, err = guard.RequireTier(context.Background(), owner, 10, entitlements.TierPremium)
	assert.ErrorIs(t, err, ErrPaywallRequired)

	_, err = guard.RequireTier(context.Background(), nil, 10, entitlements.TierFree)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestRequireMember_LookupError(t *testing.T) {
	dbDown := errors.New("connection refused")
	guard := NewGuard(&fakeDirectory{err: dbDown}, billing.NewMemoryStore())

	_, err := guard.RequireMember(context.Background(), owner, 10)
	assert.ErrorIs(t, err, dbDown)
	assert.NotErrorIs(t, err, ErrForbidden)
}
