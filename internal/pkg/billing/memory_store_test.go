package billing

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/VenueFox/app/models"
)

func TestMemoryStore_TransitionVersionCheck(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	sub := seedSubscription(t, store, models.SubscriptionStatusIncomplete, models.PlanMonthly)

	next, err := store.Transition(ctx, sub.ID, sub.Version, models.SubscriptionStatusTrialing, Fields{})
	require.NoError(t, err)
	assert.Equal(t, sub.Version+1, next.Version)

	_, err = store.Transition(ctx, sub.ID, sub.Version, models.SubscriptionStatusActive, Fields{})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = store.Transition(ctx, 999, 1, models.SubscriptionStatusActive, Fields{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_AtomicallyRollsBack(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	sub := seedSubscription(t, store, models.SubscriptionStatusActive, models.PlanMonthly)

	boom := errors.New("boom")
	err := store.Atomically(ctx, func(tx Tx) error {
		if _, err := tx.Transition(sub.ID, sub.Version, models.SubscriptionStatusCanceled, Fields{}); err != nil {
			return err
		}
		if _, err := tx.SetListingsPublished(testTenantID, true); err != nil {
			return err
		}
		if err := tx.SaveOverrides(&models.EntitlementOverride{TenantID: testTenantID, BoostCredits: 5}); err != nil {
			return err
		}
		if err := tx.AppendAudit(&models.AuditRecord{ID: "a1", Actor: "ops@venuefox.test"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, _ := store.Get(ctx, testTenantID)
	assert.Equal(t, models.SubscriptionStatusActive, got.Status)
	assert.Equal(t, sub.Version, got.Version)
	assertListingsPublished(t, store, testTenantID, false)
	ov, err := store.GetOverrides(ctx, testTenantID)
	require.NoError(t, err)
	assert.Nil(t, ov)
	assert.Empty(t, store.AuditRecords())
}

func TestMemoryStore_UpsertRestartAndLink(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sub, err := store.Upsert(ctx, testTenantID, UpsertFields{Plan: models.PlanYearly, Restart: true})
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusIncomplete, sub.Status)
	assert.Equal(t, models.PlanYearly, sub.Plan)
	assert.Equal(t, "", sub.Ref())

	ref := "sub_new"
	sub, err = store.Upsert(ctx, testTenantID, UpsertFields{ExternalRef: &ref})
	require.NoError(t, err)
	assert.Equal(t, ref, sub.Ref())

	_, err = store.Upsert(ctx, 8, UpsertFields{ExternalRef: &ref})
	assert.ErrorIs(t, err, ErrExternalRefTaken)

	canceledAt := t3
	_, err = store.Transition(ctx, sub.ID, sub.Version, models.SubscriptionStatusCanceled, Fields{CanceledAt: &canceledAt})
	require.NoError(t, err)

	sub, err = store.Upsert(ctx, testTenantID, UpsertFields{Plan: models.PlanMonthly, Restart: true})
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusIncomplete, sub.Status)
	assert.Equal(t, models.PlanMonthly, sub.Plan)
	assert.Nil(t, sub.CanceledAt)
	assert.Equal(t, "", sub.Ref(), "restart drops the old processor reference")
}

func TestMemoryStore_UpsertKeepsLiveSubscription(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seeded := seedSubscription(t, store, models.SubscriptionStatusActive, models.PlanMonthly)

	sub, err := store.Upsert(ctx, testTenantID, UpsertFields{Plan: models.PlanYearly, Restart: true})
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, models.PlanMonthly, sub.Plan)
	assert.Equal(t, seeded.Version, sub.Version)
}

func TestMemoryStore_ReminderCandidates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	soon := t1
	later := t1.AddDate(0, 2, 0)

	a := store.PutSubscription(models.Subscription{TenantID: 1, Status: models.SubscriptionStatusActive, CurrentPeriodEnd: &soon})
	store.PutSubscription(models.Subscription{TenantID: 2, Status: models.SubscriptionStatusActive, CurrentPeriodEnd: &later})
	store.PutSubscription(models.Subscription{TenantID: 3, Status: models.SubscriptionStatusPastDue, CurrentPeriodEnd: &soon})

	due, err := store.ListReminderCandidates(ctx, t1.AddDate(0, 0, 7), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, a.ID, due[0].ID)

	assert.ErrorIs(t, store.MarkReminderSent(ctx, a.ID, a.Version+1, t1), ErrConflict)
	assert.ErrorIs(t, store.MarkReminderSent(ctx, 404, 1, t1), ErrNotFound)

	require.NoError(t, store.MarkReminderSent(ctx, a.ID, a.Version, t1))
	due, err = store.ListReminderCandidates(ctx, t1.AddDate(0, 0, 7), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	marked, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, a.Version+1, marked.Version)
}

func TestMemoryStore_ConsumeBoostCreditConcurrent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Atomically(ctx, func(tx Tx) error {
		return tx.SaveOverrides(&models.EntitlementOverride{TenantID: testTenantID, FreeListing: boolPtr(true), BoostCredits: 1})
	}))
	svc := NewService(store, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	spent := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.ConsumeBoostCredit(ctx, testTenantID); err == nil {
				mu.Lock()
				spent++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, spent, "the last credit is spent once")
	ov, err := store.GetOverrides(ctx, testTenantID)
	require.NoError(t, err)
	assert.Zero(t, ov.BoostCredits)
	require.NotNil(t, ov.FreeListing)
	assert.True(t, *ov.FreeListing)
}
