package billing

import (
	"context"
	"time"

	"github.com/ManuelReschke/VenueFox/app/models"
)

// Store is the durable home of subscriptions and overrides. Reads outside
// Atomically see the latest committed state and never take locks.
type Store interface {
	Get(ctx context.Context, tenantID uint) (*models.Subscription, error)
	GetByExternalRef(ctx context.Context, ref string) (*models.Subscription, error)
	// GetOverrides returns nil and no error when the tenant has none.
	GetOverrides(ctx context.Context, tenantID uint) (*models.EntitlementOverride, error)
	Upsert(ctx context.Context, tenantID uint, fields UpsertFields) (*models.Subscription, error)
	// Transition moves a subscription to status when its version still equals
	// expectedVersion. It fails with ErrNotFound or ErrConflict.
	Transition(ctx context.Context, subscriptionID, expectedVersion uint, status models.SubscriptionStatus, fields Fields) (*models.Subscription, error)
	// Atomically runs fn in one transaction scope. Any error rolls back every
	// write fn made.
	Atomically(ctx context.Context, fn func(tx Tx) error) error

	ListReminderCandidates(ctx context.Context, dueBefore time.Time, limit int) ([]models.Subscription, error)
	// MarkReminderSent fails with ErrConflict when the subscription changed
	// since it was listed; the reminder belongs to a period that moved.
	MarkReminderSent(ctx context.Context, subscriptionID, expectedVersion uint, at time.Time) error
}

// Tx is the transactional view handed to Atomically callbacks. Its reads lock
// the rows they return until the transaction ends.
type Tx interface {
	SubscriptionByTenant(tenantID uint) (*models.Subscription, error)
	SubscriptionByExternalRef(ref string) (*models.Subscription, error)
	Overrides(tenantID uint) (*models.EntitlementOverride, error)
	Upsert(tenantID uint, fields UpsertFields) (*models.Subscription, error)
	Transition(subscriptionID, expectedVersion uint, status models.SubscriptionStatus, fields Fields) (*models.Subscription, error)
	SaveOverrides(ov *models.EntitlementOverride) error
	// ConsumeBoostCredit decrements the tenant's boost balance by one in a
	// single conditional write and returns what is left.
	ConsumeBoostCredit(tenantID uint) (int64, error)
	// SetListingsPublished flips every listing of the tenant and returns the
	// number of rows changed.
	SetListingsPublished(tenantID uint, published bool) (int64, error)
	AppendAudit(rec *models.AuditRecord) error
}

func applyFields(sub *models.Subscription, status models.SubscriptionStatus, f Fields) {
	sub.Status = status
	if f.Plan != "" {
		sub.Plan = f.Plan
	}
	if f.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = cloneTime(f.CurrentPeriodEnd)
	}
	if f.TrialEndsAt != nil {
		sub.TrialEndsAt = cloneTime(f.TrialEndsAt)
	}
	if f.CanceledAt != nil {
		sub.CanceledAt = cloneTime(f.CanceledAt)
	}
	if f.CancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *f.CancelAtPeriodEnd
	}
	if f.LastReconciledAt != nil {
		sub.LastReconciledAt = cloneTime(f.LastReconciledAt)
	}
	if f.ClearReminder {
		sub.LastReminderSentAt = nil
	}
	if f.Deferred != nil {
		sub.DeferredEvent = *f.Deferred
	}
}

func fieldUpdates(status models.SubscriptionStatus, f Fields) map[string]interface{} {
	updates := map[string]interface{}{
		"status": status,
	}
	if f.Plan != "" {
		updates["plan"] = f.Plan
	}
	if f.CurrentPeriodEnd != nil {
		updates["current_period_end"] = *f.CurrentPeriodEnd
	}
	if f.TrialEndsAt != nil {
		updates["trial_ends_at"] = *f.TrialEndsAt
	}
	if f.CanceledAt != nil {
		updates["canceled_at"] = *f.CanceledAt
	}
	if f.CancelAtPeriodEnd != nil {
		updates["cancel_at_period_end"] = *f.CancelAtPeriodEnd
	}
	if f.LastReconciledAt != nil {
		updates["last_reconciled_at"] = *f.LastReconciledAt
	}
	if f.ClearReminder {
		updates["last_reminder_sent_at"] = nil
	}
	if f.Deferred != nil {
		updates["deferred_event"] = *f.Deferred
	}
	return updates
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
