package models

import "time"

// SubscriptionStatus is the lifecycle state of a tenant subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusPaused     SubscriptionStatus = "paused"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
)

// SubscriptionPlan is the billing cadence a tenant checked out with.
type SubscriptionPlan string

const (
	PlanMonthly  SubscriptionPlan = "monthly"
	PlanSixMonth SubscriptionPlan = "six_month"
	PlanYearly   SubscriptionPlan = "yearly"
)

// Subscription is the single billing record of a tenant. It is never deleted;
// Version guards every status transition against concurrent writers.
type Subscription struct {
	ID                 uint               `gorm:"primaryKey" json:"id"`
	TenantID           uint               `gorm:"not null;uniqueIndex:ux_subscriptions_tenant" json:"tenant_id"`
	Plan               SubscriptionPlan   `gorm:"type:varchar(20);not null;default:'monthly'" json:"plan"`
	Status             SubscriptionStatus `gorm:"type:varchar(20);not null;default:'incomplete';index" json:"status"`
	ExternalRef        *string            `gorm:"type:varchar(191);uniqueIndex:ux_subscriptions_external_ref" json:"external_ref,omitempty"`
	CurrentPeriodEnd   *time.Time         `gorm:"type:timestamp;default:null;index" json:"current_period_end,omitempty"`
	TrialEndsAt        *time.Time         `gorm:"type:timestamp;default:null" json:"trial_ends_at,omitempty"`
	CanceledAt         *time.Time         `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`
	CancelAtPeriodEnd  bool               `gorm:"default:false" json:"cancel_at_period_end"`
	LastReminderSentAt *time.Time         `gorm:"type:timestamp;default:null" json:"last_reminder_sent_at,omitempty"`
	LastReconciledAt   *time.Time         `gorm:"type:timestamp(6);default:null" json:"last_reconciled_at,omitempty"`
	// DeferredEvent holds the newest processor event that arrived before the
	// status it applies to. It is replayed after the next committed transition.
	DeferredEvent string    `gorm:"type:text" json:"-"`
	Version       uint      `gorm:"not null;default:1" json:"version"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Ref returns the processor subscription id, or "" before the first event linked it.
func (s *Subscription) Ref() string {
	if s == nil || s.ExternalRef == nil {
		return ""
	}
	return *s.ExternalRef
}

// Clone returns a deep copy so callers can compute a next state without
// touching the row they read.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	out := *s
	out.ExternalRef = cloneString(s.ExternalRef)
	out.CurrentPeriodEnd = cloneTime(s.CurrentPeriodEnd)
	out.TrialEndsAt = cloneTime(s.TrialEndsAt)
	out.CanceledAt = cloneTime(s.CanceledAt)
	out.LastReminderSentAt = cloneTime(s.LastReminderSentAt)
	out.LastReconciledAt = cloneTime(s.LastReconciledAt)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}
