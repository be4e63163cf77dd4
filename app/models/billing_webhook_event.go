package models

import "time"

// Billing provider constants used across billing-related models.
const (
	BillingProviderStripe = "stripe"
)

// Ledger outcomes stored on processed webhook events.
const (
	WebhookOutcomePending    = "pending"
	WebhookOutcomeApplied    = "applied"
	WebhookOutcomeStale      = "stale"
	WebhookOutcomeUnknownRef = "unknown_ref"
	WebhookOutcomeIgnored    = "ignored"
)

// BillingWebhookEvent is one idempotency ledger entry. LedgerKey hashes
// (external ref, event type, observed at) and is unique, so a redelivered
// event collides on insert.
type BillingWebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(20);not null;index" json:"provider"`
	LedgerKey       string     `gorm:"type:char(64);not null;uniqueIndex:ux_billing_webhook_events_key" json:"ledger_key"`
	ProviderEventID string     `gorm:"type:varchar(191);not null;default:''" json:"provider_event_id"`
	ExternalRef     string     `gorm:"type:varchar(191);not null;default:'';index" json:"external_ref"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	ObservedAt      time.Time  `gorm:"type:timestamp(6);not null" json:"observed_at"`
	Outcome         string     `gorm:"type:varchar(20);not null;default:'pending'" json:"outcome"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
