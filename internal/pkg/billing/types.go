package billing

import (
	"encoding/json"
	"time"

	"github.com/ManuelReschke/VenueFox/app/models"
)

// EventKind is the internal transition a processor event maps onto.
type EventKind string

const (
	// EventIgnored marks event types that are accepted but drive no transition.
	EventIgnored         EventKind = "ignored"
	EventLink            EventKind = "link"
	EventTrialing        EventKind = "trialing"
	EventActivated       EventKind = "activated"
	EventPaymentFailed   EventKind = "payment_failed"
	EventRenewed         EventKind = "renewed"
	EventCanceled        EventKind = "canceled"
	EventSuspended       EventKind = "suspended"
	EventAdminPause      EventKind = "admin_pause"
	EventAdminReactivate EventKind = "admin_reactivate"
)

// Event is a normalized transition request. It lives only as long as one
// delivery; the idempotency ledger keeps its key.
type Event struct {
	Provider        string
	ProviderEventID string
	ExternalRef     string
	EventType       string
	Kind            EventKind
	ObservedAt      time.Time

	// TenantID and Plan are only known for link events (checkout metadata).
	TenantID uint
	Plan     models.SubscriptionPlan
	// FollowUp is applied right after a link when the linking event already
	// carries a status, e.g. a subscription created as active.
	FollowUp EventKind

	CurrentPeriodEnd  *time.Time
	TrialEndsAt       *time.Time
	CanceledAt        *time.Time
	CancelAtPeriodEnd *bool

	Payload json.RawMessage
}

// Outcome is the accepted result of processing one event.
type Outcome string

const (
	OutcomeApplied    Outcome = "applied"
	OutcomeStale      Outcome = "stale"
	OutcomeUnknownRef Outcome = "unknown_ref"
	OutcomeIgnored    Outcome = "ignored"
	// OutcomeDeferred means the event is not allowed from the current status
	// yet; it is kept on the subscription and replayed later.
	OutcomeDeferred  Outcome = "deferred"
	OutcomeDuplicate Outcome = "duplicate"
)

// Fields carries the columns a transition may change besides status. Nil
// pointers leave the column untouched.
type Fields struct {
	Plan              models.SubscriptionPlan
	CurrentPeriodEnd  *time.Time
	TrialEndsAt       *time.Time
	CanceledAt        *time.Time
	CancelAtPeriodEnd *bool
	LastReconciledAt  *time.Time
	ClearReminder     bool
	// Deferred replaces the stored deferred event; "" clears it.
	Deferred *string
}

// UpsertFields are the columns writable outside the state machine: checkout
// creation and processor linking.
type UpsertFields struct {
	Plan        models.SubscriptionPlan
	ExternalRef *string
	// Restart puts a canceled (or new) subscription back into incomplete for a
	// fresh checkout. It is ignored while the subscription is live.
	Restart bool
}

// Result reports what a reconciler invocation did.
type Result struct {
	Outcome      Outcome
	Subscription *models.Subscription
	From         models.SubscriptionStatus
	To           models.SubscriptionStatus
	Published    *bool
}
