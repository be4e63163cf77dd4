package billing

import (
	"encoding/json"
	"time"

	"github.com/ManuelReschke/VenueFox/app/models"
)

// deferredEvent is the part of an Event needed to replay it later.
type deferredEvent struct {
	Provider          string                  `json:"provider"`
	Kind              EventKind               `json:"kind"`
	EventType         string                  `json:"event_type"`
	ProviderEventID   string                  `json:"provider_event_id,omitempty"`
	ObservedAt        time.Time               `json:"observed_at"`
	Plan              models.SubscriptionPlan `json:"plan,omitempty"`
	CurrentPeriodEnd  *time.Time              `json:"current_period_end,omitempty"`
	TrialEndsAt       *time.Time              `json:"trial_ends_at,omitempty"`
	CanceledAt        *time.Time              `json:"canceled_at,omitempty"`
	CancelAtPeriodEnd *bool                   `json:"cancel_at_period_end,omitempty"`
}

func encodeDeferred(ev Event) (string, error) {
	raw, err := json.Marshal(deferredEvent{
		Provider:          ev.Provider,
		Kind:              ev.Kind,
		EventType:         ev.EventType,
		ProviderEventID:   ev.ProviderEventID,
		ObservedAt:        ev.ObservedAt,
		Plan:              ev.Plan,
		CurrentPeriodEnd:  ev.CurrentPeriodEnd,
		TrialEndsAt:       ev.TrialEndsAt,
		CanceledAt:        ev.CanceledAt,
		CancelAtPeriodEnd: ev.CancelAtPeriodEnd,
	})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// decodeDeferred returns false when nothing usable is stored.
func decodeDeferred(raw string) (Event, bool) {
	if raw == "" {
		return Event{}, false
	}
	var d deferredEvent
	if err := json.Unmarshal([]byte(raw), &d); err != nil || d.Kind == "" {
		return Event{}, false
	}
	return Event{
		Provider:          d.Provider,
		ProviderEventID:   d.ProviderEventID,
		EventType:         d.EventType,
		Kind:              d.Kind,
		ObservedAt:        d.ObservedAt,
		Plan:              d.Plan,
		CurrentPeriodEnd:  d.CurrentPeriodEnd,
		TrialEndsAt:       d.TrialEndsAt,
		CanceledAt:        d.CanceledAt,
		CancelAtPeriodEnd: d.CancelAtPeriodEnd,
	}, true
}
