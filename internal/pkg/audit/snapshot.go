package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/VenueFox/app/models"
)

// Kind names the entity a snapshot describes.
type Kind string

const (
	KindOverrides    Kind = models.AuditEntityOverride
	KindSubscription Kind = models.AuditEntitySubscription
)

var ErrInvalidSnapshot = errors.New("audit: invalid snapshot")

// OverrideState is the audited shape of an EntitlementOverride row.
type OverrideState struct {
	FreeListing  *bool  `json:"free_listing"`
	Analytics    *bool  `json:"analytics"`
	Inventory    *bool  `json:"inventory"`
	Tier         string `json:"tier"`
	BoostCredits int64  `json:"boost_credits"`
}

// SubscriptionState is the audited shape of a Subscription row.
type SubscriptionState struct {
	Status           models.SubscriptionStatus `json:"status"`
	Plan             models.SubscriptionPlan   `json:"plan"`
	ExternalRef      string                    `json:"external_ref"`
	CurrentPeriodEnd *time.Time                `json:"current_period_end"`
	Version          uint                      `json:"version"`
}

// Snapshot is a tagged union: Kind says which one of Overrides or
// Subscription is set.
type Snapshot struct {
	Kind         Kind               `json:"kind"`
	Overrides    *OverrideState     `json:"overrides,omitempty"`
	Subscription *SubscriptionState `json:"subscription,omitempty"`
}

// OverrideSnapshot captures ov. A nil override yields nil (no row yet).
func OverrideSnapshot(ov *models.EntitlementOverride) *Snapshot {
	if ov == nil {
		return nil
	}
	c := ov.Clone()
	return &Snapshot{
		Kind: KindOverrides,
		Overrides: &OverrideState{
			FreeListing:  c.FreeListing,
			Analytics:    c.Analytics,
			Inventory:    c.Inventory,
			Tier:         c.Tier,
			BoostCredits: c.BoostCredits,
		},
	}
}

// SubscriptionSnapshot captures sub. A nil subscription yields nil.
func SubscriptionSnapshot(sub *models.Subscription) *Snapshot {
	if sub == nil {
		return nil
	}
	c := sub.Clone()
	return &Snapshot{
		Kind: KindSubscription,
		Subscription: &SubscriptionState{
			Status:           c.Status,
			Plan:             c.Plan,
			ExternalRef:      c.Ref(),
			CurrentPeriodEnd: c.CurrentPeriodEnd,
			Version:          c.Version,
		},
	}
}

func (s *Snapshot) validate() error {
	switch s.Kind {
	case KindOverrides:
		if s.Overrides == nil || s.Subscription != nil {
			return fmt.Errorf("%w: %s needs exactly the overrides payload", ErrInvalidSnapshot, s.Kind)
		}
	case KindSubscription:
		if s.Subscription == nil || s.Overrides != nil {
			return fmt.Errorf("%w: %s needs exactly the subscription payload", ErrInvalidSnapshot, s.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSnapshot, s.Kind)
	}
	return nil
}

// Encode renders the snapshot for storage. nil encodes to "".
func Encode(s *Snapshot) (string, error) {
	if s == nil {
		return "", nil
	}
	if err := s.validate(); err != nil {
		return "", err
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses a stored snapshot. "" decodes to nil.
func Decode(raw string) (*Snapshot, error) {
	if raw == "" {
		return nil, nil
	}
	var s Snapshot
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
