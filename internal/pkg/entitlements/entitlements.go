package entitlements

import (
	"strings"

	"github.com/ManuelReschke/VenueFox/app/models"
)

// Tier is the plan-scoped capability ceiling. Tiers are totally ordered:
// free < pro < premium.
type Tier string

const (
	TierFree    Tier = "free"
	TierPro     Tier = "pro"
	TierPremium Tier = "premium"
)

// Capability is a gated feature checked by the access guard.
type Capability string

const (
	CapabilityPublish   Capability = "publish"
	CapabilityAnalytics Capability = "analytics"
	CapabilityInventory Capability = "inventory"
	CapabilityBoost     Capability = "boost"
)

// Source names the rule that decided a capability.
type Source string

const (
	SourceOverride     Source = "override"
	SourceSubscription Source = "subscription"
	SourceDefault      Source = "default"
)

// Set is the resolved capability set of a tenant at one point in time.
type Set struct {
	CanPublish   bool                  `json:"can_publish"`
	Analytics    bool                  `json:"analytics"`
	Inventory    bool                  `json:"inventory"`
	Boost        bool                  `json:"boost"`
	Tier         Tier                  `json:"tier"`
	BoostCredits int64                 `json:"boost_credits"`
	Sources      map[Capability]Source `json:"sources"`
}

// Allows reports whether the capability is granted.
func (s Set) Allows(c Capability) bool {
	switch c {
	case CapabilityPublish:
		return s.CanPublish
	case CapabilityAnalytics:
		return s.Analytics
	case CapabilityInventory:
		return s.Inventory
	case CapabilityBoost:
		return s.Boost
	default:
		return false
	}
}

// ParseCapability maps user input onto a known capability.
func ParseCapability(raw string) (Capability, bool) {
	c := Capability(strings.ToLower(strings.TrimSpace(raw)))
	switch c {
	case CapabilityPublish, CapabilityAnalytics, CapabilityInventory, CapabilityBoost:
		return c, true
	default:
		return "", false
	}
}

// NormalizeTier maps free-form input onto a tier, defaulting to free.
func NormalizeTier(tier string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(tier))) {
	case TierPremium:
		return TierPremium
	case TierPro:
		return TierPro
	default:
		return TierFree
	}
}

// IsTier reports whether raw names a known tier.
func IsTier(raw string) bool {
	switch Tier(strings.ToLower(strings.TrimSpace(raw))) {
	case TierFree, TierPro, TierPremium:
		return true
	default:
		return false
	}
}

func tierRank(t Tier) int {
	switch NormalizeTier(string(t)) {
	case TierPremium:
		return 2
	case TierPro:
		return 1
	default:
		return 0
	}
}

// RequireTier denies when current ranks below minimum.
func RequireTier(current, minimum Tier) bool {
	return tierRank(current) >= tierRank(minimum)
}

// PlanTier returns the ceiling a paid plan grants.
func PlanTier(plan models.SubscriptionPlan) Tier {
	switch plan {
	case models.PlanYearly:
		return TierPremium
	case models.PlanMonthly, models.PlanSixMonth:
		return TierPro
	default:
		return TierFree
	}
}

// StatusGrantsPublish reports whether a subscription status carries the base
// publish right. past_due keeps it for the grace period.
func StatusGrantsPublish(status models.SubscriptionStatus) bool {
	switch status {
	case models.SubscriptionStatusActive, models.SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}

// Resolve derives the capability set from the subscription (may be nil) and the
// operator overrides (may be nil). Per capability the first matching rule wins:
// an explicit override, then the subscription, then deny.
func Resolve(sub *models.Subscription, ov *models.EntitlementOverride) Set {
	set := Set{
		Tier:    TierFree,
		Sources: make(map[Capability]Source, 4),
	}

	subscribed := sub != nil && StatusGrantsPublish(sub.Status)

	switch {
	case ov != nil && ov.FreeListing != nil:
		set.CanPublish = *ov.FreeListing
		set.Sources[CapabilityPublish] = SourceOverride
	case subscribed:
		set.CanPublish = true
		set.Sources[CapabilityPublish] = SourceSubscription
	default:
		set.Sources[CapabilityPublish] = SourceDefault
	}

	tierSource := SourceDefault
	switch {
	case ov != nil && ov.Tier != "":
		set.Tier = NormalizeTier(ov.Tier)
		tierSource = SourceOverride
	case subscribed:
		set.Tier = PlanTier(sub.Plan)
		tierSource = SourceSubscription
	}

	if ov != nil && ov.Analytics != nil {
		set.Analytics = *ov.Analytics
		set.Sources[CapabilityAnalytics] = SourceOverride
	} else {
		set.Analytics = RequireTier(set.Tier, TierPro)
		set.Sources[CapabilityAnalytics] = tierSource
	}

	if ov != nil && ov.Inventory != nil {
		set.Inventory = *ov.Inventory
		set.Sources[CapabilityInventory] = SourceOverride
	} else {
		set.Inventory = RequireTier(set.Tier, TierPremium)
		set.Sources[CapabilityInventory] = tierSource
	}

	if ov != nil {
		set.BoostCredits = ov.BoostCredits
	}
	set.Boost = set.CanPublish && set.BoostCredits > 0
	if ov != nil && ov.BoostCredits > 0 {
		set.Sources[CapabilityBoost] = SourceOverride
	} else {
		set.Sources[CapabilityBoost] = SourceDefault
	}

	return set
}
