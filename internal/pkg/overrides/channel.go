package overrides

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/VenueFox/app/models"
	"github.com/ManuelReschke/VenueFox/internal/pkg/audit"
	"github.com/ManuelReschke/VenueFox/internal/pkg/billing"
	"github.com/ManuelReschke/VenueFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/VenueFox/internal/pkg/metrics"
)

// Override names accepted by GrantOverride.
const (
	FreeListing  = "free_listing"
	Analytics    = "analytics"
	Inventory    = "inventory"
	Tier         = "tier"
	BoostCredits = "boost_credits"
)

var ErrInvalidOverride = errors.New("overrides: invalid override request")

// Request is the operator input for one override write. Value is a bool or
// null for the flag overrides, a tier name or null for tier, and a
// non-negative integer for boost_credits.
type Request struct {
	Capability string          `json:"capability" validate:"required,oneof=free_listing analytics inventory tier boost_credits"`
	Value      json.RawMessage `json:"value"`
}

// Outcome is what an operator gets back from a write.
type Outcome struct {
	Entitlements entitlements.Set     `json:"entitlements"`
	Subscription *models.Subscription `json:"subscription,omitempty"`
	AuditID      string               `json:"audit_id"`
}

// Channel is the only path for operator writes. Each write and its audit
// record commit together or not at all.
type Channel struct {
	reconciler *billing.Reconciler
	validate   *validator.Validate
}

func NewChannel(reconciler *billing.Reconciler) *Channel {
	return &Channel{reconciler: reconciler, validate: validator.New()}
}

// GrantOverride sets one override for the tenant on behalf of actor and
// re-aligns the tenant's listings with the resulting publish right.
func (c *Channel) GrantOverride(ctx context.Context, actor string, tenantID uint, req Request) (Outcome, error) {
	if strings.TrimSpace(actor) == "" {
		return Outcome{}, audit.ErrMissingActor
	}
	req.Capability = strings.ToLower(strings.TrimSpace(req.Capability))
	if err := c.validate.Struct(req); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrInvalidOverride, err)
	}
	mutate, err := mutation(req)
	if err != nil {
		return Outcome{}, err
	}

	apply := func(ov *models.EntitlementOverride) error {
		mutate(ov)
		ov.UpdatedBy = actor
		return nil
	}

	var auditID string
	set, err := c.reconciler.ApplyOverride(ctx, tenantID, apply,
		func(tx billing.Tx, before, after *models.EntitlementOverride, _ entitlements.Set) error {
			rec, err := audit.Append(tx, audit.Entry{
				Actor:    actor,
				Action:   audit.ActionOverrideSet + "." + req.Capability,
				Kind:     audit.KindOverrides,
				EntityID: tenantID,
				Before:   audit.OverrideSnapshot(before),
				After:    audit.OverrideSnapshot(after),
			})
			if err != nil {
				return err
			}
			auditID = rec.ID
			return nil
		})
	if err != nil {
		metrics.OverrideWrites.WithLabelValues(req.Capability, "error").Inc()
		log.Errorf("[Overrides] %s failed to set %s for tenant %d: %v", actor, req.Capability, tenantID, err)
		return Outcome{}, err
	}

	metrics.OverrideWrites.WithLabelValues(req.Capability, "ok").Inc()
	log.Infof("[Overrides] %s set %s=%s for tenant %d (publish=%t)", actor, req.Capability, string(req.Value), tenantID, set.CanPublish)
	return Outcome{Entitlements: set, AuditID: auditID}, nil
}

// Pause suspends the tenant's subscription on behalf of actor.
func (c *Channel) Pause(ctx context.Context, actor string, tenantID uint) (Outcome, error) {
	return c.admin(ctx, actor, tenantID, billing.EventAdminPause, audit.ActionSubscriptionPause)
}

// Reactivate resumes a paused subscription on behalf of actor.
func (c *Channel) Reactivate(ctx context.Context, actor string, tenantID uint) (Outcome, error) {
	return c.admin(ctx, actor, tenantID, billing.EventAdminReactivate, audit.ActionSubscriptionResume)
}

func (c *Channel) admin(ctx context.Context, actor string, tenantID uint, kind billing.EventKind, action string) (Outcome, error) {
	if strings.TrimSpace(actor) == "" {
		return Outcome{}, audit.ErrMissingActor
	}

	var (
		auditID string
		set     entitlements.Set
	)
	res, err := c.reconciler.ApplyAdmin(ctx, tenantID, kind,
		func(tx billing.Tx, before, after *models.Subscription, resolved entitlements.Set) error {
			rec, err := audit.Append(tx, audit.Entry{
				Actor:    actor,
				Action:   action,
				Kind:     audit.KindSubscription,
				EntityID: after.ID,
				Before:   audit.SubscriptionSnapshot(before),
				After:    audit.SubscriptionSnapshot(after),
			})
			if err != nil {
				return err
			}
			auditID = rec.ID
			set = resolved
			return nil
		})
	if err != nil {
		metrics.OverrideWrites.WithLabelValues(action, "error").Inc()
		log.Warnf("[Overrides] %s could not %s tenant %d: %v", actor, action, tenantID, err)
		return Outcome{}, err
	}

	metrics.OverrideWrites.WithLabelValues(action, "ok").Inc()
	log.Infof("[Overrides] %s: %s tenant %d %s -> %s", actor, action, tenantID, res.From, res.To)
	return Outcome{Entitlements: set, Subscription: res.Subscription, AuditID: auditID}, nil
}

func mutation(req Request) (func(ov *models.EntitlementOverride), error) {
	raw := bytes.TrimSpace(req.Value)
	isNull := len(raw) == 0 || bytes.Equal(raw, []byte("null"))

	switch req.Capability {
	case FreeListing, Analytics, Inventory:
		var value *bool
		if !isNull {
			var b bool
			if err := json.Unmarshal(raw, &b); err != nil {
				return nil, fmt.Errorf("%w: %s expects true, false or null", ErrInvalidOverride, req.Capability)
			}
			value = &b
		}
		return func(ov *models.EntitlementOverride) {
			switch req.Capability {
			case FreeListing:
				ov.FreeListing = value
			case Analytics:
				ov.Analytics = value
			case Inventory:
				ov.Inventory = value
			}
		}, nil

	case Tier:
		var tier string
		if !isNull {
			if err := json.Unmarshal(raw, &tier); err != nil || !entitlements.IsTier(tier) {
				return nil, fmt.Errorf("%w: tier expects free, pro, premium or null", ErrInvalidOverride)
			}
			tier = string(entitlements.NormalizeTier(tier))
		}
		return func(ov *models.EntitlementOverride) { ov.Tier = tier }, nil

	case BoostCredits:
		var credits int64
		if isNull {
			return nil, fmt.Errorf("%w: boost_credits expects a number", ErrInvalidOverride)
		}
		if err := json.Unmarshal(raw, &credits); err != nil || credits < 0 {
			return nil, fmt.Errorf("%w: boost_credits expects a non-negative integer", ErrInvalidOverride)
		}
		return func(ov *models.EntitlementOverride) { ov.BoostCredits = credits }, nil
	}
	return nil, fmt.Errorf("%w: unknown capability %q", ErrInvalidOverride, req.Capability)
}
