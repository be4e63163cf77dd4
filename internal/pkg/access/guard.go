package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/VenueFox/app/models"
	"github.com/ManuelReschke/VenueFox/internal/pkg/billing"
	"github.com/ManuelReschke/VenueFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/VenueFox/internal/pkg/metrics"
)

var (
	// ErrUnauthenticated means no identity came with the request.
	ErrUnauthenticated = errors.New("access: authentication required")
	// ErrForbidden means the identity may not act for the tenant.
	ErrForbidden = errors.New("access: not a member of this tenant")
	// ErrPaywallRequired means the caller is a member but the capability is
	// not entitled. It is an expected outcome, not a failure.
	ErrPaywallRequired = errors.New("access: subscription required")
	ErrTenantNotFound  = errors.New("access: tenant not found")
)

// Directory answers tenant and membership lookups. Not-found lookups return
// gorm.ErrRecordNotFound.
type Directory interface {
	GetByID(id uint) (*models.Tenant, error)
	IsMember(tenantID, userID uint) (bool, error)
}

// Decision is what a granted (or paywalled) check resolved.
type Decision struct {
	Tenant       *models.Tenant
	Entitlements entitlements.Set
}

// Guard runs access checks. It only reads.
type Guard struct {
	directory Directory
	store     billing.Store
}

func NewGuard(directory Directory, store billing.Store) *Guard {
	return &Guard{directory: directory, store: store}
}

// RequireMember checks that user may act for the tenant. Operators count as
// members of every tenant.
func (g *Guard) RequireMember(ctx context.Context, user *models.User, tenantID uint) (*models.Tenant, error) {
	if user == nil || user.ID == 0 {
		return nil, ErrUnauthenticated
	}

	if !user.IsAdmin() {
		ok, err := g.directory.IsMember(tenantID, user.ID)
		if err != nil {
			return nil, fmt.Errorf("membership lookup: %w", err)
		}
		if !ok {
			return nil, ErrForbidden
		}
	}

	tenant, err := g.directory.GetByID(tenantID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tenant lookup: %w", err)
	}
	if !tenant.IsActive() && !user.IsAdmin() {
		return nil, fmt.Errorf("%w: tenant %d is deactivated", ErrForbidden, tenantID)
	}
	return tenant, nil
}

// Entitlements resolves the tenant's capability set for a member.
func (g *Guard) Entitlements(ctx context.Context, user *models.User, tenantID uint) (Decision, error) {
	tenant, err := g.RequireMember(ctx, user, tenantID)
	if err != nil {
		return Decision{}, err
	}
	set, _, _, err := billing.Resolve(ctx, g.store, tenantID)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Tenant: tenant, Entitlements: set}, nil
}

// RequireAccess grants when user is a member and the tenant is entitled to
// capability. A denied capability yields ErrPaywallRequired together with the
// resolved decision so callers can point at checkout.
func (g *Guard) RequireAccess(ctx context.Context, user *models.User, tenantID uint, capability entitlements.Capability) (Decision, error) {
	d, err := g.Entitlements(ctx, user, tenantID)
	if err != nil {
		record(string(capability), err)
		return d, err
	}
	if !d.Entitlements.Allows(capability) {
		err = ErrPaywallRequired
	}
	record(string(capability), err)
	return d, err
}

// RequireTier grants when the tenant's resolved tier is at least minimum.
func (g *Guard) RequireTier(ctx context.Context, user *models.User, tenantID uint, minimum entitlements.Tier) (Decision, error) {
	d, err := g.Entitlements(ctx, user, tenantID)
	if err == nil && !entitlements.RequireTier(d.Entitlements.Tier, minimum) {
		err = ErrPaywallRequired
	}
	record("tier_"+string(minimum), err)
	return d, err
}

func record(capability string, err error) {
	result := "granted"
	switch {
	case err == nil:
	case errors.Is(err, ErrPaywallRequired):
		result = "paywall"
	case errors.Is(err, ErrUnauthenticated):
		result = "unauthenticated"
	case errors.Is(err, ErrForbidden):
		result = "forbidden"
	case errors.Is(err, ErrTenantNotFound):
		result = "not_found"
	default:
		result = "error"
		log.Errorf("[Access] %s check failed: %v", capability, err)
	}
	metrics.AccessDecisions.WithLabelValues(capability, result).Inc()
}
