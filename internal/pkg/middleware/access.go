package middleware

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/VenueFox/internal/pkg/access"
	"github.com/ManuelReschke/VenueFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/VenueFox/internal/pkg/usercontext"
)

// TenantParam is the route parameter carrying the tenant id.
const TenantParam = "tenantID"

// RequireMember resolves the tenant's entitlements for a member and stores
// the decision for the handler.
func RequireMember(guard *access.Guard) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenantID, ok := tenantIDParam(c)
		if !ok {
			return invalidTenant(c)
		}
		d, err := guard.Entitlements(c.UserContext(), usercontext.GetUser(c), tenantID)
		if err != nil {
			return WriteAccessError(c, tenantID, err, d)
		}
		c.Locals(usercontext.KeyDecision, d)
		return c.Next()
	}
}

// RequireCapability gates a tenant route on one capability.
func RequireCapability(guard *access.Guard, capability entitlements.Capability) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenantID, ok := tenantIDParam(c)
		if !ok {
			return invalidTenant(c)
		}
		d, err := guard.RequireAccess(c.UserContext(), usercontext.GetUser(c), tenantID, capability)
		if err != nil {
			return WriteAccessError(c, tenantID, err, d)
		}
		c.Locals(usercontext.KeyDecision, d)
		return c.Next()
	}
}

// RequireTier gates a tenant route on a minimum tier.
func RequireTier(guard *access.Guard, minimum entitlements.Tier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenantID, ok := tenantIDParam(c)
		if !ok {
			return invalidTenant(c)
		}
		d, err := guard.RequireTier(c.UserContext(), usercontext.GetUser(c), tenantID, minimum)
		if err != nil {
			return WriteAccessError(c, tenantID, err, d)
		}
		c.Locals(usercontext.KeyDecision, d)
		return c.Next()
	}
}

// Decision returns what the access middleware resolved for this request.
func Decision(c *fiber.Ctx) (access.Decision, bool) {
	d, ok := c.Locals(usercontext.KeyDecision).(access.Decision)
	return d, ok
}

// CheckoutURL is where a paywalled caller can buy a subscription.
func CheckoutURL(tenantID uint) string {
	return fmt.Sprintf("/api/v1/tenants/%d/checkout", tenantID)
}

// WriteAccessError renders a guard error. Paywall responses are 402 and carry
// the checkout hint and the current entitlements.
func WriteAccessError(c *fiber.Ctx, tenantID uint, err error, d access.Decision) error {
	switch {
	case errors.Is(err, access.ErrUnauthenticated):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "API key required"})
	case errors.Is(err, access.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Not allowed to act for this tenant"})
	case errors.Is(err, access.ErrTenantNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Tenant not found"})
	case errors.Is(err, access.ErrPaywallRequired):
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
			"error":        "payment_required",
			"message":      "An active subscription is required",
			"checkout_url": CheckoutURL(tenantID),
			"entitlements": d.Entitlements,
		})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Access check failed"})
	}
}

func tenantIDParam(c *fiber.Ctx) (uint, bool) {
	id, err := strconv.ParseUint(c.Params(TenantParam), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func invalidTenant(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid tenant id"})
}
