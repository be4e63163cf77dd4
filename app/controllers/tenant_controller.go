package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/VenueFox/app/repository"
	"github.com/ManuelReschke/VenueFox/internal/pkg/billing"
	"github.com/ManuelReschke/VenueFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/VenueFox/internal/pkg/middleware"
)

const maxListingsPerPage = 100

// TenantController serves the tenant API behind the access middleware.
type TenantController struct {
	service  *billing.Service
	listings repository.ListingRepository
}

func NewTenantController(service *billing.Service, listings repository.ListingRepository) *TenantController {
	return &TenantController{service: service, listings: listings}
}

// HandleEntitlements returns the resolved capability set and the subscription.
func (tc *TenantController) HandleEntitlements(c *fiber.Ctx) error {
	d, ok := middleware.Decision(c)
	if !ok {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Access decision missing")
	}

	resp := fiber.Map{
		"tenant_id":    d.Tenant.ID,
		"entitlements": d.Entitlements,
		"subscription": nil,
	}
	_, sub, err := tc.service.Entitlements(c.UserContext(), d.Tenant.ID)
	if err != nil {
		log.Errorf("[Billing] Failed to load subscription of tenant %d: %v", d.Tenant.ID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load subscription")
	}
	if sub != nil {
		resp["subscription"] = fiber.Map{
			"status":             sub.Status,
			"plan":               sub.Plan,
			"current_period_end": formatTimePtr(sub.CurrentPeriodEnd),
			"canceled_at":        formatTimePtr(sub.CanceledAt),
		}
	}
	return c.JSON(resp)
}

// HandleListings lists the tenant's venues, published or not.
func (tc *TenantController) HandleListings(c *fiber.Ctx) error {
	tenantID, ok := parseIDParam(c, middleware.TenantParam)
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid tenant id")
	}
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 25)
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > maxListingsPerPage {
		limit = 25
	}

	listings, err := tc.listings.ListByTenant(tenantID, offset, limit)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load listings")
	}
	return c.JSON(fiber.Map{"listings": listings, "offset": offset, "limit": limit})
}

// HandleAnalytics reports listing and view counts. Views not yet flushed from
// the counter cache are included.
func (tc *TenantController) HandleAnalytics(c *fiber.Ctx) error {
	tenantID, ok := parseIDParam(c, middleware.TenantParam)
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid tenant id")
	}

	total, published, err := tc.listings.CountByTenant(tenantID)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to count listings")
	}
	listings, err := tc.listings.ListByTenant(tenantID, 0, maxListingsPerPage)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load listings")
	}

	ids := make([]uint, len(listings))
	for i, l := range listings {
		ids[i] = l.ID
	}
	pending, err := counter.PendingListingViews(c.UserContext(), ids...)
	if err != nil {
		log.Warnf("[Cache] Pending views unavailable for tenant %d: %v", tenantID, err)
		pending = map[uint]int64{}
	}

	var views int64
	perListing := make([]fiber.Map, 0, len(listings))
	for _, l := range listings {
		v := l.ViewCount + pending[l.ID]
		views += v
		perListing = append(perListing, fiber.Map{"id": l.ID, "slug": l.Slug, "published": l.Published, "views": v})
	}

	return c.JSON(fiber.Map{
		"tenant_id":          tenantID,
		"listings_total":     total,
		"listings_published": published,
		"views":              views,
		"listings":           perListing,
	})
}

// HandleBoost spends one boost credit on a listing of the tenant.
func (tc *TenantController) HandleBoost(c *fiber.Ctx) error {
	tenantID, ok := parseIDParam(c, middleware.TenantParam)
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid tenant id")
	}
	listingID, ok := parseIDParam(c, "listingID")
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid listing id")
	}

	listing, err := tc.listings.GetByID(listingID)
	if err != nil || listing.TenantID != tenantID {
		if err == nil || errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "Listing not found")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load listing")
	}
	if !listing.Published {
		return jsonError(c, fiber.StatusConflict, "not_published", "Only published listings can be boosted")
	}

	remaining, err := tc.service.ConsumeBoostCredit(c.UserContext(), tenantID)
	if errors.Is(err, billing.ErrNoBoostCredits) {
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
			"error":        "no_boost_credits",
			"message":      "No boost credits left",
			"checkout_url": middleware.CheckoutURL(tenantID),
		})
	}
	if err != nil {
		log.Errorf("[Billing] Boost credit for tenant %d failed: %v", tenantID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to use boost credit")
	}

	if err := tc.listings.MarkBoosted(listing.ID); err != nil {
		log.Errorf("[Billing] Credit spent but listing %d not marked boosted: %v", listing.ID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to boost listing")
	}
	return c.JSON(fiber.Map{"ok": true, "listing_id": listing.ID, "boost_credits": remaining})
}
