package router

import (
	apiv1 "github.com/ManuelReschke/VenueFox/internal/api/v1"
	"github.com/ManuelReschke/VenueFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/VenueFox/internal/pkg/middleware"
	"github.com/ManuelReschke/VenueFox/internal/pkg/ratelimit"

	"github.com/gofiber/fiber/v2"
)

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", ratelimit.New(h.deps.RateLimit))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes
	handlers := []fiber.Handler{middleware.APIKeyAuthMiddleware(h.deps.Users)}
	if h.deps.Validator != nil {
		handlers = append(handlers, h.deps.Validator)
	}
	v1 := api.Group("/v1", handlers...)
	apiv1.RegisterHandlers(v1, apiv1.NewAPIServer())

	h.registerTenantRoutes(v1)
	h.registerAdminRoutes(v1)
}

func (h ApiRouter) registerTenantRoutes(v1 fiber.Router) {
	guard := h.deps.Guard
	member := middleware.RequireMember(guard)

	tenant := v1.Group("/tenants/:" + middleware.TenantParam)
	tenant.Get("/entitlements", member, h.deps.Tenants.HandleEntitlements)
	tenant.Get("/listings", member, h.deps.Tenants.HandleListings)
	tenant.Post("/checkout", member, h.deps.Billing.HandleCheckout)
	tenant.Post("/subscription/cancel", member, h.deps.Billing.HandleCancel)

	// paywalled
	tenant.Get("/analytics", middleware.RequireCapability(guard, entitlements.CapabilityAnalytics), h.deps.Tenants.HandleAnalytics)
	tenant.Post("/listings/:listingID/boost", middleware.RequireCapability(guard, entitlements.CapabilityBoost), h.deps.Tenants.HandleBoost)
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
