package router

import (
	"github.com/ManuelReschke/VenueFox/internal/pkg/middleware"
	"github.com/gofiber/fiber/v2"
)

func (h ApiRouter) registerAdminRoutes(v1 fiber.Router) {
	adminGroup := v1.Group("/admin", middleware.RequireAdmin)
	adminGroup.Get("/tenants", h.deps.Admin.HandleTenants)
	adminGroup.Get("/queue", h.deps.Admin.HandleQueueStats)

	// Entitlements + override channel
	adminGroup.Get("/tenants/:tenantID/entitlements", h.deps.Admin.HandleEntitlements)
	adminGroup.Get("/tenants/:tenantID/audit", h.deps.Admin.HandleAuditLog)
	adminGroup.Post("/tenants/:tenantID/overrides", h.deps.Admin.HandleSetOverride)
	adminGroup.Post("/tenants/:tenantID/pause", h.deps.Admin.HandlePause)
	adminGroup.Post("/tenants/:tenantID/reactivate", h.deps.Admin.HandleReactivate)
}
