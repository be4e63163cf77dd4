package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/VenueFox/app/controllers"
	"github.com/ManuelReschke/VenueFox/internal/pkg/access"
	"github.com/ManuelReschke/VenueFox/internal/pkg/middleware"
	"github.com/ManuelReschke/VenueFox/internal/pkg/ratelimit"
)

// Router installs a group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are the wired controllers and guards the routes need.
type Dependencies struct {
	Billing *controllers.BillingController
	Tenants *controllers.TenantController
	Venues  *controllers.VenueController
	Admin   *controllers.AdminController

	Guard *access.Guard
	Users middleware.UserLookup

	RateLimit ratelimit.Config
	// Validator checks /api/v1 requests against the OpenAPI document. Optional.
	Validator fiber.Handler
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	// public routes first so webhooks never hit the API key or limiter chain
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
