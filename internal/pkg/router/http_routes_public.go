package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuelReschke/VenueFox/internal/pkg/env"
)

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	// Billing provider webhooks (signature-verified in the gateway)
	app.Post("/webhooks/stripe", h.deps.Billing.HandleStripeWebhook)

	// Public venue pages, published listings only
	app.Get("/venues/:slug", h.deps.Venues.HandleVenueBySlug)

	// operator endpoints share one basic auth account and stay unmounted
	// without a password
	if password := env.GetEnv("MONITOR_PASSWORD", ""); password != "" {
		operator := basicauth.New(basicauth.Config{
			Users: map[string]string{
				env.GetEnv("MONITOR_USER", "admin"): password,
			},
		})
		app.Get("/metrics", operator, adaptor.HTTPHandler(promhttp.Handler()))
		app.Get("/monitor", operator, monitor.New())
	}
}
