package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/VenueFox/internal/pkg/usercontext"
)

// RequireAPIAuth returns JSON 401 for anonymous requests.
func RequireAPIAuth(c *fiber.Ctx) error {
	if !usercontext.IsLoggedIn(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "API key required",
		})
	}
	return c.Next()
}

// RequireAdmin ensures an authenticated operator.
func RequireAdmin(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "API key required",
		})
	}
	if !userCtx.IsAdmin {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   "forbidden",
			"message": "Operator role required",
		})
	}
	return c.Next()
}
