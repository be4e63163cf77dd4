package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/VenueFox/app/models"
	"github.com/ManuelReschke/VenueFox/internal/pkg/usercontext"
)

// UserLookup resolves an API key hash to its user.
type UserLookup interface {
	GetByAPIKeyHash(hash string) (*models.User, error)
	TouchAPIKeyUsage(id uint) error
}

// APIKeyAuthMiddleware resolves the caller from the X-API-Key or Bearer
// header. Requests without a key continue anonymous; the route guards decide
// whether that is enough.
func APIKeyAuthMiddleware(users UserLookup) fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := extractAPIKeyFromHeader(c)
		if apiKey == "" {
			return c.Next()
		}

		user, err := users.GetByAPIKeyHash(models.HashAPIKey(apiKey))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
			}
			log.Errorf("[Access] API key lookup failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "API key verification failed"})
		}

		if user.Status != models.STATUS_ACTIVE {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "User inactive"})
		}

		// Refresh last-used timestamp best-effort.
		if err := users.TouchAPIKeyUsage(user.ID); err != nil {
			log.Warnf("[Access] Failed to update api key usage timestamp for user %d: %v", user.ID, err)
		}

		usercontext.Set(c, user)
		return c.Next()
	}
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	apiKey := strings.TrimSpace(c.Get("X-API-Key"))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
