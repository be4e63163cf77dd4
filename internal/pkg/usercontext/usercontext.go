package usercontext

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/VenueFox/app/models"
)

// UserContext represents the complete user context for a request
type UserContext struct {
	UserID     uint   `json:"user_id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	IsLoggedIn bool   `json:"is_logged_in"`
	IsAdmin    bool   `json:"is_admin"`
}

// Set stores the authenticated user on the request.
func Set(c *fiber.Ctx, user *models.User) {
	c.Locals(KeyUser, user)
	c.Locals(KeyUserContext, UserContext{
		UserID:     user.ID,
		Username:   user.Name,
		Email:      user.Email,
		IsLoggedIn: true,
		IsAdmin:    user.IsAdmin(),
	})
}

// GetUserContext retrieves the user context from fiber context
// Returns a default anonymous context if none is set
func GetUserContext(c *fiber.Ctx) UserContext {
	if ctx, ok := c.Locals(KeyUserContext).(UserContext); ok {
		return ctx
	}
	return UserContext{IsLoggedIn: false, IsAdmin: false}
}

// GetUser returns the authenticated user, or nil for anonymous requests.
func GetUser(c *fiber.Ctx) *models.User {
	if u, ok := c.Locals(KeyUser).(*models.User); ok {
		return u
	}
	return nil
}

// IsLoggedIn checks if the current user is logged in
func IsLoggedIn(c *fiber.Ctx) bool {
	return GetUserContext(c).IsLoggedIn
}

// IsAdmin checks if the current user is an admin
func IsAdmin(c *fiber.Ctx) bool {
	return GetUserContext(c).IsAdmin
}

// GetUserID returns the current user's ID, or 0 if not logged in
func GetUserID(c *fiber.Ctx) uint {
	return GetUserContext(c).UserID
}

// Actor names the current user in audit records.
func Actor(c *fiber.Ctx) string {
	ctx := GetUserContext(c)
	if ctx.Email != "" {
		return ctx.Email
	}
	return ctx.Username
}
