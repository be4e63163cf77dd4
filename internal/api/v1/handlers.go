package apiv1

import (
	"github.com/gofiber/fiber/v2"
)

// Pong is the ping response body.
type Pong struct {
	Ping string `json:"ping"`
}

// APIServer serves the unauthenticated parts of /api/v1.
type APIServer struct{}

// NewAPIServer creates a new API server instance
func NewAPIServer() *APIServer {
	return &APIServer{}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	response := Pong{
		Ping: "pong",
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

// RegisterHandlers mounts the server's handlers on the v1 group.
func RegisterHandlers(router fiber.Router, s *APIServer) {
	router.Get("/ping", s.GetPing)
}
