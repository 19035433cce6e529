package handlers

import (
	"discourse/internal/database"

	"github.com/gofiber/fiber/v2"
)

// HealthHandler reports service liveness.
type HealthHandler struct {
	db *database.MongoDB
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(db *database.MongoDB) *HealthHandler {
	return &HealthHandler{db: db}
}

// Check pings the database
// GET /health
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	if err := h.db.Ping(c.Context()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "degraded",
			"error":  "database unreachable",
		})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
