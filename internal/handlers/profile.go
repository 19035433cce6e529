package handlers

import (
	"discourse/internal/models"
	"discourse/internal/services"

	"github.com/gofiber/fiber/v2"
)

// ProfileHandler serves display identities.
type ProfileHandler struct {
	profileService *services.ProfileService
}

// NewProfileHandler creates a new profile handler.
func NewProfileHandler(profileService *services.ProfileService) *ProfileHandler {
	return &ProfileHandler{profileService: profileService}
}

// Me returns the caller's own profile
// GET /api/profile
func (h *ProfileHandler) Me(c *fiber.Ctx) error {
	profile, err := h.profileService.Get(c.Context(), userID(c))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(profile)
}

// Update edits the caller's display identity
// PUT /api/profile
func (h *ProfileHandler) Update(c *fiber.Ctx) error {
	var req models.UpdateProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.DisplayName == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "display_name is required",
		})
	}

	profile, err := h.profileService.Update(c.Context(), userID(c), &req)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(profile)
}
