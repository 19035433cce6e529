package handlers

import (
	"errors"
	"log"

	"discourse/internal/services"

	"github.com/gofiber/fiber/v2"
)

// serviceError translates service sentinel errors into HTTP responses.
// Anything unrecognized is logged and surfaced as a generic 500 so
// internal failure detail never reaches clients.
func serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrValidation):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Not found",
		})
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Access denied",
		})
	case errors.Is(err, services.ErrDuplicateEmail):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "User with this email already exists",
		})
	case errors.Is(err, services.ErrInvalidTransition):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid status transition",
		})
	case errors.Is(err, services.ErrPhaseLocked):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Already finalized",
		})
	case errors.Is(err, services.ErrAlreadySummarized):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Already summarized",
		})
	case errors.Is(err, services.ErrMessageTooLong):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Message is too long",
		})
	case errors.Is(err, services.ErrConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Conflicting update, please retry",
		})
	case errors.Is(err, services.ErrTurnFailed):
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to generate response",
		})
	default:
		log.Printf("❌ Unhandled service error: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Internal server error",
		})
	}
}

// userID reads the authenticated user id set by the auth middleware.
func userID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}
