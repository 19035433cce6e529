package handlers

import (
	"discourse/internal/models"
	"discourse/internal/services"

	"github.com/gofiber/fiber/v2"
)

// SessionHandler serves session lifecycle endpoints.
type SessionHandler struct {
	sessionService *services.SessionService
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(sessionService *services.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

// Create starts a session from a template
// POST /api/sessions
func (h *SessionHandler) Create(c *fiber.Ctx) error {
	var req models.CreateSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.TemplateID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "template_id is required",
		})
	}

	session, err := h.sessionService.Create(c.Context(), userID(c), &req)
	if err != nil {
		return serviceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(session)
}

// ListHosted returns sessions the caller hosts
// GET /api/sessions/hosted
func (h *SessionHandler) ListHosted(c *fiber.Ctx) error {
	sessions, err := h.sessionService.ListHosted(c.Context(), userID(c))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"sessions": sessions})
}

// ListJoined returns sessions the caller participates in
// GET /api/sessions/joined
func (h *SessionHandler) ListJoined(c *fiber.Ctx) error {
	sessions, err := h.sessionService.ListJoined(c.Context(), userID(c))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"sessions": sessions})
}

// Get returns one session
// GET /api/sessions/:id
func (h *SessionHandler) Get(c *fiber.Ctx) error {
	session, err := h.sessionService.Get(c.Context(), userID(c), c.Params("id"))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(session)
}

// Join adds the caller to a preparing session
// POST /api/sessions/:id/join
func (h *SessionHandler) Join(c *fiber.Ctx) error {
	session, err := h.sessionService.Join(c.Context(), userID(c), c.Params("id"))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(session)
}

// Update edits labels and settings
// PUT /api/sessions/:id
func (h *SessionHandler) Update(c *fiber.Ctx) error {
	var req models.UpdateSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	session, err := h.sessionService.Update(c.Context(), userID(c), c.Params("id"), &req)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(session)
}

// Transition advances the session phase
// POST /api/sessions/:id/phase
func (h *SessionHandler) Transition(c *fiber.Ctx) error {
	var req models.PhaseRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Status == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "status is required",
		})
	}

	session, err := h.sessionService.Transition(c.Context(), userID(c), c.Params("id"), req.Status)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(session)
}

// Delete removes a session and its derived documents
// DELETE /api/sessions/:id
func (h *SessionHandler) Delete(c *fiber.Ctx) error {
	if err := h.sessionService.Delete(c.Context(), userID(c), c.Params("id")); err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Session deleted"})
}
