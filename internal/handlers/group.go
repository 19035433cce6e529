package handlers

import (
	"discourse/internal/models"
	"discourse/internal/services"

	"github.com/gofiber/fiber/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// GroupHandler serves group discussion endpoints.
type GroupHandler struct {
	groupService   *services.GroupService
	sessionService *services.SessionService
}

// NewGroupHandler creates a new group handler.
func NewGroupHandler(groupService *services.GroupService, sessionService *services.SessionService) *GroupHandler {
	return &GroupHandler{groupService: groupService, sessionService: sessionService}
}

// ListBySession returns the groups of a session
// GET /api/sessions/:id/groups
func (h *GroupHandler) ListBySession(c *fiber.Ctx) error {
	// Visibility piggybacks on session access.
	session, err := h.sessionService.Get(c.Context(), userID(c), c.Params("id"))
	if err != nil {
		return serviceError(c, err)
	}

	groups, err := h.groupService.ListBySession(c.Context(), session.ID)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"groups": groups})
}

// Mine returns the caller's group in a session
// GET /api/sessions/:id/groups/mine
func (h *GroupHandler) Mine(c *fiber.Ctx) error {
	sessionID, err := primitive.ObjectIDFromHex(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Not found",
		})
	}

	group, err := h.groupService.FindForStudent(c.Context(), sessionID, userID(c))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(group)
}

// Create adds a manual group to a preparing session
// POST /api/sessions/:id/groups
func (h *GroupHandler) Create(c *fiber.Ctx) error {
	var req models.CreateGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	group, err := h.groupService.Create(c.Context(), userID(c), c.Params("id"), &req)
	if err != nil {
		return serviceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(group)
}

// Join puts the caller into a manual group
// POST /api/groups/:id/join
func (h *GroupHandler) Join(c *fiber.Ctx) error {
	group, err := h.groupService.Join(c.Context(), userID(c), c.Params("id"))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(group)
}

// Get returns one group
// GET /api/groups/:id
func (h *GroupHandler) Get(c *fiber.Ctx) error {
	group, err := h.groupService.Get(c.Context(), userID(c), c.Params("id"))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(group)
}

// AppendTranscript records one contribution
// POST /api/groups/:id/transcript
func (h *GroupHandler) AppendTranscript(c *fiber.Ctx) error {
	var req models.TranscriptRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	group, err := h.groupService.AppendTranscript(c.Context(), userID(c), c.Params("id"), &req)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(group)
}

// Finalize writes the group concept once
// POST /api/groups/:id/finalize
func (h *GroupHandler) Finalize(c *fiber.Ctx) error {
	group, err := h.groupService.Finalize(c.Context(), userID(c), c.Params("id"))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(group)
}
