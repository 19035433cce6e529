package handlers

import (
	"unicode/utf8"

	"discourse/internal/models"
	"discourse/internal/services"

	"github.com/gofiber/fiber/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ConversationHandler serves the individual tutoring phase: fetching
// conversations, chat turns and summarization.
type ConversationHandler struct {
	conversationService *services.ConversationService
	turnService         *services.TurnService
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(conversationService *services.ConversationService, turnService *services.TurnService) *ConversationHandler {
	return &ConversationHandler{
		conversationService: conversationService,
		turnService:         turnService,
	}
}

// Get returns one conversation
// GET /api/conversations/:id
func (h *ConversationHandler) Get(c *fiber.Ctx) error {
	conv, err := h.conversationService.Get(c.Context(), userID(c), c.Params("id"))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(conv)
}

// Mine returns the caller's conversation in a session
// GET /api/sessions/:id/conversation
func (h *ConversationHandler) Mine(c *fiber.Ctx) error {
	sessionID, err := primitive.ObjectIDFromHex(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Not found",
		})
	}

	conv, err := h.conversationService.GetOwn(c.Context(), userID(c), sessionID)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(conv)
}

// ListBySession returns all conversations of a hosted session
// GET /api/sessions/:id/conversations
func (h *ConversationHandler) ListBySession(c *fiber.Ctx) error {
	sessionID, err := primitive.ObjectIDFromHex(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Not found",
		})
	}

	conversations, err := h.conversationService.ListBySession(c.Context(), userID(c), sessionID)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"conversations": conversations})
}

// Chat runs one turn of the tutoring pipeline
// POST /api/conversations/:id/chat
func (h *ConversationHandler) Chat(c *fiber.Ctx) error {
	var req models.ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	// The length limit is enforced before any pipeline work: over-long
	// messages are rejected, never truncated.
	if utf8.RuneCountInString(req.Message) > models.MaxChatMessageLength {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Message is too long",
		})
	}

	resp, err := h.turnService.Chat(c.Context(), userID(c), c.Params("id"), &req)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(resp)
}

// Summarize writes the end-of-phase summary once
// POST /api/conversations/:id/summarize
func (h *ConversationHandler) Summarize(c *fiber.Ctx) error {
	conv, err := h.conversationService.Summarize(c.Context(), userID(c), c.Params("id"))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(models.ConversationSummaryResponse{
		Summary:   conv.Summary,
		KeyPoints: conv.KeyPoints,
	})
}
