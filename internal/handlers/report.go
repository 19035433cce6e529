package handlers

import (
	"fmt"

	"discourse/internal/services"

	"github.com/gofiber/fiber/v2"
)

// ReportHandler serves engagement computation and report download.
type ReportHandler struct {
	engagementService *services.EngagementService
	reportService     *services.ReportService
}

// NewReportHandler creates a new report handler.
func NewReportHandler(engagementService *services.EngagementService, reportService *services.ReportService) *ReportHandler {
	return &ReportHandler{
		engagementService: engagementService,
		reportService:     reportService,
	}
}

// Compute recomputes engagement for every participant
// POST /api/sessions/:id/engagement
func (h *ReportHandler) Compute(c *fiber.Ctx) error {
	engagements, err := h.engagementService.ComputeSession(c.Context(), userID(c), c.Params("id"))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"engagement": engagements})
}

// List returns the stored engagement docs
// GET /api/sessions/:id/engagement
func (h *ReportHandler) List(c *fiber.Ctx) error {
	engagements, err := h.engagementService.ListBySession(c.Context(), userID(c), c.Params("id"))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"engagement": engagements})
}

// Download streams the engagement workbook
// GET /api/sessions/:id/report
func (h *ReportHandler) Download(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	data, err := h.reportService.SessionReport(c.Context(), userID(c), sessionID)
	if err != nil {
		return serviceError(c, err)
	}

	c.Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=engagement-%s.xlsx", sessionID))
	return c.Send(data)
}
