package handlers

import (
	"io"

	"discourse/internal/models"
	"discourse/internal/services"

	"github.com/gofiber/fiber/v2"
)

// TemplateHandler serves template CRUD, cloning and resource upload.
type TemplateHandler struct {
	templateService *services.TemplateService
}

// NewTemplateHandler creates a new template handler.
func NewTemplateHandler(templateService *services.TemplateService) *TemplateHandler {
	return &TemplateHandler{templateService: templateService}
}

// Create creates a template
// POST /api/templates
func (h *TemplateHandler) Create(c *fiber.Ctx) error {
	var req models.CreateTemplateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	tmpl, err := h.templateService.Create(c.Context(), userID(c), &req)
	if err != nil {
		return serviceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(tmpl)
}

// List returns the caller's templates
// GET /api/templates
func (h *TemplateHandler) List(c *fiber.Ctx) error {
	templates, err := h.templateService.ListOwn(c.Context(), userID(c))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"templates": templates})
}

// ListPublic returns public templates
// GET /api/templates/public
func (h *TemplateHandler) ListPublic(c *fiber.Ctx) error {
	templates, err := h.templateService.ListPublic(c.Context())
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"templates": templates})
}

// Get returns one template
// GET /api/templates/:id
func (h *TemplateHandler) Get(c *fiber.Ctx) error {
	tmpl, err := h.templateService.Get(c.Context(), userID(c), c.Params("id"))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(tmpl)
}

// Update replaces template fields
// PUT /api/templates/:id
func (h *TemplateHandler) Update(c *fiber.Ctx) error {
	var req models.CreateTemplateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	tmpl, err := h.templateService.Update(c.Context(), userID(c), c.Params("id"), &req)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(tmpl)
}

// Delete removes a template
// DELETE /api/templates/:id
func (h *TemplateHandler) Delete(c *fiber.Ctx) error {
	if err := h.templateService.Delete(c.Context(), userID(c), c.Params("id")); err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Template deleted"})
}

// Clone copies a public template into the caller's library
// POST /api/templates/:id/clone
func (h *TemplateHandler) Clone(c *fiber.Ctx) error {
	tmpl, err := h.templateService.Clone(c.Context(), userID(c), c.Params("id"))
	if err != nil {
		return serviceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(tmpl)
}

// UploadResource extracts text from an uploaded PDF and attaches it
// POST /api/templates/:id/resources
func (h *TemplateHandler) UploadResource(c *fiber.Ctx) error {
	title := c.FormValue("title")
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "file is required",
		})
	}

	file, err := fileHeader.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Failed to read uploaded file",
		})
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Failed to read uploaded file",
		})
	}

	tmpl, err := h.templateService.AddPDFResource(c.Context(), userID(c), c.Params("id"), title, data)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(tmpl)
}
