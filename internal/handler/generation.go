package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/huggnote/api/internal/middleware"
	"github.com/huggnote/api/internal/model"
	"github.com/huggnote/api/internal/service"
	"github.com/huggnote/api/pkg/response"
)

type GenerationHandler struct {
	service   *service.GenerationService
	validator *validator.Validate
}

func NewGenerationHandler(svc *service.GenerationService, v *validator.Validate) *GenerationHandler {
	return &GenerationHandler{
		service:   svc,
		validator: v,
	}
}

// Generate handles POST /api/generation/generate
// @Summary      Start a music generation
// @Description  Paid generations need a session with credits; preview_mode skips both checks
// @Tags         Generation
// @Accept       json
// @Produce      json
// @Param        request body model.GenerateRequest true "Generate request"
// @Success      200 {object} map[string]interface{}
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      402 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/generation/generate [post]
func (h *GenerationHandler) Generate(c *fiber.Ctx) error {
	var req model.GenerateRequest
	if ok, err := parseBody(c, h.validator, &req); !ok {
		return err
	}

	result, err := h.service.Generate(c.Context(), &req, middleware.GetIdentity(c))
	if err != nil {
		return respondError(c, err)
	}

	return response.OK(c, result)
}

// Status handles GET /api/generation/status/:id
// @Summary      Poll generation status
// @Tags         Generation
// @Produce      json
// @Param        id             path  string true  "Task or conversion ID"
// @Param        conversionType query string false "Provider conversion type" default(MUSIC_AI)
// @Param        idType         query string false "Which id the path carries" default(task_id)
// @Success      200 {object} model.StatusResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      502 {object} response.ErrorResponse
// @Router       /api/generation/status/{id} [get]
func (h *GenerationHandler) Status(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return response.ValidationError(c, "id is required", nil)
	}

	result, err := h.service.Status(c.Context(), id, c.Query("conversionType"), c.Query("idType"))
	if err != nil {
		return respondError(c, err)
	}

	return response.OK(c, result)
}

// Share handles GET /api/share/:slug
// @Summary      Resolve a share link
// @Tags         Share
// @Produce      json
// @Param        slug path string true "Share slug"
// @Success      200 {object} map[string]interface{}
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/share/{slug} [get]
func (h *GenerationHandler) Share(c *fiber.Ctx) error {
	song, err := h.service.Share(c.Context(), c.Params("slug"))
	if err != nil {
		return respondError(c, err)
	}

	return response.OK(c, fiber.Map{"success": true, "song": song})
}
