package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/huggnote/api/internal/middleware"
	"github.com/huggnote/api/internal/model"
	"github.com/huggnote/api/internal/service"
	"github.com/huggnote/api/pkg/response"
)

type ComposeHandler struct {
	compose   *service.ComposeService
	prompts   *service.PromptService
	validator *validator.Validate
}

func NewComposeHandler(compose *service.ComposeService, prompts *service.PromptService, v *validator.Validate) *ComposeHandler {
	return &ComposeHandler{
		compose:   compose,
		prompts:   prompts,
		validator: v,
	}
}

// Create handles POST /api/compose/forms
// @Summary      Create compose form
// @Tags         Compose
// @Accept       json
// @Produce      json
// @Param        request body model.CreateComposeFormRequest true "Form"
// @Success      201 {object} model.ComposeFormResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Router       /api/compose/forms [post]
func (h *ComposeHandler) Create(c *fiber.Ctx) error {
	var req model.CreateComposeFormRequest
	if ok, err := parseBody(c, h.validator, &req); !ok {
		return err
	}

	form, err := h.compose.Create(c.Context(), &req, middleware.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}

	return response.Created(c, model.ComposeFormResponse{Success: true, Form: form.View()})
}

// Get handles GET /api/compose/forms?formId=…|stripeSessionId=…
// @Summary      Get compose form
// @Description  Looks the form up by formId, or by stripeSessionId when formId is absent
// @Tags         Compose
// @Produce      json
// @Param        formId          query string false "Form ID"
// @Param        stripeSessionId query string false "Stripe checkout session ID"
// @Success      200 {object} model.ComposeFormResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/compose/forms [get]
func (h *ComposeHandler) Get(c *fiber.Ctx) error {
	form, err := h.compose.Get(c.Context(), c.Query("formId"), c.Query("stripeSessionId"))
	if err != nil {
		return respondError(c, err)
	}

	return response.OK(c, model.ComposeFormResponse{Success: true, Form: form.View()})
}

// Patch handles PATCH /api/compose/forms
// @Summary      Update compose form
// @Tags         Compose
// @Accept       json
// @Produce      json
// @Param        request body model.ComposeFormPatch true "Fields to change"
// @Success      200 {object} model.ComposeFormResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/compose/forms [patch]
func (h *ComposeHandler) Patch(c *fiber.Ctx) error {
	var req model.ComposeFormPatch
	if ok, err := parseBody(c, h.validator, &req); !ok {
		return err
	}

	form, err := h.compose.Patch(c.Context(), &req)
	if err != nil {
		return respondError(c, err)
	}

	return response.OK(c, model.ComposeFormResponse{Success: true, Form: form.View()})
}

// Prompts handles POST /api/compose/prompts
// @Summary      Generate song prompts
// @Description  Writes one music prompt per song with the LLM and stores them on the form
// @Tags         Compose
// @Accept       json
// @Produce      json
// @Param        request body model.PromptRequest true "Prompt request"
// @Success      200 {object} model.PromptResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      502 {object} response.ErrorResponse
// @Router       /api/compose/prompts [post]
func (h *ComposeHandler) Prompts(c *fiber.Ctx) error {
	var req model.PromptRequest
	if ok, err := parseBody(c, h.validator, &req); !ok {
		return err
	}

	result, err := h.prompts.Generate(c.Context(), &req, middleware.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}

	return response.OK(c, result)
}
