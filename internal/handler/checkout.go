package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/huggnote/api/internal/middleware"
	"github.com/huggnote/api/internal/model"
	"github.com/huggnote/api/internal/service"
	"github.com/huggnote/api/pkg/response"
)

type CheckoutHandler struct {
	service   *service.CheckoutService
	validator *validator.Validate
}

func NewCheckoutHandler(svc *service.CheckoutService, v *validator.Validate) *CheckoutHandler {
	return &CheckoutHandler{
		service:   svc,
		validator: v,
	}
}

// Create handles POST /api/checkout
// @Summary      Start checkout
// @Tags         Checkout
// @Accept       json
// @Produce      json
// @Param        request body model.CheckoutRequest true "Checkout request"
// @Success      200 {object} model.CheckoutResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/checkout [post]
func (h *CheckoutHandler) Create(c *fiber.Ctx) error {
	var req model.CheckoutRequest
	if ok, err := parseBody(c, h.validator, &req); !ok {
		return err
	}

	result, err := h.service.CreateSession(c.Context(), &req, middleware.GetIdentity(c))
	if err != nil {
		return respondError(c, err)
	}

	return response.OK(c, result)
}
