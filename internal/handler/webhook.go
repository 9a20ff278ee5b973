package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/huggnote/api/internal/client"
	"github.com/huggnote/api/internal/service"
	"github.com/huggnote/api/pkg/response"
)

type WebhookHandler struct {
	music    *service.WebhookService
	payments *service.PaymentService
}

func NewWebhookHandler(music *service.WebhookService, payments *service.PaymentService) *WebhookHandler {
	return &WebhookHandler{
		music:    music,
		payments: payments,
	}
}

// Music handles POST /api/webhooks/music
// @Summary      Music provider callback
// @Tags         Webhooks
// @Accept       json
// @Produce      json
// @Param        request body object true "Provider callback"
// @Success      200 {object} map[string]interface{}
// @Failure      400 {object} response.ErrorResponse
// @Router       /api/webhooks/music [post]
func (h *WebhookHandler) Music(c *fiber.Ctx) error {
	kind, err := h.music.HandleMusicCallback(c.Context(), c.Body())
	if err != nil {
		fiberlog.Warnf("[Music Webhook] rejected callback: %v", err)
		return response.ValidationError(c, err.Error(), nil)
	}

	return response.OK(c, fiber.Map{"success": true, "received": true, "kind": kind})
}

// Stripe handles POST /api/webhooks/stripe. The body must stay raw for
// signature verification.
// @Summary      Stripe event
// @Tags         Webhooks
// @Accept       json
// @Produce      json
// @Param        Stripe-Signature header string true "Stripe signature"
// @Param        request          body   object true "Stripe event"
// @Success      200 {object} map[string]interface{}
// @Failure      400 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/webhooks/stripe [post]
func (h *WebhookHandler) Stripe(c *fiber.Ctx) error {
	result, err := h.payments.HandleWebhook(c.Context(), c.Body(), c.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, client.ErrInvalidSignature) {
			fiberlog.Warnf("[Payment Webhook] signature rejected: %v", err)
		}
		return respondError(c, err)
	}

	return response.OK(c, fiber.Map{"received": true, "duplicate": result.Duplicate})
}
