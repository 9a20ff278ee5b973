package handler

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/huggnote/api/internal/middleware"
	ws "github.com/huggnote/api/internal/websocket"
)

// Router holds everything the HTTP surface is built from.
type Router struct {
	Compose    *ComposeHandler
	Generation *GenerationHandler
	Checkout   *CheckoutHandler
	Webhooks   *WebhookHandler
	Auth       *AuthHandler

	AuthMiddleware *middleware.AuthMiddleware
	RateLimiter    *middleware.RateLimiter
	Hub            *ws.Hub

	GeneratePerHour int
	PromptsPerMin   int

	// Health reports which dependencies are configured.
	Health func() fiber.Map
}

// Register mounts every route on app.
func (r *Router) Register(app *fiber.App) {
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": time.Now().Unix()})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		services := fiber.Map{}
		if r.Health != nil {
			services = r.Health()
		}
		return c.JSON(fiber.Map{"status": "ok", "services": services})
	})
	app.Get("/auth/verify", r.Auth.Verify)

	api := app.Group("/api")

	// Provider callbacks authenticate by signature (Stripe) or not at all (music).
	webhooks := api.Group("/webhooks")
	webhooks.Post("/stripe", r.Webhooks.Stripe)
	webhooks.Post("/music", r.Webhooks.Music)

	optional := r.AuthMiddleware.Optional()

	compose := api.Group("/compose", optional)
	compose.Post("/forms", r.Compose.Create)
	compose.Get("/forms", r.Compose.Get)
	compose.Patch("/forms", r.Compose.Patch)
	compose.Post("/prompts", r.RateLimiter.PromptLimit(r.PromptsPerMin), r.Compose.Prompts)

	generation := api.Group("/generation", optional)
	generation.Post("/generate", r.RateLimiter.GenerateLimit(r.GeneratePerHour), r.Generation.Generate)
	generation.Get("/status/:id", r.Generation.Status)

	api.Get("/share/:slug", r.Generation.Share)
	api.Post("/checkout", r.AuthMiddleware.Authenticate(), r.Checkout.Create)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/forms/:formId", websocket.New(func(c *websocket.Conn) {
		r.Hub.HandleConnection(c, c.Params("formId"))
	}))
}
