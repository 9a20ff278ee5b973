package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/huggnote/api/internal/auth"
	"github.com/huggnote/api/pkg/response"
)

// AuthMiddleware attaches the caller's identity to the request. Identity comes
// from X-User-* headers when a ForwardAuth gateway is trusted, and from a
// bearer token otherwise.
type AuthMiddleware struct {
	verifier     auth.TokenVerifier
	trustGateway bool
}

// NewAuthMiddleware creates auth middleware backed by verifier.
func NewAuthMiddleware(verifier auth.TokenVerifier, trustGateway bool) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier, trustGateway: trustGateway}
}

// Authenticate rejects requests without a valid identity.
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, msg := m.identify(c)
		if id == nil {
			return response.Unauthorized(c, msg)
		}
		setIdentity(c, id)
		return c.Next()
	}
}

// Optional attaches an identity when one is present and valid, and lets
// anonymous requests through. Handlers decide what anonymous callers may do.
func (m *AuthMiddleware) Optional() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if id, _ := m.identify(c); id != nil {
			setIdentity(c, id)
		}
		return c.Next()
	}
}

func (m *AuthMiddleware) identify(c *fiber.Ctx) (*auth.Identity, string) {
	if m.trustGateway {
		if userID := c.Get("X-User-Id"); userID != "" {
			return &auth.Identity{
				UserID: userID,
				Email:  c.Get("X-User-Email"),
				Name:   c.Get("X-User-Name"),
			}, ""
		}
	}

	header := c.Get("Authorization")
	if header == "" {
		return nil, "Missing authorization header"
	}
	token, ok := auth.BearerToken(header)
	if !ok {
		return nil, "Invalid authorization header format"
	}
	if m.verifier == nil {
		return nil, "Authentication not configured"
	}

	id, err := m.verifier.Verify(token)
	if err != nil {
		return nil, "Invalid or expired token"
	}
	return id, ""
}

func setIdentity(c *fiber.Ctx, id *auth.Identity) {
	c.Locals("userId", id.UserID)
	c.Locals("email", id.Email)
	c.Locals("name", id.Name)
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals("userId").(string); ok {
		return userID
	}
	return ""
}

// GetUserEmail extracts user email from context
func GetUserEmail(c *fiber.Ctx) string {
	if email, ok := c.Locals("email").(string); ok {
		return email
	}
	return ""
}

// GetUserName extracts user name from context
func GetUserName(c *fiber.Ctx) string {
	if name, ok := c.Locals("name").(string); ok {
		return name
	}
	return ""
}

// GetIdentity returns the caller's identity, or nil for anonymous requests.
func GetIdentity(c *fiber.Ctx) *auth.Identity {
	userID := GetUserID(c)
	if userID == "" {
		return nil
	}
	return &auth.Identity{UserID: userID, Email: GetUserEmail(c), Name: GetUserName(c)}
}
