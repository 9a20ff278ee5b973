package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/huggnote/api/internal/client"
	"github.com/huggnote/api/internal/model"
	"github.com/huggnote/api/internal/service"
	"github.com/huggnote/api/pkg/response"
)

// respondError maps service and client errors onto the error envelope.
func respondError(c *fiber.Ctx, err error) error {
	var apiErr *client.APIError
	switch {
	case errors.As(err, &apiErr):
		return response.Upstream(c, apiErr.StatusCode, apiErr.Message)

	case errors.Is(err, service.ErrAuthRequired):
		return response.Unauthorized(c, "Authentication required")
	case errors.Is(err, service.ErrInsufficientCredits):
		return response.PaymentRequired(c, "Insufficient credits")
	case errors.Is(err, service.ErrFormNotFound):
		return response.NotFound(c, "Compose form not found")
	case errors.Is(err, service.ErrShareNotFound):
		return response.NotFound(c, "Song not found")
	case errors.Is(err, service.ErrFormExists):
		return response.Conflict(c, "Compose form already exists")

	case errors.Is(err, service.ErrInvalidFormStatus),
		errors.Is(err, service.ErrInvalidSongIndex),
		errors.Is(err, service.ErrLookupKeyRequired),
		errors.Is(err, service.ErrUnknownPackage),
		errors.Is(err, service.ErrInvalidFormData),
		errors.Is(err, service.ErrMissingUser),
		errors.Is(err, service.ErrMissingCredits),
		errors.Is(err, client.ErrInvalidSignature),
		errors.Is(err, model.ErrMissingTaskID):
		return response.ValidationError(c, err.Error(), nil)

	case errors.Is(err, client.ErrNotConfigured):
		fiberlog.Warnf("[API] %s %s: %v", c.Method(), c.Path(), err)
		return response.Error(c, fiber.StatusServiceUnavailable, response.CodeServiceError, "Service not configured", nil)
	}

	fiberlog.Errorf("[API] %s %s: %v", c.Method(), c.Path(), err)
	return response.ServiceError(c, "Internal server error")
}

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		fields := make(map[string]string)
		for _, e := range validationErrors {
			fields[e.Field()] = e.Tag()
		}
		return fields
	}
	return nil
}

// parseBody decodes and validates a JSON body. It writes the error response
// itself and reports whether the handler should continue.
func parseBody(c *fiber.Ctx, v *validator.Validate, out interface{}) (bool, error) {
	if err := c.BodyParser(out); err != nil {
		return false, response.ValidationError(c, "Invalid request body", nil)
	}
	if err := v.Struct(out); err != nil {
		return false, response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	return true, nil
}
