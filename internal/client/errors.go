package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotConfigured is returned by clients whose credentials are missing.
var ErrNotConfigured = errors.New("client not configured")

// APIError is a non-2xx response from an upstream provider.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// newAPIError builds an APIError, pulling a human readable message out of the
// body when the provider sends one.
func newAPIError(provider string, status int, body []byte) *APIError {
	msg := strings.TrimSpace(string(body))

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, key := range []string{"message", "error", "detail"} {
			if m := messageOf(payload[key]); m != "" {
				msg = m
				break
			}
		}
	}
	if msg == "" {
		msg = fmt.Sprintf("%s request failed", provider)
	}

	return &APIError{Provider: provider, StatusCode: status, Message: msg, Body: string(body)}
}

func messageOf(v interface{}) string {
	switch v := v.(type) {
	case string:
		return v
	case map[string]interface{}:
		s, _ := v["message"].(string)
		return s
	default:
		return ""
	}
}
