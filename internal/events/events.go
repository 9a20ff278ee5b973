package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Routing keys
const (
	TypeOrderPaid           = "order.paid"
	TypeFormDelivered       = "form.delivered"
	TypeGenerationRequested = "generation.requested"
)

// Publisher emits domain events. Publishing is best-effort: callers log
// failures and carry on.
type Publisher interface {
	Publish(ctx context.Context, eventType string, data interface{}) error
	Close() error
}

// Envelope is the JSON body of every published event.
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurredAt"`
	Data       json.RawMessage `json:"data"`
}

// NewEnvelope wraps data with a fresh id and timestamp.
func NewEnvelope(eventType string, data interface{}) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return &Envelope{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Data:       raw,
	}, nil
}

// OrderPaid is published once per newly recorded order.
type OrderPaid struct {
	SessionID   string `json:"sessionId"`
	UserID      string `json:"userId"`
	PackageID   string `json:"packageId"`
	Credits     int    `json:"credits"`
	AmountCents int64  `json:"amountCents"`
	Currency    string `json:"currency"`
	FormID      string `json:"formId,omitempty"`
}

// FormDelivered is published after the delivery email went out.
type FormDelivered struct {
	FormID string `json:"formId"`
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Links  int    `json:"links"`
}

// GenerationRequested is published when the provider accepted a task.
type GenerationRequested struct {
	TaskID  string `json:"taskId"`
	UserID  string `json:"userId,omitempty"`
	Preview bool   `json:"preview"`
}

// NopPublisher discards events. It stands in when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, interface{}) error { return nil }

func (NopPublisher) Close() error { return nil }
