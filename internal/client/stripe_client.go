package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v76"
	stripeclient "github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/huggnote/api/internal/config"
)

const stripeProvider = "stripe"

// EventCheckoutSessionCompleted is the only payment event with side effects.
const EventCheckoutSessionCompleted = "checkout.session.completed"

// ErrInvalidSignature is returned when a webhook payload fails verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// PaymentGateway creates hosted checkout sessions and verifies their webhooks.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, in *CheckoutSessionInput) (*CheckoutSession, error)
	ParseWebhook(payload []byte, signature string) (*PaymentEvent, error)
}

// CheckoutSessionInput describes a one-item payment session.
type CheckoutSessionInput struct {
	ProductName   string
	AmountCents   int64
	Currency      string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
	Metadata      map[string]string
}

// CheckoutSession is the part of a created session the storefront needs.
type CheckoutSession struct {
	ID  string
	URL string
}

// PaymentEvent is a verified webhook event. Session is set for checkout
// session events only.
type PaymentEvent struct {
	ID      string
	Type    string
	Session *stripe.CheckoutSession
}

// StripeClient implements PaymentGateway with stripe-go.
type StripeClient struct {
	api           *stripeclient.API
	webhookSecret string
}

// NewStripeClient creates a Stripe client. Without a secret key only webhook
// verification is available.
func NewStripeClient(cfg *config.StripeConfig) *StripeClient {
	c := &StripeClient{webhookSecret: cfg.WebhookSecret}
	if cfg.SecretKey != "" {
		c.api = stripeclient.New(cfg.SecretKey, nil)
	}
	return c
}

// CreateCheckoutSession creates a payment-mode session with inline price data.
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, in *CheckoutSessionInput) (*CheckoutSession, error) {
	if c.api == nil {
		return nil, fmt.Errorf("stripe: %w", ErrNotConfigured)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(in.SuccessURL),
		CancelURL:  stripe.String(in.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(in.Currency),
					UnitAmount: stripe.Int64(in.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(in.ProductName),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	if in.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(in.CustomerEmail)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	session, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) {
			fiberlog.Warnf("[Stripe] checkout session failed: %d %s", serr.HTTPStatusCode, serr.Msg)
			return nil, &APIError{Provider: stripeProvider, StatusCode: serr.HTTPStatusCode, Message: serr.Msg}
		}
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	return &CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

// ParseWebhook verifies the Stripe-Signature header and decodes the event.
func (c *StripeClient) ParseWebhook(payload []byte, signature string) (*PaymentEvent, error) {
	if c.webhookSecret == "" {
		return nil, fmt.Errorf("stripe webhook secret: %w", ErrNotConfigured)
	}
	if signature == "" {
		return nil, fmt.Errorf("%w: missing signature", ErrInvalidSignature)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	pe := &PaymentEvent{ID: event.ID, Type: string(event.Type)}
	if pe.Type == EventCheckoutSessionCompleted {
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, &APIError{Provider: stripeProvider, StatusCode: http.StatusBadRequest, Message: "malformed checkout session"}
		}
		pe.Session = &session
	}
	return pe, nil
}

// IsConfigured returns true if checkout sessions can be created
func (c *StripeClient) IsConfigured() bool {
	return c.api != nil
}
