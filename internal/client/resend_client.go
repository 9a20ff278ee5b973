package client

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v2"

	"github.com/huggnote/api/internal/config"
)

// Email is one outgoing HTML message.
type Email struct {
	To      string
	Subject string
	HTML    string
}

// Mailer sends transactional email.
type Mailer interface {
	Send(ctx context.Context, email *Email) error
}

// ResendMailer implements Mailer with the Resend API.
type ResendMailer struct {
	client *resend.Client
	from   string
}

// NewResendMailer creates a mailer. Without an API key every Send fails, so
// callers never record a delivery that did not happen.
func NewResendMailer(cfg *config.EmailConfig) *ResendMailer {
	m := &ResendMailer{from: cfg.From}
	if cfg.ResendAPIKey != "" {
		m.client = resend.NewClient(cfg.ResendAPIKey)
	}
	return m
}

func (m *ResendMailer) Send(ctx context.Context, email *Email) error {
	if m.client == nil {
		return fmt.Errorf("resend: %w", ErrNotConfigured)
	}

	_, err := m.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    m.from,
		To:      []string{email.To},
		Subject: email.Subject,
		Html:    email.HTML,
	})
	if err != nil {
		return fmt.Errorf("resend send: %w", err)
	}
	return nil
}

// IsConfigured returns true if the client has valid configuration
func (m *ResendMailer) IsConfigured() bool {
	return m.client != nil
}
