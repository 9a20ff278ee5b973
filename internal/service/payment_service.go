package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v76"

	"github.com/huggnote/api/internal/client"
	"github.com/huggnote/api/internal/events"
	"github.com/huggnote/api/internal/model"
	"github.com/huggnote/api/internal/repository"
)

// PaymentResult reports what a payment webhook delivery did.
type PaymentResult struct {
	EventType string
	SessionID string
	UserID    string
	Duplicate bool
	Delivered bool
}

// PaymentService fulfils completed checkout sessions.
type PaymentService struct {
	gateway   client.PaymentGateway
	users     repository.UserRepository
	orders    repository.OrderRepository
	forms     repository.ComposeFormRepository
	delivery  *DeliveryService
	publisher events.Publisher
	now       func() time.Time
}

// NewPaymentService creates a payment service. publisher may be nil.
func NewPaymentService(
	gateway client.PaymentGateway,
	users repository.UserRepository,
	orders repository.OrderRepository,
	forms repository.ComposeFormRepository,
	delivery *DeliveryService,
	publisher events.Publisher,
) *PaymentService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &PaymentService{
		gateway:   gateway,
		users:     users,
		orders:    orders,
		forms:     forms,
		delivery:  delivery,
		publisher: publisher,
		now:       time.Now,
	}
}

// HandleWebhook verifies and applies one payment processor delivery. A session
// is credited at most once; redeliveries report Duplicate and change nothing.
// Delivery problems after the order is stored are logged, never returned.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) (*PaymentResult, error) {
	event, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		return nil, err
	}

	result := &PaymentResult{EventType: event.Type}
	if event.Type != client.EventCheckoutSessionCompleted || event.Session == nil {
		fiberlog.Debugf("[Payment Webhook] ignoring %s event %s", event.Type, event.ID)
		return result, nil
	}

	session := event.Session
	result.SessionID = session.ID
	meta := session.Metadata

	credits, err := strconv.Atoi(strings.TrimSpace(meta[MetaCredits]))
	if err != nil || credits <= 0 {
		return nil, fmt.Errorf("%w: %q", ErrMissingCredits, meta[MetaCredits])
	}

	email := buyerEmail(session)
	if meta[MetaUserID] == "" && email == "" {
		return nil, ErrMissingUser
	}

	exists, err := s.orders.ExistsBySessionID(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("check order: %w", err)
	}
	if exists {
		fiberlog.Infof("[Payment Webhook] session %s already processed", session.ID)
		result.Duplicate = true
		return result, nil
	}

	user, err := s.resolveUser(ctx, meta[MetaUserID], email)
	if err != nil {
		return nil, err
	}
	result.UserID = user.ID

	order := &model.Order{
		UserID:          user.ID,
		Amount:          session.AmountTotal,
		Currency:        strings.ToLower(string(session.Currency)),
		Credits:         credits,
		StripeSessionID: session.ID,
		PackageID:       meta[MetaPackageID],
		FormID:          meta[MetaFormID],
		Status:          model.OrderStatusCompleted,
	}
	created, err := s.orders.CreateWithCredits(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("record order: %w", err)
	}
	if !created {
		fiberlog.Infof("[Payment Webhook] session %s recorded concurrently", session.ID)
		result.Duplicate = true
		return result, nil
	}
	fiberlog.Infof("[Payment Webhook] order for session %s: +%d credits to user %s", session.ID, credits, user.ID)

	if err := s.publisher.Publish(ctx, events.TypeOrderPaid, events.OrderPaid{
		SessionID:   session.ID,
		UserID:      user.ID,
		PackageID:   order.PackageID,
		Credits:     credits,
		AmountCents: order.Amount,
		Currency:    order.Currency,
		FormID:      order.FormID,
	}); err != nil {
		fiberlog.Warnf("[Payment Webhook] publish order.paid for %s: %v", session.ID, err)
	}

	if formID := meta[MetaFormID]; formID != "" {
		to := email
		if to == "" {
			to = user.Email
		}
		result.Delivered = s.fulfil(ctx, formID, user.ID, to, meta[MetaRecipientName], session.ID)
	}

	return result, nil
}

func (s *PaymentService) resolveUser(ctx context.Context, userID, email string) (*model.User, error) {
	if userID != "" {
		user, err := s.users.Ensure(ctx, userID, email)
		if err != nil {
			return nil, fmt.Errorf("load user %s: %w", userID, err)
		}
		return user, nil
	}
	user, err := s.users.GetOrCreateGuest(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("guest user: %w", err)
	}
	return user, nil
}

// fulfil marks the form paid, emails the share links and marks it delivered
// once the email went out. It reports whether the form was delivered.
func (s *PaymentService) fulfil(ctx context.Context, formID, userID, to, recipientName, sessionID string) bool {
	if err := s.forms.AttachPayment(ctx, formID, userID, sessionID); err != nil {
		fiberlog.Errorf("[Payment Webhook] mark form %s paid: %v", formID, err)
		return false
	}

	form, err := s.forms.FindByID(ctx, formID)
	if err != nil {
		fiberlog.Errorf("[Payment Webhook] load form %s: %v", formID, err)
		return false
	}

	if s.delivery == nil {
		return false
	}
	links, err := s.delivery.BuildShareLinks(ctx, form)
	if err != nil {
		fiberlog.Errorf("[Payment Webhook] share links for form %s: %v", formID, err)
		return false
	}
	if err := s.delivery.Send(ctx, to, recipientName, links); err != nil {
		fiberlog.Errorf("[Payment Webhook] delivery email for form %s: %v", formID, err)
		return false
	}

	if err := s.forms.MarkDelivered(ctx, formID, s.now()); err != nil {
		fiberlog.Errorf("[Payment Webhook] mark form %s delivered: %v", formID, err)
		return false
	}

	if err := s.publisher.Publish(ctx, events.TypeFormDelivered, events.FormDelivered{
		FormID: formID,
		UserID: userID,
		Email:  to,
		Links:  len(links),
	}); err != nil {
		fiberlog.Warnf("[Payment Webhook] publish form.delivered for %s: %v", formID, err)
	}
	return true
}

func buyerEmail(session *stripe.CheckoutSession) string {
	if e := strings.TrimSpace(session.Metadata[MetaUserEmail]); e != "" {
		return e
	}
	if e := strings.TrimSpace(session.CustomerEmail); e != "" {
		return e
	}
	if session.CustomerDetails != nil {
		return strings.TrimSpace(session.CustomerDetails.Email)
	}
	return ""
}
