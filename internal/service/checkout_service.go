package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/huggnote/api/internal/auth"
	"github.com/huggnote/api/internal/client"
	"github.com/huggnote/api/internal/model"
)

// Checkout session metadata keys. The payment webhook reads the same keys back.
const (
	MetaUserID             = "user_id"
	MetaUserEmail          = "user_email"
	MetaPackageID          = "package_id"
	MetaCredits            = "credits"
	MetaFormID             = "form_id"
	MetaRecipientName      = "recipient_name"
	MetaTaskID             = "task_id"
	MetaSelectedVariations = "selected_variations"

	// Stripe rejects metadata values longer than this.
	maxMetadataValue = 500
)

// CheckoutService starts hosted payment sessions for catalog packages.
type CheckoutService struct {
	gateway  client.PaymentGateway
	compose  *ComposeService
	appURL   string
	currency string
}

// NewCheckoutService creates a checkout service. compose may be nil.
func NewCheckoutService(gateway client.PaymentGateway, compose *ComposeService, appURL, currency string) *CheckoutService {
	if currency == "" {
		currency = "usd"
	}
	return &CheckoutService{
		gateway:  gateway,
		compose:  compose,
		appURL:   strings.TrimRight(appURL, "/"),
		currency: strings.ToLower(currency),
	}
}

// CreateSession creates a payment session for the caller.
func (s *CheckoutService) CreateSession(ctx context.Context, req *model.CheckoutRequest, identity *auth.Identity) (*model.CheckoutResponse, error) {
	if identity == nil || identity.UserID == "" {
		return nil, ErrAuthRequired
	}
	pkg, ok := model.LookupPackage(req.PackageID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPackage, req.PackageID)
	}

	metadata := map[string]string{
		MetaUserID:    identity.UserID,
		MetaPackageID: pkg.ID,
		MetaCredits:   strconv.Itoa(pkg.Credits),
	}
	putMeta(metadata, MetaUserEmail, identity.Email)
	putMeta(metadata, MetaFormID, req.FormID)
	putMeta(metadata, MetaRecipientName, req.RecipientName)
	putMeta(metadata, MetaTaskID, req.TaskID)
	if len(req.SelectedVariations) > 0 {
		if encoded, err := json.Marshal(req.SelectedVariations); err == nil {
			putMeta(metadata, MetaSelectedVariations, string(encoded))
		}
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, &client.CheckoutSessionInput{
		ProductName:   pkg.Name,
		AmountCents:   pkg.AmountCents,
		Currency:      s.currency,
		CustomerEmail: identity.Email,
		SuccessURL:    s.successURL(req.FormID),
		CancelURL:     s.appURL + "/checkout/cancel",
		Metadata:      metadata,
	})
	if err != nil {
		return nil, err
	}

	fiberlog.Infof("[Checkout] session %s created for user %s (%s)", session.ID, identity.UserID, pkg.ID)

	if req.FormID != "" {
		s.attachToForm(ctx, req, session.ID)
	}

	return &model.CheckoutResponse{Success: true, URL: session.URL, SessionID: session.ID}, nil
}

func (s *CheckoutService) successURL(formID string) string {
	q := url.Values{}
	q.Set("session_id", "{CHECKOUT_SESSION_ID}")
	if formID != "" {
		q.Set("form_id", formID)
	}
	// Stripe substitutes the literal placeholder, so its braces must survive encoding.
	encoded := strings.NewReplacer("%7B", "{", "%7D", "}").Replace(q.Encode())
	return s.appURL + "/checkout/success?" + encoded
}

// attachToForm records the session on the form. The session already exists,
// so failures are only logged.
func (s *CheckoutService) attachToForm(ctx context.Context, req *model.CheckoutRequest, sessionID string) {
	if s.compose == nil {
		return
	}
	_, err := s.compose.Patch(ctx, &model.ComposeFormPatch{
		FormID:             req.FormID,
		StripeSessionID:    &sessionID,
		SelectedVariations: req.SelectedVariations,
	})
	if err != nil {
		fiberlog.Warnf("[Checkout] record session %s on form %s: %v", sessionID, req.FormID, err)
	}
}

func putMeta(m map[string]string, key, value string) {
	if value == "" {
		return
	}
	if len(value) > maxMetadataValue {
		fiberlog.Warnf("[Checkout] metadata %s too long (%d bytes), omitted", key, len(value))
		return
	}
	m[key] = value
}
