package e2e

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/stripe/stripe-go/v76/webhook"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/huggnote/api/internal/auth"
	"github.com/huggnote/api/internal/client"
	"github.com/huggnote/api/internal/config"
	"github.com/huggnote/api/internal/database"
	"github.com/huggnote/api/internal/handler"
	"github.com/huggnote/api/internal/middleware"
	"github.com/huggnote/api/internal/repository"
	"github.com/huggnote/api/internal/service"
	ws "github.com/huggnote/api/internal/websocket"
)

const (
	testJWTSecret     = "test-secret-for-e2e"
	testWebhookSecret = "whsec_e2e"
	testAppURL        = "https://huggnote.test"
)

// testApp holds all components needed for testing
type testApp struct {
	app    *fiber.App
	db     *gorm.DB
	music  *stubMusic
	mailer *stubMailer
}

// stubMusic hands out sequential task ids so every generation gets its own row.
type stubMusic struct {
	mu    sync.Mutex
	calls int
}

func (m *stubMusic) Generate(context.Context, *client.GenerateMusicRequest) (*client.GenerateMusicResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	taskID := fmt.Sprintf("task-%d", m.calls)
	return &client.GenerateMusicResponse{
		TaskID:        taskID,
		ConversionID1: taskID + "-c1",
		ConversionID2: taskID + "-c2",
		ETA:           60,
		Raw: map[string]interface{}{
			"task_id":         taskID,
			"conversion_id_1": taskID + "-c1",
			"conversion_id_2": taskID + "-c2",
			"eta":             float64(60),
		},
	}, nil
}

func (m *stubMusic) Status(context.Context, string, string, string) (*client.StatusResult, error) {
	return nil, fmt.Errorf("music status: %w", client.ErrNotConfigured)
}

func (m *stubMusic) IsConfigured() bool { return true }

func (m *stubMusic) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type stubMailer struct {
	mu   sync.Mutex
	sent []*client.Email
}

func (m *stubMailer) Send(_ context.Context, email *client.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, email)
	return nil
}

func (m *stubMailer) Sent() []*client.Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*client.Email(nil), m.sent...)
}

// setupApp builds the same routes as main.go on an in-memory database. Stripe
// can verify webhooks but not create sessions, and rate limiting is off.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := ws.NewHub()
	go hub.Run(ctx)

	validate := validator.New()
	music := &stubMusic{}
	mailer := &stubMailer{}
	stripeClient := client.NewStripeClient(&config.StripeConfig{WebhookSecret: testWebhookSecret})

	forms := repository.NewComposeFormRepository(db)
	generations := repository.NewGenerationRepository(db)
	users := repository.NewUserRepository(db)
	orders := repository.NewOrderRepository(db)

	composeService := service.NewComposeService(forms, 168*time.Hour)
	promptService := service.NewPromptService(nil, composeService) // no LLM → mock prompts
	generationService := service.NewGenerationService(music, generations, users, nil, nil)
	webhookService := service.NewWebhookService(generations, forms, hub, nil)
	checkoutService := service.NewCheckoutService(stripeClient, composeService, testAppURL, "usd")
	deliveryService := service.NewDeliveryService(generations, mailer, testAppURL)
	paymentService := service.NewPaymentService(stripeClient, users, orders, forms, deliveryService, nil)

	verifier := auth.NewChainVerifier(auth.NewHMACVerifier(testJWTSecret))

	router := &handler.Router{
		Compose:         handler.NewComposeHandler(composeService, promptService, validate),
		Generation:      handler.NewGenerationHandler(generationService, validate),
		Checkout:        handler.NewCheckoutHandler(checkoutService, validate),
		Webhooks:        handler.NewWebhookHandler(webhookService, paymentService),
		Auth:            handler.NewAuthHandler(verifier),
		AuthMiddleware:  middleware.NewAuthMiddleware(verifier, false),
		RateLimiter:     middleware.NewRateLimiter(nil),
		Hub:             hub,
		GeneratePerHour: 10000,
		PromptsPerMin:   10000,
		Health: func() fiber.Map {
			return fiber.Map{
				"database": true,
				"music":    true,
				"llm":      false,
				"stripe":   false,
				"resend":   false,
			}
		},
	}

	app := fiber.New()
	router.Register(app)

	return &testApp{app: app, db: db, music: music, mailer: mailer}
}

// generateToken creates a storefront HMAC token for userID.
func generateToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.IssueToken(testJWTSecret, userID, userID+"@example.com", time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return token
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs a request as userID.
func doAuthRequest(t *testing.T, app *fiber.App, userID, method, path, body string) (*http.Response, error) {
	t.Helper()
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + generateToken(t, userID),
	})
}

// signStripePayload returns a Stripe-Signature header for payload.
func signStripePayload(payload []byte) string {
	now := time.Now()
	sig := webhook.ComputeSignature(now, payload, testWebhookSecret)
	return fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(sig))
}

// checkoutCompleted renders a checkout.session.completed event.
func checkoutCompleted(sessionID string, metadata map[string]string) []byte {
	session := map[string]interface{}{
		"id":           sessionID,
		"object":       "checkout.session",
		"amount_total": 2900,
		"currency":     "usd",
		"customer_details": map[string]interface{}{
			"email": "buyer@example.com",
		},
		"metadata": metadata,
	}
	event := map[string]interface{}{
		"id":     "evt_" + sessionID,
		"object": "event",
		"type":   "checkout.session.completed",
		"data":   map[string]interface{}{"object": session},
	}
	b, _ := json.Marshal(event)
	return b
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// assertErrorCode checks the code of an error envelope.
func assertErrorCode(t *testing.T, result map[string]interface{}, expected string) {
	t.Helper()
	if result["code"] != expected {
		t.Errorf("expected error code %s, got %v", expected, result["code"])
	}
	if result["success"] != false {
		t.Errorf("expected success=false, got %v", result["success"])
	}
}

// formOf extracts the form object of a compose response.
func formOf(t *testing.T, result map[string]interface{}) map[string]interface{} {
	t.Helper()
	form, ok := result["form"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected 'form' object in response, got %v", result)
	}
	return form
}
