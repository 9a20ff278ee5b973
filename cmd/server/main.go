package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/huggnote/api/internal/auth"
	"github.com/huggnote/api/internal/client"
	"github.com/huggnote/api/internal/config"
	"github.com/huggnote/api/internal/database"
	"github.com/huggnote/api/internal/events"
	"github.com/huggnote/api/internal/handler"
	"github.com/huggnote/api/internal/middleware"
	"github.com/huggnote/api/internal/repository"
	"github.com/huggnote/api/internal/service"
	ws "github.com/huggnote/api/internal/websocket"
	"github.com/huggnote/api/internal/worker"
	"github.com/huggnote/api/pkg/response"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fiberlog.Fatalf("Failed to load config: %v", err)
	}
	fiberlog.SetLevel(logLevel(cfg.Server.LogLevel))

	db, err := database.Open(&cfg.Database, cfg.Server.LogLevel)
	if err != nil {
		fiberlog.Fatalf("Failed to open database: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisOK := true
	if err := redisClient.Ping(ctx).Err(); err != nil {
		fiberlog.Warnf("Redis not available: %v", err)
		redisOK = false
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	validate := validator.New()

	hub := ws.NewHub()
	go hub.Run(ctx)

	// External clients
	musicClient := client.NewMusicClient(&cfg.Music)
	llmClient := client.NewLLMClient(&cfg.LLM)
	stripeClient := client.NewStripeClient(&cfg.Stripe)
	mailer := client.NewResendMailer(&cfg.Email)

	var store client.ObjectStore
	if cfg.R2.AccountID != "" {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			fiberlog.Warnf("R2 client not initialized: %v", err)
		} else {
			store = r2Client
		}
	} else {
		fiberlog.Info("R2 storage not configured, audio archiving disabled")
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.AMQP.URL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			fiberlog.Warnf("RabbitMQ not available, events disabled: %v", err)
		} else {
			publisher = amqpPublisher
		}
	}
	defer publisher.Close()

	// Token verifiers: OIDC JWKS first, then storefront HMAC tokens
	var verifiers []auth.TokenVerifier
	var jwksVerifier *auth.JWKSVerifier
	if cfg.OIDC.Issuer != "" {
		jwksVerifier, err = auth.NewJWKSVerifier(&cfg.OIDC)
		if err != nil {
			fiberlog.Warnf("JWKS verifier not initialized: %v", err)
		} else {
			verifiers = append(verifiers, jwksVerifier)
		}
	}
	if hmacVerifier := auth.NewHMACVerifier(cfg.JWT.Secret); hmacVerifier != nil {
		verifiers = append(verifiers, hmacVerifier)
	}
	verifier := auth.NewChainVerifier(verifiers...)
	if cfg.Gateway.Enabled {
		fiberlog.Info("Gateway mode enabled, trusting X-User-* headers")
	}

	// Repositories
	forms := repository.NewComposeFormRepository(db)
	generations := repository.NewGenerationRepository(db)
	users := repository.NewUserRepository(db)
	orders := repository.NewOrderRepository(db)

	// Services
	archiveQueue := worker.NewArchiveQueue(asynqClient)
	composeService := service.NewComposeService(forms, time.Duration(cfg.Compose.FormTTLHours)*time.Hour)
	promptService := service.NewPromptService(llmClient, composeService)
	generationService := service.NewGenerationService(musicClient, generations, users, archiveQueue, publisher)
	webhookService := service.NewWebhookService(generations, forms, hub, archiveQueue)
	checkoutService := service.NewCheckoutService(stripeClient, composeService, cfg.Server.AppURL, cfg.Stripe.Currency)
	deliveryService := service.NewDeliveryService(generations, mailer, cfg.Server.AppURL)
	paymentService := service.NewPaymentService(stripeClient, users, orders, forms, deliveryService, publisher)

	router := &handler.Router{
		Compose:         handler.NewComposeHandler(composeService, promptService, validate),
		Generation:      handler.NewGenerationHandler(generationService, validate),
		Checkout:        handler.NewCheckoutHandler(checkoutService, validate),
		Webhooks:        handler.NewWebhookHandler(webhookService, paymentService),
		Auth:            handler.NewAuthHandler(verifier),
		AuthMiddleware:  middleware.NewAuthMiddleware(verifier, cfg.Gateway.Enabled),
		RateLimiter:     middleware.NewRateLimiter(redisClient),
		Hub:             hub,
		GeneratePerHour: cfg.RateLimit.GeneratePerHour,
		PromptsPerMin:   cfg.RateLimit.PromptsPerMin,
		Health: func() fiber.Map {
			return fiber.Map{
				"database": db.Exec("SELECT 1").Error == nil,
				"music":    musicClient.IsConfigured(),
				"llm":      llmClient.IsConfigured(),
				"stripe":   stripeClient.IsConfigured(),
				"resend":   mailer.IsConfigured(),
				"r2":       store != nil,
				"redis":    redisOK,
				"amqp":     cfg.AMQP.URL != "",
				"auth":     len(verifier) > 0 || cfg.Gateway.Enabled,
			}
		},
	}

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    4 * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body}\n"
		fiberlog.Debug("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PATCH,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,Stripe-Signature",
	}))

	router.Register(app)

	// Start Asynq worker server
	workerServer := newWorkerServer(cfg, redisOpt)
	mux := asynq.NewServeMux()
	mux.Handle(worker.TaskTypeArchiveAudio, worker.NewArchiveWorker(generations, store))
	go func() {
		if err := workerServer.Run(mux); err != nil {
			fiberlog.Errorf("Asynq worker error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		fiberlog.Info("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			fiberlog.Errorf("Server shutdown error: %v", err)
		}
		workerServer.Shutdown()
		cancel()
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	fiberlog.Infof("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		fiberlog.Fatalf("Server error: %v", err)
	}
}

func newWorkerServer(cfg *config.Config, redisOpt asynq.RedisClientOpt) *asynq.Server {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 4,
		Queues: map[string]int{
			worker.QueueArchive: 1,
		},
		LogLevel: asynqLogLevel,
	})
}

func logLevel(level string) fiberlog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return fiberlog.LevelDebug
	case "warn":
		return fiberlog.LevelWarn
	case "error":
		return fiberlog.LevelError
	default:
		return fiberlog.LevelInfo
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return response.Error(c, code, response.CodeServiceError, message, nil)
}
