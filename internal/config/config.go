package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	OIDC      OIDCConfig
	Gateway   GatewayConfig
	RateLimit RateLimitConfig
	Compose   ComposeConfig
	Music     MusicConfig
	LLM       LLMConfig
	Stripe    StripeConfig
	Email     EmailConfig
	R2        R2Config
	AMQP      AMQPConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
	AppURL   string // public storefront URL used in redirects and share links
}

type DatabaseConfig struct {
	DSN      string
	User     string
	Password string
	Host     string
	Port     string
	Name     string
}

// MySQLDSN returns the configured DSN or builds one from the individual DB_* settings.
func (c DatabaseConfig) MySQLDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type OIDCConfig struct {
	Issuer   string
	ClientID string
}

type GatewayConfig struct {
	Enabled bool
}

type RateLimitConfig struct {
	GeneratePerHour int
	PromptsPerMin   int
}

type ComposeConfig struct {
	FormTTLHours int
}

type MusicConfig struct {
	APIKey     string
	BaseURL    string
	WebhookURL string // callback URL handed to the provider on every generation
	RatePerSec float64
}

type LLMConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
}

type EmailConfig struct {
	ResendAPIKey string
	From         string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type AMQPConfig struct {
	URL      string
	Exchange string
}

func Load() (*Config, error) {
	// .env is optional; real deployments inject the environment directly
	_ = godotenv.Load()

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	for _, key := range []string{
		"DATABASE_DSN",
		"DB_PASSWORD",
		"REDIS_PASSWORD",
		"JWT_SECRET",
		"MUSIC_API_KEY",
		"LLM_API_KEY",
		"STRIPE_SECRET_KEY",
		"STRIPE_WEBHOOK_SECRET",
		"RESEND_API_KEY",
		"R2_ACCESS_KEY_ID",
		"R2_SECRET_ACCESS_KEY",
		"RABBITMQ_URL",
	} {
		readSecret(key)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()

	bindings := map[string]string{
		"server.port":                 "SERVER_PORT",
		"server.env":                  "SERVER_ENV",
		"server.log_level":            "LOG_LEVEL",
		"server.app_url":              "APP_URL",
		"database.dsn":                "DATABASE_DSN",
		"database.user":               "DB_USER",
		"database.password":           "DB_PASSWORD",
		"database.host":               "DB_HOST",
		"database.port":               "DB_PORT",
		"database.name":               "DB_NAME",
		"redis.addr":                  "REDIS_ADDR",
		"redis.password":              "REDIS_PASSWORD",
		"redis.db":                    "REDIS_DB",
		"jwt.secret":                  "JWT_SECRET",
		"oidc.issuer":                 "OIDC_ISSUER",
		"oidc.client_id":              "OIDC_CLIENT_ID",
		"gateway.enabled":             "GATEWAY_ENABLED",
		"ratelimit.generate_per_hour": "RATELIMIT_GENERATE_PER_HOUR",
		"ratelimit.prompts_per_min":   "RATELIMIT_PROMPTS_PER_MIN",
		"compose.form_ttl_hours":      "COMPOSE_FORM_TTL_HOURS",
		"music.api_key":               "MUSIC_API_KEY",
		"music.base_url":              "MUSIC_API_BASE_URL",
		"music.rate_per_sec":          "MUSIC_API_RATE_PER_SEC",
		"music.webhook_url":           "MUSIC_WEBHOOK_URL",
		"llm.api_key":                 "LLM_API_KEY",
		"llm.base_url":                "LLM_BASE_URL",
		"llm.model":                   "LLM_MODEL",
		"stripe.secret_key":           "STRIPE_SECRET_KEY",
		"stripe.webhook_secret":       "STRIPE_WEBHOOK_SECRET",
		"stripe.currency":             "STRIPE_CURRENCY",
		"email.resend_api_key":        "RESEND_API_KEY",
		"email.from":                  "EMAIL_FROM",
		"r2.account_id":               "R2_ACCOUNT_ID",
		"r2.access_key_id":            "R2_ACCESS_KEY_ID",
		"r2.secret_access_key":        "R2_SECRET_ACCESS_KEY",
		"r2.bucket_name":              "R2_BUCKET_NAME",
		"r2.public_url":               "R2_PUBLIC_URL",
		"amqp.url":                    "RABBITMQ_URL",
		"amqp.exchange":               "RABBITMQ_EXCHANGE",
	}
	for key, env := range bindings {
		_ = v.BindEnv(key, env)
	}

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.app_url", "http://localhost:3000")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", "3306")
	v.SetDefault("database.name", "huggnote")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("gateway.enabled", false)
	v.SetDefault("ratelimit.generate_per_hour", 30)
	v.SetDefault("ratelimit.prompts_per_min", 20)
	v.SetDefault("compose.form_ttl_hours", 168)
	v.SetDefault("music.base_url", "https://api.musicgpt.com/api/public/v1")
	v.SetDefault("music.rate_per_sec", 2.0)
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("stripe.currency", "usd")
	v.SetDefault("email.from", "Huggnote <songs@huggnote.com>")
	v.SetDefault("amqp.exchange", "huggnote.events")

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     v.GetString("server.port"),
			Env:      v.GetString("server.env"),
			LogLevel: v.GetString("server.log_level"),
			AppURL:   strings.TrimRight(v.GetString("server.app_url"), "/"),
		},
		Database: DatabaseConfig{
			DSN:      v.GetString("database.dsn"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			Host:     v.GetString("database.host"),
			Port:     v.GetString("database.port"),
			Name:     v.GetString("database.name"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
		},
		OIDC: OIDCConfig{
			Issuer:   v.GetString("oidc.issuer"),
			ClientID: v.GetString("oidc.client_id"),
		},
		Gateway: GatewayConfig{
			Enabled: v.GetBool("gateway.enabled"),
		},
		RateLimit: RateLimitConfig{
			GeneratePerHour: v.GetInt("ratelimit.generate_per_hour"),
			PromptsPerMin:   v.GetInt("ratelimit.prompts_per_min"),
		},
		Compose: ComposeConfig{
			FormTTLHours: v.GetInt("compose.form_ttl_hours"),
		},
		Music: MusicConfig{
			APIKey:     v.GetString("music.api_key"),
			BaseURL:    strings.TrimRight(v.GetString("music.base_url"), "/"),
			WebhookURL: v.GetString("music.webhook_url"),
			RatePerSec: v.GetFloat64("music.rate_per_sec"),
		},
		LLM: LLMConfig{
			APIKey:  v.GetString("llm.api_key"),
			BaseURL: strings.TrimRight(v.GetString("llm.base_url"), "/"),
			Model:   v.GetString("llm.model"),
		},
		Stripe: StripeConfig{
			SecretKey:     v.GetString("stripe.secret_key"),
			WebhookSecret: v.GetString("stripe.webhook_secret"),
			Currency:      v.GetString("stripe.currency"),
		},
		Email: EmailConfig{
			ResendAPIKey: v.GetString("email.resend_api_key"),
			From:         v.GetString("email.from"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       strings.TrimRight(v.GetString("r2.public_url"), "/"),
		},
		AMQP: AMQPConfig{
			URL:      v.GetString("amqp.url"),
			Exchange: v.GetString("amqp.exchange"),
		},
	}

	if cfg.Compose.FormTTLHours <= 0 {
		return nil, fmt.Errorf("COMPOSE_FORM_TTL_HOURS must be positive, got %d", cfg.Compose.FormTTLHours)
	}

	return cfg, nil
}
