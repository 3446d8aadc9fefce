package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration (checkout audit trail)
	Database DatabaseConfig

	// Redis configuration (checkout session store)
	Redis RedisConfig

	// JWT configuration
	JWT JWTConfig

	// Booking backend configuration
	Backend BackendConfig

	// Payment processor configuration
	Payment PaymentConfig

	// Checkout orchestration tuning
	Checkout CheckoutConfig

	// CORS configuration
	CORS CORSConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// RedisConfig holds Redis connection settings. An empty Addr keeps sessions in memory.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// JWTConfig holds the secret used to verify guest access tokens
type JWTConfig struct {
	Secret string
}

// BackendConfig describes the booking backend the checkout talks to
type BackendConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	ServiceToken   string // used by the webhook listener, never forwarded from a guest
}

// PaymentConfig holds Stripe configuration
type PaymentConfig struct {
	StripeSecretKey  string // SECRET - never expose to client
	StripeAPIURL     string // overrides the Stripe API base URL (stripe-mock, tests)
	WebhookSecret    string
	RequestTimeout   time.Duration
	DefaultCurrency  string
	TaxRatePercent   int
	HandoffRetention time.Duration
}

// CheckoutConfig tunes the orchestrator
type CheckoutConfig struct {
	SessionTTL      time.Duration
	ConfirmAttempts int
	ConfirmBackoff  time.Duration
	SweepInterval   time.Duration

	// Card declines allowed per guest inside DeclineWindow; 0 disables the limit
	MaxCardDeclines int
	DeclineWindow   time.Duration
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", ""),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "checkout"),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
		},
		Backend: BackendConfig{
			BaseURL:        strings.TrimRight(getEnv("BACKEND_BASE_URL", "http://localhost:5000/api"), "/"),
			RequestTimeout: getEnvAsDuration("BACKEND_REQUEST_TIMEOUT", 20*time.Second),
			ServiceToken:   getEnv("BACKEND_SERVICE_TOKEN", ""),
		},
		Payment: PaymentConfig{
			StripeSecretKey:  getEnv("STRIPE_SECRET_KEY", ""),
			StripeAPIURL:     getEnv("STRIPE_API_URL", ""),
			WebhookSecret:    getEnv("STRIPE_WEBHOOK_SECRET", ""),
			RequestTimeout:   getEnvAsDuration("STRIPE_REQUEST_TIMEOUT", 20*time.Second),
			DefaultCurrency:  strings.ToUpper(getEnv("DEFAULT_CURRENCY", "ZAR")),
			TaxRatePercent:   getEnvAsInt("TAX_RATE_PERCENT", 15),
			HandoffRetention: getEnvAsDuration("CONFIRMATION_HANDOFF_TTL", 30*time.Minute),
		},
		Checkout: CheckoutConfig{
			SessionTTL:      getEnvAsDuration("CHECKOUT_SESSION_TTL", time.Hour),
			ConfirmAttempts: getEnvAsInt("CHECKOUT_CONFIRM_ATTEMPTS", 3),
			ConfirmBackoff:  getEnvAsDuration("CHECKOUT_CONFIRM_BACKOFF", 500*time.Millisecond),
			SweepInterval:   getEnvAsDuration("CHECKOUT_SWEEP_INTERVAL", 5*time.Minute),
			MaxCardDeclines: getEnvAsInt("CHECKOUT_MAX_CARD_DECLINES", 5),
			DeclineWindow:   getEnvAsDuration("CHECKOUT_DECLINE_WINDOW", time.Hour),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Backend.BaseURL == "" {
		return fmt.Errorf("BACKEND_BASE_URL is required")
	}

	if c.Backend.RequestTimeout <= 0 {
		return fmt.Errorf("BACKEND_REQUEST_TIMEOUT must be positive")
	}

	if c.Checkout.ConfirmAttempts < 1 {
		return fmt.Errorf("CHECKOUT_CONFIRM_ATTEMPTS must be at least 1")
	}

	if c.Payment.TaxRatePercent < 0 {
		return fmt.Errorf("TAX_RATE_PERCENT cannot be negative")
	}

	// The processor keys are optional in development so the API can boot without Stripe
	if c.Server.Environment == "production" {
		if c.Payment.StripeSecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required in production")
		}
		if c.Payment.WebhookSecret == "" {
			return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required in production")
		}
	}

	return nil
}

// PaymentRequestBudget is the longest a single checkout request can legitimately take:
// a card confirmation plus its status read-back, every confirm attempt with the backoff
// sleeps between them, and the booking read that resolves an already-confirmed answer.
func (c *Config) PaymentRequestBudget() time.Duration {
	budget := 2 * c.Payment.RequestTimeout
	attempts := c.Checkout.ConfirmAttempts
	if attempts < 1 {
		attempts = 1
	}
	budget += time.Duration(attempts+1) * c.Backend.RequestTimeout

	backoff := c.Checkout.ConfirmBackoff
	for i := 1; i < attempts; i++ {
		budget += backoff
		backoff *= 2
	}

	return budget + 15*time.Second
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go durations ("20s") or bare seconds ("20")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if seconds, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(seconds) * time.Second
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Invalid duration value for %s, using default: %s", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
