package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Port string
	Mode string

	// Database configuration
	DatabaseURL string

	// Redis configuration
	RedisURL string

	// Client authentication
	APIKey string

	// Apple App Store configuration
	AppleVerifyURL        string
	AppleSandboxVerifyURL string
	AppleSharedSecret     string

	// Google Play configuration
	GooglePackageName        string
	GoogleServiceAccountJSON string // path to the service-account key file
	GoogleAPIBaseURL         string

	// Lifecycle configuration
	GracePeriodDays int

	// Reconciliation configuration
	ReconcileIntervalMinutes int
	ReconcileWorkers         int

	// Outbound webhook configuration (app backend)
	WebhookCallbackURL string
	WebhookSecret      string

	// Brevo email configuration (win-back offers)
	BrevoAPIKey    string
	BrevoFromEmail string
	BrevoFromName  string
}

var AppConfig *Config

func InitConfig() error {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		// Ignore error if .env file doesn't exist
	}

	AppConfig = &Config{
		Port:        getEnv("PORT", "8080"),
		Mode:        getEnv("GIN_MODE", "debug"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),
		APIKey:      getEnv("API_KEY", ""),

		AppleVerifyURL:        getEnv("APPLE_VERIFY_URL", "https://buy.itunes.apple.com/verifyReceipt"),
		AppleSandboxVerifyURL: getEnv("APPLE_SANDBOX_VERIFY_URL", "https://sandbox.itunes.apple.com/verifyReceipt"),
		AppleSharedSecret:     getEnv("APPLE_SHARED_SECRET", ""),

		GooglePackageName:        getEnv("GOOGLE_PACKAGE_NAME", ""),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleAPIBaseURL:         getEnv("GOOGLE_API_BASE_URL", "https://androidpublisher.googleapis.com"),

		GracePeriodDays: getEnvInt("GRACE_PERIOD_DAYS", 7),

		ReconcileIntervalMinutes: getEnvInt("RECONCILE_INTERVAL_MINUTES", 360),
		ReconcileWorkers:         getEnvInt("RECONCILE_WORKERS", 8),

		WebhookCallbackURL: getEnv("WEBHOOK_CALLBACK_URL", ""),
		WebhookSecret:      getEnv("WEBHOOK_SECRET", ""),

		BrevoAPIKey:    getEnv("BREVO_API_KEY", ""),
		BrevoFromEmail: getEnv("BREVO_FROM_EMAIL", ""),
		BrevoFromName:  getEnv("BREVO_FROM_NAME", "Subscription Service"),
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
