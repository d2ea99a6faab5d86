package main

import (
	"context"
	"log"
	"os"
	"time"

	"entitlement-api/internal/api"
	"entitlement-api/internal/config"
	"entitlement-api/internal/database"
	"entitlement-api/internal/services"
	"entitlement-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

func main() {
	// Initialize configuration
	if err := config.InitConfig(); err != nil {
		log.Fatal("Failed to initialize config:", err)
	}

	// Initialize logging
	logging.InitLogging()

	// Initialize database
	if err := database.InitDatabase(); err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer database.CloseDatabase()

	ctx := context.Background()
	cfg := config.AppConfig

	store := database.NewSubscriptionRepo(database.GetDB())

	lifecycle := services.NewLifecycle(store, cfg.GracePeriodDays)

	notifier := services.NewWebhookNotifier(cfg.WebhookCallbackURL, cfg.WebhookSecret)
	lifecycle.OnTransition(notifier.Hook())

	mailer := services.NewWinBackMailer(cfg.BrevoAPIKey, cfg.BrevoFromEmail, cfg.BrevoFromName, lookupUserEmail)
	lifecycle.OnTransition(mailer.Hook())

	appleValidator := services.NewAppleValidator(cfg.AppleVerifyURL, cfg.AppleSandboxVerifyURL, cfg.AppleSharedSecret)

	validators := []services.ReceiptValidator{appleValidator}
	var acknowledger services.PurchaseAcknowledger
	var googleValidator services.ReceiptValidator

	if cfg.GoogleServiceAccountJSON != "" {
		keyData, err := os.ReadFile(cfg.GoogleServiceAccountJSON)
		if err != nil {
			log.Fatal("Failed to read Google service account key:", err)
		}
		gv, err := services.NewGoogleValidator(ctx, keyData, cfg.GooglePackageName, cfg.GoogleAPIBaseURL)
		if err != nil {
			log.Fatal("Failed to initialize Google Play validator:", err)
		}
		validators = append(validators, gv)
		acknowledger = gv
		googleValidator = gv
	} else {
		logging.Warnf("Google service account not configured, Android validation disabled")
	}

	facade := services.NewValidationFacade(lifecycle, acknowledger, validators...)
	gate := services.NewAccessGate(lifecycle, database.GetRedis())
	replay := services.NewReplayGuard(database.GetRedis())
	dispatcher := services.NewWebhookDispatcher(store, lifecycle, services.NewJWSDecoder(), replay, googleValidator, acknowledger)

	// Periodic reconciliation against the stores
	reconciler := services.NewReconciler(store, facade,
		time.Duration(cfg.ReconcileIntervalMinutes)*time.Minute, cfg.ReconcileWorkers)
	go reconciler.Run(ctx)

	// Set Gin mode
	gin.SetMode(cfg.Mode)

	// Create Gin engine
	r := gin.Default()

	// Setup routes
	api.SetupRoutes(r, &api.Handlers{
		Facade:     facade,
		Lifecycle:  lifecycle,
		Gate:       gate,
		Dispatcher: dispatcher,
	})

	// Start server
	logging.Infof("Starting server on port %s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}

// lookupUserEmail resolves a user's contact address for win-back offers.
// User accounts live in the app backend; until a lookup endpoint is wired,
// offers are skipped.
func lookupUserEmail(userID string) (string, bool) {
	return "", false
}
