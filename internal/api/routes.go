package api

import (
	"entitlement-api/internal/middleware"
	"entitlement-api/internal/services"

	"github.com/gin-gonic/gin"
)

// Handlers bundles the constructed services the routes close over.
type Handlers struct {
	Facade     *services.ValidationFacade
	Lifecycle  *services.Lifecycle
	Gate       *services.AccessGate
	Dispatcher *services.WebhookDispatcher
}

// SetupRoutes sets up all routes
func SetupRoutes(r *gin.Engine, h *Handlers) {
	api := r.Group("/api")
	{
		// Client/backend subscription routes (authenticated)
		subscriptions := api.Group("/subscriptions")
		subscriptions.Use(middleware.UserAuthMiddleware())
		{
			subscriptions.POST("/validate-purchase", ValidatePurchase(h.Facade))
			subscriptions.GET("/status", GetSubscriptionStatus(h.Lifecycle))
			subscriptions.POST("/refresh-status", RefreshSubscriptionStatus(h.Lifecycle, h.Facade))
			subscriptions.POST("/cancel", CancelSubscription(h.Lifecycle))
			subscriptions.GET("/access/:feature", CheckFeatureAccess(h.Gate))
		}

		// Store webhook routes (no auth header; trust is established via
		// the payload itself)
		webhooks := api.Group("/subscriptions/webhook")
		{
			webhooks.POST("/apple", AppleWebhookHandler(h.Dispatcher))
			webhooks.POST("/google", GoogleWebhookHandler(h.Dispatcher))
		}
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "entitlement-api",
		})
	})
}
