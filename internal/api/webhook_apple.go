package api

import (
	"errors"
	"net/http"

	"entitlement-api/internal/response"
	"entitlement-api/internal/services"
	"entitlement-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// AppleWebhookHandler handles POST /api/subscriptions/webhook/apple.
// Once the notification is durably recorded the store is always acked 200:
// Apple retries with backoff and disables endpoints that keep failing,
// which is worse than an internal retry.
func AppleWebhookHandler(dispatcher *services.WebhookDispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			logging.Errorf("Failed to read request body: %v", err)
			response.ErrorJSON(c, http.StatusBadRequest, "Failed to read request body")
			return
		}

		if err := dispatcher.HandleApple(c.Request.Context(), body); err != nil {
			switch {
			case errors.Is(err, services.ErrWebhookUnauthorized):
				logging.Errorf("App Store webhook rejected: %v", err)
				response.ErrorJSON(c, http.StatusUnauthorized, "Signature verification failed")
			case errors.Is(err, services.ErrWebhookBadPayload):
				logging.Errorf("App Store webhook malformed: %v", err)
				response.ErrorJSON(c, http.StatusBadRequest, "Invalid notification format")
			default:
				// Durable record failed; a non-2xx makes Apple redeliver.
				logging.Errorf("App Store webhook not recorded: %v", err)
				response.ErrorJSON(c, http.StatusInternalServerError, "Failed to record notification")
			}
			return
		}

		response.SuccessJSON(c, gin.H{"status": "received"})
	}
}
