package api

import (
	"errors"
	"net/http"

	"entitlement-api/internal/response"
	"entitlement-api/internal/services"
	"entitlement-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// GoogleWebhookHandler handles POST /api/subscriptions/webhook/google:
// Google Play Real-Time Developer Notifications delivered as Pub/Sub push
// messages. Same ack discipline as the Apple endpoint, 200 once recorded.
func GoogleWebhookHandler(dispatcher *services.WebhookDispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			logging.Errorf("Failed to read request body: %v", err)
			response.ErrorJSON(c, http.StatusBadRequest, "Failed to read request body")
			return
		}

		if err := dispatcher.HandleGoogle(c.Request.Context(), body); err != nil {
			if errors.Is(err, services.ErrWebhookBadPayload) {
				logging.Errorf("Google Play webhook malformed: %v", err)
				response.ErrorJSON(c, http.StatusBadRequest, "Invalid notification format")
				return
			}
			logging.Errorf("Google Play webhook not recorded: %v", err)
			response.ErrorJSON(c, http.StatusInternalServerError, "Failed to record notification")
			return
		}

		response.SuccessJSON(c, gin.H{"status": "received"})
	}
}
