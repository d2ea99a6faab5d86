package api

import (
	"net/http"
	"time"

	"entitlement-api/internal/middleware"
	"entitlement-api/internal/models"
	"entitlement-api/internal/response"
	"entitlement-api/internal/services"
	"entitlement-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// CancelSubscription handles POST /api/subscriptions/cancel. This records
// cancellation intent locally and starts the grace window; the actual
// store-side cancellation happens in the store's own UI, and its webhook
// will confirm. The watermark makes the eventual store event a no-op if it
// carries nothing new.
func CancelSubscription(lifecycle *services.Lifecycle) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.UserID(c)

		subscription, err := lifecycle.CurrentForUser(userID)
		if err != nil {
			logging.Errorf("Failed to load subscription for user %s: %v", userID, err)
			response.ErrorJSON(c, http.StatusInternalServerError, "Failed to load subscription")
			return
		}
		if subscription == nil || !subscription.IsLive() {
			response.ErrorJSON(c, http.StatusNotFound, "No active subscription to cancel")
			return
		}

		event := services.Event{
			Type:       services.EventCanceled,
			OccurredAt: time.Now().UTC(),
		}
		updated, _, err := lifecycle.ApplyEvent(subscription.Platform, subscription.OriginalTransactionID, userID, event)
		if err != nil {
			logging.Errorf("Failed to record cancellation for user %s: %v", userID, err)
			response.ErrorJSON(c, http.StatusInternalServerError, "Failed to cancel subscription")
			return
		}

		now := time.Now()
		resp := SubscriptionStatusResponse{
			Subscription:  updated,
			FeatureAccess: services.ResolveFeatureAccess(updated, now),
		}
		if updated != nil && updated.CanceledAt != nil && updated.Status == models.StatusCanceled {
			offer := services.WinBackOfferFor(*updated.CanceledAt, now)
			resp.WinBackOffer = &offer
		}
		response.SuccessJSON(c, resp)
	}
}
