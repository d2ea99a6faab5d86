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

// SubscriptionStatusResponse is the authenticated status view: current
// subscription row (nil for free users), the resolved capability matrix,
// and the win-back offer when one applies.
type SubscriptionStatusResponse struct {
	Subscription  *models.Subscription `json:"subscription"`
	FeatureAccess models.FeatureAccess `json:"feature_access"`
	WinBackOffer  *models.WinBackOffer `json:"win_back_offer,omitempty"`
}

// GetSubscriptionStatus handles GET /api/subscriptions/status. Reading
// through the lifecycle applies the passive grace-period expiry, so a
// canceled subscription past its window comes back already expired.
func GetSubscriptionStatus(lifecycle *services.Lifecycle) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.UserID(c)

		subscription, err := lifecycle.CurrentForUser(userID)
		if err != nil {
			logging.Errorf("Failed to load subscription for user %s: %v", userID, err)
			response.ErrorJSON(c, http.StatusInternalServerError, "Failed to load subscription")
			return
		}

		now := time.Now()
		resp := SubscriptionStatusResponse{
			Subscription:  subscription,
			FeatureAccess: services.ResolveFeatureAccess(subscription, now),
		}

		if subscription != nil && subscription.CanceledAt != nil &&
			(subscription.Status == models.StatusCanceled || subscription.Status == models.StatusExpired) {
			offer := services.WinBackOfferFor(*subscription.CanceledAt, now)
			resp.WinBackOffer = &offer
		}

		response.SuccessJSON(c, resp)
	}
}

// CheckFeatureAccess handles GET /api/subscriptions/access/:feature, the
// gate the rest of the application calls before serving a feature.
func CheckFeatureAccess(gate *services.AccessGate) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.UserID(c)
		feature := c.Param("feature")

		decision, err := gate.CheckAccess(c.Request.Context(), userID, feature)
		if err != nil {
			logging.Errorf("Access check failed - user: %s, feature: %s: %v", userID, feature, err)
			response.ErrorJSON(c, http.StatusInternalServerError, "Failed to check access")
			return
		}

		if decision.Allowed && c.Query("consume") == "true" {
			if err := gate.Consume(c.Request.Context(), userID, feature); err != nil {
				logging.Errorf("Failed to record usage - user: %s, feature: %s: %v", userID, feature, err)
			}
		}

		response.SuccessJSON(c, decision)
	}
}
