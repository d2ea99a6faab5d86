package api

import (
	"net/http"
	"time"

	"entitlement-api/internal/middleware"
	"entitlement-api/internal/response"
	"entitlement-api/internal/services"
	"entitlement-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// RefreshSubscriptionStatus handles POST /api/subscriptions/refresh-status.
// Forces a re-validation of the user's latest subscription against the
// store using the retained credential.
func RefreshSubscriptionStatus(lifecycle *services.Lifecycle, facade *services.ValidationFacade) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.UserID(c)

		subscription, err := lifecycle.CurrentForUser(userID)
		if err != nil {
			logging.Errorf("Failed to load subscription for user %s: %v", userID, err)
			response.ErrorJSON(c, http.StatusInternalServerError, "Failed to load subscription")
			return
		}
		if subscription == nil {
			response.ErrorJSON(c, http.StatusNotFound, "No subscription to refresh")
			return
		}

		outcome, err := facade.Revalidate(c.Request.Context(), subscription)
		if err != nil {
			logging.Errorf("Refresh failed - user: %s: %v", userID, err)
			response.ErrorJSON(c, http.StatusBadGateway, "Store validation unavailable")
			return
		}

		response.SuccessJSON(c, SubscriptionStatusResponse{
			Subscription:  outcome.Subscription,
			FeatureAccess: services.ResolveFeatureAccess(outcome.Subscription, time.Now()),
		})
	}
}
