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

// ValidatePurchaseRequest is the client's proof of purchase.
type ValidatePurchaseRequest struct {
	Platform      string `json:"platform" binding:"required"`
	Receipt       string `json:"receipt"`        // Apple base64 receipt
	PurchaseToken string `json:"purchase_token"` // Google Play token
	ProductID     string `json:"product_id"`
	TransactionID string `json:"transaction_id"`
}

// ValidatePurchaseResponse reports the validated subscription, the
// normalized store result and the resolved access. ValidationResult's
// diagnostic detail is not serialized, so the store's raw codes stay
// internal.
type ValidatePurchaseResponse struct {
	Subscription     *models.Subscription     `json:"subscription"`
	ValidationResult *models.ValidationResult `json:"validation_result"`
	Active           bool                     `json:"active"`
	FeatureAccess    models.FeatureAccess     `json:"feature_access"`
}

// ValidatePurchase handles POST /api/subscriptions/validate-purchase.
// Store diagnostic codes stay internal; the client only sees a generic
// invalid-receipt message.
func ValidatePurchase(facade *services.ValidationFacade) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.UserID(c)

		var req ValidatePurchaseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ErrorJSON(c, http.StatusBadRequest, "Invalid request: "+err.Error())
			return
		}

		credential := services.Credential{
			Receipt:       req.Receipt,
			PurchaseToken: req.PurchaseToken,
			ProductID:     req.ProductID,
		}
		if credential.Receipt == "" && credential.PurchaseToken == "" {
			response.ErrorJSON(c, http.StatusBadRequest, "Missing receipt or purchase_token")
			return
		}

		outcome, err := facade.ValidateAndUpdate(c.Request.Context(), userID, req.Platform, credential)
		if err != nil {
			logging.Errorf("Purchase validation failed - user: %s, platform: %s: %v", userID, req.Platform, err)
			response.ErrorJSON(c, http.StatusBadRequest, "Invalid receipt")
			return
		}
		if !outcome.Result.IsValid {
			logging.Infof("Invalid receipt submitted - user: %s, platform: %s, detail: %s",
				userID, req.Platform, outcome.Result.Error)
			response.ErrorJSON(c, http.StatusBadRequest, "Invalid receipt")
			return
		}

		response.SuccessJSON(c, ValidatePurchaseResponse{
			Subscription:     outcome.Subscription,
			ValidationResult: outcome.Result,
			Active:           outcome.Active,
			FeatureAccess:    services.ResolveFeatureAccess(outcome.Subscription, time.Now()),
		})
	}
}
