package middleware

import (
	"net/http"

	"entitlement-api/internal/config"
	"entitlement-api/internal/response"

	"github.com/gin-gonic/gin"
)

// UserAuthMiddleware authenticates client calls. User identity management
// is owned by the app backend; this service trusts the backend-issued
// X-User-ID header once the shared API key checks out.
func UserAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-API-Key")
		userID := c.GetHeader("X-User-ID")

		if apiKey == "" || userID == "" {
			response.ErrorJSON(c, http.StatusUnauthorized, "Missing X-API-Key or X-User-ID header")
			c.Abort()
			return
		}

		if config.AppConfig.APIKey == "" || apiKey != config.AppConfig.APIKey {
			response.ErrorJSON(c, http.StatusUnauthorized, "Invalid API key")
			c.Abort()
			return
		}

		c.Set("user_id", userID)
		c.Next()
	}
}

// UserID returns the authenticated user id from the request context.
func UserID(c *gin.Context) string {
	if v, ok := c.Get("user_id"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
