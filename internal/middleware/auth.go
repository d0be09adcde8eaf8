package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"botforge/backend/internal/util"
	"botforge/backend/pkg/jwt"
)

// AuthMiddleware validates the bearer token and loads its claims into
// the request context
func AuthMiddleware(jwtManager *jwt.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			util.AbortWithCustomError(c, 401, util.ErrCodeUnauthorized, "Missing authorization header")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			util.AbortWithCustomError(c, 401, util.ErrCodeUnauthorized, "Invalid authorization header format")
			return
		}

		claims, err := jwtManager.ValidateToken(parts[1])
		if err != nil {
			util.AbortWithCustomError(c, 401, util.ErrCodeUnauthorized, "Invalid or expired token")
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("subscription_id", claims.SubscriptionID)
		c.Set("user_role", claims.Role)

		c.Next()
	}
}
