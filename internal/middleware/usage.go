package middleware

import (
	"github.com/gin-gonic/gin"

	"botforge/backend/internal/service"
	"botforge/backend/internal/util"
)

// APIQuota meters authenticated API calls against the subscription's
// daily quota. Requests without a subscription claim pass through.
func APIQuota(usage *service.UsageGate) gin.HandlerFunc {
	return func(c *gin.Context) {
		subID, exists := c.Get("subscription_id")
		if !exists || subID == "" {
			c.Next()
			return
		}

		if err := usage.CheckAndIncrementAPICall(c.Request.Context(), subID.(string)); err != nil {
			util.AbortWithError(c, err)
			return
		}

		c.Next()
	}
}
