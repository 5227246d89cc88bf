package middleware

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/substitute-api/pkg/errors"
	"github.com/noah-isme/substitute-api/pkg/response"
)

// CronSecretHeader carries the shared secret of the scheduler calling internal routes.
const CronSecretHeader = "X-Cron-Secret"

// CronSecret guards internal routes invoked by an external scheduler.
// An empty secret rejects every call.
func CronSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader(CronSecretHeader)
		if secret == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid cron secret"))
			c.Abort()
			return
		}
		c.Next()
	}
}
