package auth

import (
	"crypto/subtle"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// DeviceTokenHeader carries the shared device secret on ingestion requests.
const DeviceTokenHeader = "X-Device-Token"

// RequireDeviceToken is a Gin middleware guarding the device ingestion
// boundary with a shared token. The comparison is constant time so the
// token cannot be probed byte by byte.
func RequireDeviceToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, span := middlewareTracer.Start(c.Request.Context(), "auth.require_device_token")
		defer span.End()

		presented := c.GetHeader(DeviceTokenHeader)
		if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			span.SetAttributes(attribute.Bool("auth.device_token_valid", false))
			log.Printf(`{"level":"warn","message":"Device token rejected","path":"%s"}`, c.Request.URL.Path)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid device token"})
			c.Abort()
			return
		}

		span.SetAttributes(attribute.Bool("auth.device_token_valid", true))
		c.Next()
	}
}
