package middlewares

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ValidateBearerToken guards internal routes with the static API token.
func ValidateBearerToken(expectedBearerToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if expectedBearerToken == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Internal API token is not configured"})
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is missing"})
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid Authorization header format"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(expectedBearerToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid Bearer Token"})
			return
		}
		c.Next()
	}
}

// LoggingMiddleware logs one line per request.
func LoggingMiddleware(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"client":   c.ClientIP(),
		}
		if fields["path"] == "" {
			fields["path"] = c.Request.URL.Path
		}
		if auth, ok := AuthFromContext(c); ok {
			fields["user_id"] = auth.UID
		}

		entry := log.WithFields(fields)
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Error("request failed")
		case c.Writer.Status() >= http.StatusBadRequest:
			entry.Warn("request rejected")
		default:
			entry.Info("request")
		}
	}
}
