package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CorsConfig holds CORS configuration settings.
type CorsConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
}

// DefaultCorsConfig allows the given origins with the methods and headers
// the web client uses.
func DefaultCorsConfig(origins []string) *CorsConfig {
	return &CorsConfig{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}
}

// CorsMiddleware creates a CORS middleware based on the provided configuration.
func CorsMiddleware(config *CorsConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && contains(config.AllowedOrigins, origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}

		c.Header("Access-Control-Allow-Methods", commaSeparated(config.AllowedMethods))
		c.Header("Access-Control-Allow-Headers", commaSeparated(config.AllowedHeaders))
		if len(config.ExposedHeaders) > 0 {
			c.Header("Access-Control-Expose-Headers", commaSeparated(config.ExposedHeaders))
		}
		if config.AllowCredentials {
			c.Header("Access-Control-Allow-Credentials", "true")
		}

		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "deny")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func contains(arr []string, val string) bool {
	for _, item := range arr {
		if item == "*" || item == val {
			return true
		}
	}
	return false
}

func commaSeparated(arr []string) string {
	return strings.Join(arr, ", ")
}
