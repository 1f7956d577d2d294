package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthReporter reports the state of a dependency for the root route.
type HealthReporter func() string

// SetupRootRoute registers the root route. Each reporter adds one entry to
// the response.
func SetupRootRoute(router *gin.Engine, reporters map[string]HealthReporter) {
	router.GET("/", func(c *gin.Context) {
		status := gin.H{"service": "RetinaTrack", "status": "ok"}
		for name, report := range reporters {
			status[name] = report()
		}
		c.JSON(http.StatusOK, status)
	})
}
