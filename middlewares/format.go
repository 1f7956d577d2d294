package middlewares

import (
	"RetinaTrack/models"
	"RetinaTrack/utils"
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RespondJSON writes a JSON response to the client.
func RespondJSON(c *gin.Context, data interface{}, status int) {
	c.JSON(status, data)
}

// StatusFor maps a service error onto an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput),
		errors.Is(err, models.ErrMissingLinkage),
		errors.Is(err, models.ErrInsufficientEvidence),
		errors.Is(err, models.ErrInvalidDetection),
		errors.Is(err, utils.ErrInvalidResetCode):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInvalidCredentials),
		errors.Is(err, utils.ErrTokenExpired),
		errors.Is(err, utils.ErrWrongTokenKind):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrForbidden),
		errors.Is(err, models.ErrInactiveUser),
		errors.Is(err, utils.ErrInsufficientPermissions):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrDuplicate),
		errors.Is(err, models.ErrArchived):
		return http.StatusConflict
	case errors.Is(err, models.ErrProcessing):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// HttpError logs err and writes it with the status StatusFor picks. The
// failing step is included when the error carries one. Internal errors are
// not echoed to the client.
func HttpError(c *gin.Context, log logrus.FieldLogger, err error) {
	status := StatusFor(err)
	step, hasStep := models.StepOf(err)

	entry := log.WithError(err).WithFields(logrus.Fields{"status": status, "path": c.Request.URL.Path})
	if hasStep {
		entry = entry.WithField("step", step)
	}
	message := err.Error()
	if status == http.StatusInternalServerError {
		entry.Error("request failed")
		message = "internal server error"
	} else {
		entry.Debug("request rejected")
	}

	body := gin.H{"error": message}
	if hasStep {
		body["step"] = step
	}
	c.AbortWithStatusJSON(status, body)
}

// BadRequest rejects a malformed request body or parameter.
func BadRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": message})
}
