package handlers

import (
	"RetinaTrack/middlewares"
	"RetinaTrack/models"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// caller returns the authenticated caller or aborts with 401.
func caller(c *gin.Context) (models.AuthContext, bool) {
	auth, ok := middlewares.AuthFromContext(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
	}
	return auth, ok
}

// readUpload reads one multipart file, refusing files larger than limit.
func readUpload(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	if limit > 0 && fh.Size > limit {
		return nil, fmt.Errorf("%w: %s exceeds the %d byte upload limit", models.ErrInvalidInput, fh.Filename, limit)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open %s: %v", models.ErrInvalidInput, fh.Filename, err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

// parseDate accepts RFC 3339 timestamps and plain YYYY-MM-DD dates.
func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: invalid date %q", models.ErrInvalidInput, s)
}

func attachment(c *gin.Context, fileName, contentType string, data []byte) {
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, fileName))
	c.Data(http.StatusOK, contentType, data)
}
