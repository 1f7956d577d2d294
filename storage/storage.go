package storage

import (
	"RetinaTrack/config"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// BlobStore persists image bytes and hands back public URLs.
type BlobStore interface {
	Put(ctx context.Context, objectPath string, data []byte, contentType string) error
	Get(ctx context.Context, objectPath string) ([]byte, error)
	Delete(ctx context.Context, objectPath string) error
	PublicURL(objectPath string) string
}

// New builds the store selected by cfg.Driver.
func New(ctx context.Context, cfg config.StorageConfig, log *logrus.Logger) (BlobStore, error) {
	switch cfg.Driver {
	case "local":
		return NewLocalStore(cfg.BasePath, cfg.PublicBaseURL, log)
	case "s3":
		return NewS3Store(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// OriginalPath is where an uploaded fundus photo lives.
func OriginalPath(patientID, visitID, eye, fileName string, now time.Time) string {
	return path.Join("patients", patientID, "visits", visitID, "images", "originals", eye,
		fmt.Sprintf("%d-%s-%s", now.UnixMilli(), uuid.New().String()[:8], SanitizeFileName(fileName)))
}

// ThumbnailPath sits next to the original it was built from.
func ThumbnailPath(originalPath string) string {
	dir, file := path.Split(originalPath)
	ext := path.Ext(file)
	return path.Join(dir, "thumbs", strings.TrimSuffix(file, ext)+".jpg")
}

// AnalysisPath is where a segmentation overlay derived from sourceID lives.
// ext is taken from the overlay's content type and defaults to ".png".
func AnalysisPath(patientID, visitID, eye, sourceID, ext string, now time.Time) string {
	if ext == "" {
		ext = ".png"
	}
	return path.Join("patients", patientID, "visits", visitID, "images", "ai_analysis", eye,
		fmt.Sprintf("%d-%s-segmentation%s", now.UnixMilli(), sourceID, ext))
}

// SanitizeFileName keeps a client-supplied name safe to embed in a path.
func SanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "image"
	}
	return out
}
