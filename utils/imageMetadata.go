package utils

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rwcarlsen/goexif/exif"
)

// ErrNotAnImage is returned for uploads that do not decode as an image.
var ErrNotAnImage = errors.New("file is not a supported image")

// ErrImageTooLarge is returned when the declared pixel dimensions exceed the
// configured maximum. It is checked before any pixel buffer is allocated.
var ErrImageTooLarge = errors.New("image dimensions exceed the pixel limit")

// DefaultMaxPixels applies when no limit is configured.
const DefaultMaxPixels int64 = 50_000_000

// ImageMetadata is the binary metadata recorded for every stored image.
type ImageMetadata struct {
	SizeBytes int64
	MimeType  string
	Width     int
	Height    int
	TakenAt   *time.Time
}

// InspectImage sniffs the mime type, decodes the pixel dimensions and reads
// the EXIF capture date when present. Images larger than maxPixels are
// rejected; maxPixels <= 0 means DefaultMaxPixels.
func InspectImage(data []byte, maxPixels int64) (*ImageMetadata, error) {
	if len(data) == 0 {
		return nil, ErrNotAnImage
	}
	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return nil, fmt.Errorf("%w: detected %s", ErrNotAnImage, mtype.String())
	}

	cfg, err := decodeBounded(data, maxPixels)
	if err != nil {
		return nil, err
	}

	meta := &ImageMetadata{
		SizeBytes: int64(len(data)),
		MimeType:  mtype.String(),
		Width:     cfg.Width,
		Height:    cfg.Height,
	}

	// not every camera writes EXIF, a missing block is not an error
	if x, err := exif.Decode(bytes.NewReader(data)); err == nil {
		if dt, err := x.DateTime(); err == nil {
			utc := dt.UTC()
			meta.TakenAt = &utc
		}
	}
	return meta, nil
}

// MakeThumbnail fits the image inside a size x size box and encodes it as JPEG.
func MakeThumbnail(data []byte, size int, maxPixels int64) ([]byte, error) {
	if size <= 0 {
		size = 320
	}
	if _, err := decodeBounded(data, maxPixels); err != nil {
		return nil, err
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image for thumbnail: %w", err)
	}
	thumb := imaging.Fit(img, size, size, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeBounded reads only the image header and enforces the pixel limit.
func decodeBounded(data []byte, maxPixels int64) (image.Config, error) {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrNotAnImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return cfg, fmt.Errorf("%w: empty dimensions %dx%d", ErrNotAnImage, cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return cfg, fmt.Errorf("%w: %dx%d is over %d pixels", ErrImageTooLarge, cfg.Width, cfg.Height, maxPixels)
	}
	return cfg, nil
}
