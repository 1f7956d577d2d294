package clients

import (
	"RetinaTrack/config"
	"RetinaTrack/models"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	maxResponseBytes = 50 << 20
	maxErrorMessage  = 200

	HeaderDiscDetected = "X-Disc-Detected"
	HeaderCupDetected  = "X-Cup-Detected"
	HeaderConfidence   = "X-Confidence"
)

// Segmentation is a processed image returned by the segmentation service.
// DetectionReported is false when the service sent no detection values and
// the defaults were applied.
type Segmentation struct {
	Image             []byte
	ContentType       string
	Detection         models.DetectionResults
	DetectionReported bool
	Attempts          int
}

// StatusError is a non-2xx answer from the segmentation service.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("segmentation service answered %d", e.Code)
	}
	return fmt.Sprintf("segmentation service answered %d: %s", e.Code, e.Message)
}

// Segmenter is the contract the analysis orchestrator depends on.
type Segmenter interface {
	SegmentFile(ctx context.Context, fileName string, data []byte) (*Segmentation, error)
	SegmentURL(ctx context.Context, imageURL string) (*Segmentation, error)
}

// SegmentationClient talks to the optic disc/cup segmentation server. Every
// attempt has its own timeout; transport errors and 5xx answers are retried
// with capped exponential backoff behind a circuit breaker.
type SegmentationClient struct {
	baseURL           string
	httpClient        *http.Client
	breaker           *gobreaker.CircuitBreaker
	limiter           *rate.Limiter
	attemptTimeout    time.Duration
	maxRetries        int
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	defaultConfidence float64
	maxResponse       int64
	log               logrus.FieldLogger
}

func NewSegmentationClient(cfg config.SegmentationConfig, log logrus.FieldLogger) *SegmentationClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 60 * time.Second
	}
	if cfg.BreakerFailRatio <= 0 {
		cfg.BreakerFailRatio = 0.6
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	logger := log.WithField("client", "segmentation")

	c := &SegmentationClient{
		baseURL:           strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:        &http.Client{},
		limiter:           rate.NewLimiter(limit, 1),
		attemptTimeout:    cfg.Timeout,
		maxRetries:        cfg.MaxRetries,
		initialBackoff:    cfg.InitialBackoff,
		maxBackoff:        cfg.MaxBackoff,
		defaultConfidence: cfg.DefaultConfidence,
		maxResponse:       maxResponseBytes,
		log:               logger,
	}
	failRatio := cfg.BreakerFailRatio
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "segmentation",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= failRatio
		},
		IsSuccessful: func(err error) bool {
			// a rejected input says nothing about the health of the service
			return err == nil || !isTransient(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).
				Warn("circuit breaker changed state")
		},
	})
	return c
}

// BreakerState reports the circuit breaker state for health output.
func (c *SegmentationClient) BreakerState() string {
	return c.breaker.State().String()
}

// SegmentFile uploads data as the multipart field "imagen" to /segmentar.
func (c *SegmentationClient) SegmentFile(ctx context.Context, fileName string, data []byte) (*Segmentation, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", models.ErrProcessing)
	}
	if fileName == "" {
		fileName = "fundus.jpg"
	}
	contentType := mimetype.Detect(data).String()

	return c.do(ctx, func(ctx context.Context) (*http.Request, error) {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="imagen"; filename=%q`, fileName))
		header.Set("Content-Type", contentType)
		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(data); err != nil {
			return nil, err
		}
		if err := writer.Close(); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/segmentar", body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
		return req, nil
	})
}

// SegmentURL asks the service to download and process imageURL.
func (c *SegmentationClient) SegmentURL(ctx context.Context, imageURL string) (*Segmentation, error) {
	if _, err := url.ParseRequestURI(imageURL); err != nil {
		return nil, fmt.Errorf("%w: invalid image url: %v", models.ErrProcessing, err)
	}
	payload, err := json.Marshal(map[string]string{"url": imageURL})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrProcessing, err)
	}

	return c.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/segmentar-url", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
}

type requestBuilder func(ctx context.Context) (*http.Request, error)

func (c *SegmentationClient) do(ctx context.Context, build requestBuilder) (*Segmentation, error) {
	backoff := c.initialBackoff
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", models.ErrProcessing, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.maxBackoff {
				backoff = c.maxBackoff
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limit wait failed: %v", models.ErrProcessing, err)
		}

		res, err := c.breaker.Execute(func() (interface{}, error) {
			return c.attempt(ctx, build)
		})
		if err == nil {
			seg := res.(*Segmentation)
			seg.Attempts = attempt + 1
			return seg, nil
		}
		lastErr = err

		if ctx.Err() != nil || !isTransient(err) {
			break
		}
		c.log.WithError(err).WithField("attempt", attempt+1).Warn("segmentation attempt failed")
	}
	return nil, fmt.Errorf("%w: %w", models.ErrProcessing, lastErr)
}

func (c *SegmentationClient) attempt(ctx context.Context, build requestBuilder) (*Segmentation, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	req, err := build(attemptCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponse+1))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Message: errorMessage(body)}
	}
	if int64(len(body)) > c.maxResponse {
		return nil, &decodeError{fmt.Errorf("response exceeds %d bytes", c.maxResponse)}
	}
	return c.decode(resp.Header, body)
}

type segmentationPayload struct {
	Segmentada   string   `json:"segmentada"`
	DiscDetected *bool    `json:"discDetected"`
	CupDetected  *bool    `json:"cupDetected"`
	Confidence   *float64 `json:"confidence"`
}

// decode accepts either raw image bytes or the JSON envelope carrying a
// base64 image under "segmentada".
func (c *SegmentationClient) decode(header http.Header, body []byte) (*Segmentation, error) {
	seg := &Segmentation{
		Detection: models.DetectionResults{DiscDetected: true, CupDetected: true, Confidence: c.defaultConfidence},
	}

	imageBytes := body
	mediaType, _, _ := mime.ParseMediaType(header.Get("Content-Type"))
	if mediaType == "application/json" {
		var payload segmentationPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, &decodeError{fmt.Errorf("invalid json response: %w", err)}
		}
		decoded, err := base64.StdEncoding.DecodeString(payload.Segmentada)
		if err != nil {
			return nil, &decodeError{fmt.Errorf("invalid base64 image: %w", err)}
		}
		imageBytes = decoded
		if payload.DiscDetected != nil {
			seg.Detection.DiscDetected = *payload.DiscDetected
			seg.DetectionReported = true
		}
		if payload.CupDetected != nil {
			seg.Detection.CupDetected = *payload.CupDetected
			seg.DetectionReported = true
		}
		if payload.Confidence != nil {
			seg.Detection.Confidence = *payload.Confidence
			seg.DetectionReported = true
		}
	}

	if len(imageBytes) == 0 {
		return nil, &decodeError{errors.New("empty segmentation result")}
	}
	detected := mimetype.Detect(imageBytes)
	if !strings.HasPrefix(detected.String(), "image/") {
		return nil, &decodeError{fmt.Errorf("segmentation result is %s, not an image", detected.String())}
	}
	seg.Image = imageBytes
	seg.ContentType = detected.String()

	if err := applyDetectionHeaders(header, seg); err != nil {
		return nil, &decodeError{err}
	}
	return seg, nil
}

func applyDetectionHeaders(header http.Header, seg *Segmentation) error {
	if v := header.Get(HeaderDiscDetected); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s header: %w", HeaderDiscDetected, err)
		}
		seg.Detection.DiscDetected = b
		seg.DetectionReported = true
	}
	if v := header.Get(HeaderCupDetected); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s header: %w", HeaderCupDetected, err)
		}
		seg.Detection.CupDetected = b
		seg.DetectionReported = true
	}
	if v := header.Get(HeaderConfidence); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s header: %w", HeaderConfidence, err)
		}
		seg.Detection.Confidence = f
		seg.DetectionReported = true
	}
	return nil
}

type decodeError struct {
	err error
}

func (e *decodeError) Error() string { return e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

// isTransient reports whether another attempt may succeed.
func isTransient(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var de *decodeError
	if errors.As(err, &de) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	// transport failures and attempt timeouts
	return true
}

func errorMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return truncateRunes(strings.TrimSpace(string(body)), maxErrorMessage)
}

// truncateRunes cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
