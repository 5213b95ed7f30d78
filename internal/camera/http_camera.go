// Package camera captures still images from a network camera's snapshot
// endpoint.
package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/scene-assistant/internal/config"
	"github.com/lexiqai/scene-assistant/internal/observability"
	"github.com/lexiqai/scene-assistant/internal/pipeline"
	"github.com/lexiqai/scene-assistant/internal/resilience"
)

var _ pipeline.Camera = (*HTTPCamera)(nil)

// ErrNotImage is returned when the snapshot endpoint answers with something
// other than a JPEG or PNG image
var ErrNotImage = errors.New("camera returned a non-image response")

// maxSnapshotBytes caps a single snapshot
const maxSnapshotBytes = 20 << 20

// HTTPCamera fetches snapshots with GET requests
type HTTPCamera struct {
	url            string
	httpClient     *http.Client
	circuitBreaker *resilience.CircuitBreaker
	retryConfig    *resilience.RetryConfig
	logger         zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewHTTPCamera creates a camera for cfg.CameraURL
func NewHTTPCamera(cfg *config.Config) *HTTPCamera {
	return &HTTPCamera{
		url:        cfg.CameraURL,
		httpClient: &http.Client{Timeout: cfg.CameraTimeout()},
		circuitBreaker: resilience.NewCircuitBreaker(
			"camera",
			cfg.CircuitBreakerMaxFailures,
			cfg.CircuitBreakerReset(),
		),
		retryConfig: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    cfg.RetryBackoff(),
			MaxBackoff:        time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		logger: observability.ComponentLogger("camera").With().Str("url", cfg.CameraURL).Logger(),
	}
}

// Ready reports whether the camera answers a HEAD probe and its circuit
// is not open
func (c *HTTPCamera) Ready(ctx context.Context) bool {
	if c.isClosed() || !c.circuitBreaker.Allows() {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.url, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Camera probe failed")
		return false
	}
	resp.Body.Close()

	// Some snapshot servers only implement GET
	if resp.StatusCode == http.StatusMethodNotAllowed {
		return true
	}
	return resp.StatusCode < 400
}

// HealthCheck reports readiness for /ready, naming an open circuit when
// that is the cause
func (c *HTTPCamera) HealthCheck(ctx context.Context) (bool, error) {
	if c.Ready(ctx) {
		return true, nil
	}
	if err := c.circuitBreaker.StatusError(); err != nil && !c.circuitBreaker.Allows() {
		return false, err
	}
	return false, pipeline.ErrCameraNotReady
}

// Capture fetches one still image
func (c *HTTPCamera) Capture(ctx context.Context) ([]byte, error) {
	if c.isClosed() {
		return nil, pipeline.ErrCameraNotReady
	}

	var image []byte
	err := resilience.Retry(ctx, func(ctx context.Context) error {
		return c.circuitBreaker.Call(func() error {
			data, err := c.fetch(ctx)
			if err != nil {
				return err
			}
			image = data
			return nil
		})
	}, c.retryConfig, resilience.IsRetryableNetworkError)
	if err != nil {
		observability.RecordError("capture_error", "camera")
		return nil, fmt.Errorf("failed to capture image: %w", err)
	}

	c.logger.Debug().Int("bytes", len(image)).Msg("Captured image")
	return image, nil
}

func (c *HTTPCamera) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("camera returned status %d", resp.StatusCode)
		if resp.StatusCode >= 500 {
			return nil, resilience.NewRetryableError(err)
		}
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if !isImage(data) {
		return nil, ErrNotImage
	}
	return data, nil
}

func isImage(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	switch http.DetectContentType(data) {
	case "image/jpeg", "image/png":
		return true
	}
	return false
}

// Close releases idle connections; later captures fail
func (c *HTTPCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.httpClient.CloseIdleConnections()
	c.logger.Info().Msg("Camera released")
	return nil
}

func (c *HTTPCamera) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
