// Package detector runs object detection on a remote gRPC service.
package detector

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/lexiqai/scene-assistant/internal/config"
	"github.com/lexiqai/scene-assistant/internal/observability"
	"github.com/lexiqai/scene-assistant/internal/pipeline"
	"github.com/lexiqai/scene-assistant/internal/resilience"
	"github.com/lexiqai/scene-assistant/internal/scene"
)

var _ pipeline.Detector = (*GRPCDetector)(nil)

// DetectMethod is the full gRPC method name of the detection call
const DetectMethod = "/scene.detector.v1.ObjectDetector/Detect"

var (
	// ErrMalformedResponse is returned when the detector reply does not
	// have the expected shape
	ErrMalformedResponse = errors.New("malformed detector response")

	errClosed = errors.New("detector client is closed")
)

// GRPCDetector manages the gRPC connection to the object detector
type GRPCDetector struct {
	config         *config.Config
	dialOpts       []grpc.DialOption
	conn           *grpc.ClientConn
	health         grpc_health_v1.HealthClient
	mu             sync.RWMutex
	isConnected    bool
	circuitBreaker *resilience.CircuitBreaker
	retryConfig    *resilience.RetryConfig
	logger         zerolog.Logger
}

// NewGRPCDetector creates a detector client for cfg.DetectorAddr. The
// connection is established lazily on first use.
func NewGRPCDetector(cfg *config.Config, opts ...grpc.DialOption) (*GRPCDetector, error) {
	d := &GRPCDetector{
		config:   cfg,
		dialOpts: opts,
		circuitBreaker: resilience.NewCircuitBreaker(
			"detector",
			cfg.CircuitBreakerMaxFailures,
			cfg.CircuitBreakerReset(),
		),
		retryConfig: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    cfg.RetryBackoff(),
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		logger: observability.ComponentLogger("detector").With().Str("addr", cfg.DetectorAddr).Logger(),
	}

	if err := d.connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to detector: %w", err)
	}
	return d, nil
}

// connect creates the client connection
func (d *GRPCDetector) connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isConnected && d.conn != nil {
		return nil
	}

	var opts []grpc.DialOption
	if d.config.DetectorTLSEnabled {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	// Keepalive settings for long-lived connections
	opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             3 * time.Second,
		PermitWithoutStream: true,
	}))
	opts = append(opts, d.dialOpts...)

	conn, err := grpc.NewClient(d.config.DetectorAddr, opts...)
	if err != nil {
		return fmt.Errorf("failed to create client for %s: %w", d.config.DetectorAddr, err)
	}

	d.conn = conn
	d.health = grpc_health_v1.NewHealthClient(conn)
	d.isConnected = true

	d.logger.Info().Bool("tls", d.config.DetectorTLSEnabled).Msg("Detector client created")
	return nil
}

// Detect sends one image to the detector and returns the objects found
func (d *GRPCDetector) Detect(ctx context.Context, image []byte) (scene.DetectionResult, error) {
	if len(image) == 0 {
		return scene.DetectionResult{}, fmt.Errorf("empty image")
	}

	var reply *structpb.Struct
	err := d.circuitBreaker.Call(func() error {
		return resilience.Retry(ctx, func(ctx context.Context) error {
			d.mu.RLock()
			conn := d.conn
			d.mu.RUnlock()

			if conn == nil {
				return errClosed
			}

			resp := &structpb.Struct{}
			if err := conn.Invoke(ctx, DetectMethod, wrapperspb.Bytes(image), resp); err != nil {
				return err
			}
			reply = resp
			return nil
		}, d.retryConfig, isRetryableError)
	})
	if err != nil {
		observability.IncrementCircuitBreakerFailures("detector")
		observability.RecordError("detect_error", "detector")
		return scene.DetectionResult{}, fmt.Errorf("failed to call Detect: %w", err)
	}

	result, err := parseDetections(reply)
	if err != nil {
		observability.RecordError("malformed_response", "detector")
		return scene.DetectionResult{}, err
	}

	d.logger.Debug().Int("objects", len(result.Objects)).Msg("Detection complete")
	return result, nil
}

// HealthCheck asks the detector's grpc.health.v1 service whether it is serving
func (d *GRPCDetector) HealthCheck(ctx context.Context) (bool, error) {
	d.mu.RLock()
	if !d.isConnected || d.health == nil {
		d.mu.RUnlock()
		return false, errClosed
	}
	health := d.health
	d.mu.RUnlock()

	if !d.circuitBreaker.Allows() {
		return false, d.circuitBreaker.StatusError()
	}

	resp, err := health.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		return false, fmt.Errorf("health check failed: %w", err)
	}
	return resp.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING, nil
}

// Close closes the gRPC connection
func (d *GRPCDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.isConnected = false
	d.conn = nil
	d.health = nil
	d.logger.Info().Msg("Detector connection closed")
	return err
}

// IsConnected returns whether the client connection is open
func (d *GRPCDetector) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isConnected
}

// isRetryableError retries transient gRPC status codes and network errors
func isRetryableError(err error) bool {
	if err == nil || errors.Is(err, errClosed) {
		return false
	}
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
			return true
		case codes.Unknown:
			return resilience.IsRetryableNetworkError(err)
		default:
			return false
		}
	}
	return resilience.IsRetryableNetworkError(err)
}
