package detector

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/lexiqai/scene-assistant/internal/config"
	"github.com/lexiqai/scene-assistant/internal/resilience"
	"github.com/lexiqai/scene-assistant/internal/scene"
)

type detectFunc func(image []byte) (*structpb.Struct, error)

// startServer runs an in-process detector answering with fn
func startServer(t *testing.T, fn detectFunc) (string, *health.Server) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	desc := grpc.ServiceDesc{
		ServiceName: "scene.detector.v1.ObjectDetector",
		HandlerType: (*interface{})(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "Detect",
			Handler: func(_ interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
				in := &wrapperspb.BytesValue{}
				if err := dec(in); err != nil {
					return nil, err
				}
				return fn(in.GetValue())
			},
		}},
	}

	s := grpc.NewServer()
	s.RegisterService(&desc, struct{}{})
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, hs)

	go s.Serve(lis)
	t.Cleanup(s.Stop)
	return lis.Addr().String(), hs
}

func newTestDetector(t *testing.T, addr string) *GRPCDetector {
	t.Helper()
	d, err := NewGRPCDetector(&config.Config{
		DetectorAddr:               addr,
		DetectorTimeout:            time.Second,
		CircuitBreakerMaxFailures:  5,
		CircuitBreakerResetTimeout: 30,
		RetryMaxAttempts:           3,
		RetryInitialBackoff:        1,
	})
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func mustStruct(t *testing.T, m map[string]interface{}) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("Failed to build struct: %v", err)
	}
	return s
}

func TestGRPCDetector_Detect(t *testing.T) {
	image := []byte{0xFF, 0xD8, 0xFF, 0x01}
	reply := mustStruct(t, map[string]interface{}{
		"objects": []interface{}{
			map[string]interface{}{"labels": []interface{}{
				map[string]interface{}{"text": "kitten", "confidence": 0.4},
				map[string]interface{}{"text": "cat", "confidence": 0.9},
			}},
			map[string]interface{}{"labels": []interface{}{}},
		},
	})

	received := make(chan []byte, 1)
	addr, _ := startServer(t, func(img []byte) (*structpb.Struct, error) {
		received <- img
		return reply, nil
	})
	d := newTestDetector(t, addr)

	result, err := d.Detect(context.Background(), image)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if got := <-received; !bytes.Equal(got, image) {
		t.Errorf("Expected server to receive the image, got %v", got)
	}
	if len(result.Objects) != 2 {
		t.Fatalf("Expected 2 objects, got %d", len(result.Objects))
	}
	if got := result.Objects[0].TopLabel(); got != "cat" {
		t.Errorf("Expected top label cat, got %s", got)
	}
	if got := result.Objects[1].TopLabel(); got != scene.FallbackLabel {
		t.Errorf("Expected fallback label, got %s", got)
	}
}

func TestGRPCDetector_RetriesUnavailable(t *testing.T) {
	var calls int32
	addr, _ := startServer(t, func(img []byte) (*structpb.Struct, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, status.Error(codes.Unavailable, "warming up")
		}
		return mustStruct(t, map[string]interface{}{"objects": []interface{}{}}), nil
	})
	d := newTestDetector(t, addr)

	result, err := d.Detect(context.Background(), []byte{1})
	if err != nil {
		t.Fatalf("Expected success after retry, got %v", err)
	}
	if !result.IsEmpty() {
		t.Errorf("Expected empty result, got %+v", result)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("Expected 2 calls, got %d", n)
	}
}

func TestGRPCDetector_InvalidArgumentNotRetried(t *testing.T) {
	var calls int32
	addr, _ := startServer(t, func(img []byte) (*structpb.Struct, error) {
		atomic.AddInt32(&calls, 1)
		return nil, status.Error(codes.InvalidArgument, "not an image")
	})
	d := newTestDetector(t, addr)

	if _, err := d.Detect(context.Background(), []byte{1}); status.Code(err) != codes.InvalidArgument {
		t.Errorf("Expected InvalidArgument, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("Expected 1 call, got %d", n)
	}
}

func TestGRPCDetector_Malformed(t *testing.T) {
	addr, _ := startServer(t, func(img []byte) (*structpb.Struct, error) {
		return mustStruct(t, map[string]interface{}{"detections": "none"}), nil
	})
	d := newTestDetector(t, addr)

	if _, err := d.Detect(context.Background(), []byte{1}); !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("Expected ErrMalformedResponse, got %v", err)
	}
}

func TestGRPCDetector_EmptyImage(t *testing.T) {
	addr, _ := startServer(t, func(img []byte) (*structpb.Struct, error) {
		t.Error("Expected no call for an empty image")
		return nil, nil
	})
	d := newTestDetector(t, addr)

	if _, err := d.Detect(context.Background(), nil); err == nil {
		t.Error("Expected error for empty image")
	}
}

func TestGRPCDetector_HealthCheck(t *testing.T) {
	addr, hs := startServer(t, func(img []byte) (*structpb.Struct, error) { return nil, nil })
	d := newTestDetector(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	healthy, err := d.HealthCheck(ctx)
	if err != nil || !healthy {
		t.Errorf("Expected healthy detector, got %v (err=%v)", healthy, err)
	}

	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	healthy, err = d.HealthCheck(ctx)
	if err != nil || healthy {
		t.Errorf("Expected not serving, got %v (err=%v)", healthy, err)
	}
}

func TestGRPCDetector_HealthCheckOpenCircuit(t *testing.T) {
	addr, _ := startServer(t, func(img []byte) (*structpb.Struct, error) {
		return nil, status.Error(codes.InvalidArgument, "not an image")
	})
	d := newTestDetector(t, addr)
	d.circuitBreaker = resilience.NewCircuitBreaker("detector-test", 1, time.Minute)

	if _, err := d.Detect(context.Background(), []byte{1}); err == nil {
		t.Fatal("Expected detect error")
	}

	healthy, err := d.HealthCheck(context.Background())
	if healthy {
		t.Error("Expected unhealthy detector with an open circuit")
	}
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
}

func TestGRPCDetector_Close(t *testing.T) {
	addr, _ := startServer(t, func(img []byte) (*structpb.Struct, error) { return nil, nil })
	d := newTestDetector(t, addr)

	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if d.IsConnected() {
		t.Error("Expected disconnected after Close")
	}
	if err := d.Close(); err != nil {
		t.Errorf("Expected second Close to be a no-op, got %v", err)
	}
	if _, err := d.Detect(context.Background(), []byte{1}); !errors.Is(err, errClosed) {
		t.Errorf("Expected errClosed, got %v", err)
	}
	if _, err := d.HealthCheck(context.Background()); err == nil {
		t.Error("Expected health check error after Close")
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unavailable", status.Error(codes.Unavailable, "down"), true},
		{"exhausted", status.Error(codes.ResourceExhausted, "busy"), true},
		{"invalid", status.Error(codes.InvalidArgument, "bad"), false},
		{"closed", errClosed, false},
		{"network", errors.New("connection refused"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}
