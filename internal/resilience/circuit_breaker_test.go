package resilience

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func tripBreaker(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		cb.RecordResult(false)
	}
}

func TestCircuitBreaker_StateClosed(t *testing.T) {
	cb := NewCircuitBreaker("test-closed", 3, 1*time.Second)

	if cb.GetState() != StateClosed {
		t.Errorf("Expected initial state to be Closed, got %s", cb.GetState())
	}
	if !cb.Allows() {
		t.Error("Expected to allow request in Closed state")
	}
}

func TestCircuitBreaker_OpenAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker("test-open", 3, 1*time.Second)

	tripBreaker(cb, 2)
	if cb.GetState() != StateClosed {
		t.Error("Expected state to still be Closed after 2 failures")
	}

	cb.RecordResult(false)
	if cb.GetState() != StateOpen {
		t.Error("Expected state to be Open after 3 failures")
	}
	if cb.Allows() {
		t.Error("Expected to not allow request in Open state")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("test-reset-count", 3, 1*time.Second)

	tripBreaker(cb, 2)
	cb.RecordResult(true)
	tripBreaker(cb, 2)

	if cb.GetState() != StateClosed {
		t.Error("Expected non-consecutive failures to keep the circuit Closed")
	}
}

func TestCircuitBreaker_HalfOpenThenClosed(t *testing.T) {
	cb := NewCircuitBreaker("test-half-open", 3, 50*time.Millisecond)
	tripBreaker(cb, 3)

	time.Sleep(80 * time.Millisecond)

	for i := 0; i < 3; i++ {
		if err := cb.Call(func() error { return nil }); err != nil {
			t.Fatalf("Expected probe %d to be allowed, got %v", i, err)
		}
		if i == 0 && cb.GetState() != StateHalfOpen {
			t.Errorf("Expected HalfOpen after first probe, got %s", cb.GetState())
		}
	}

	if cb.GetState() != StateClosed {
		t.Errorf("Expected Closed after successful probes, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_FailureInHalfOpenReopens(t *testing.T) {
	cb := NewCircuitBreaker("test-half-open-fail", 3, 50*time.Millisecond)
	tripBreaker(cb, 3)

	time.Sleep(80 * time.Millisecond)

	err := cb.Call(func() error { return errors.New("still down") })
	if err == nil || errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Expected the probe to run and fail, got %v", err)
	}
	if cb.GetState() != StateOpen {
		t.Errorf("Expected Open after failed probe, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_Call(t *testing.T) {
	cb := NewCircuitBreaker("test-call", 3, 1*time.Second)

	if err := cb.Call(func() error { return nil }); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	testErr := errors.New("test error")
	if err := cb.Call(func() error { return testErr }); !errors.Is(err, testErr) {
		t.Errorf("Expected wrapped test error, got %v", err)
	}
}

func TestCircuitBreaker_CallOpen(t *testing.T) {
	cb := NewCircuitBreaker("test-call-open", 1, 1*time.Second)
	cb.RecordResult(false)

	called := false
	err := cb.Call(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("Expected fn not to run while circuit is open")
	}
}

func TestCircuitBreaker_GetStats(t *testing.T) {
	cb := NewCircuitBreaker("test-stats", 3, 1*time.Second)

	cb.RecordResult(true)
	cb.RecordResult(true)
	cb.RecordResult(false)

	state, requestCount, failureCount, failureRate := cb.GetStats()

	if state != StateClosed {
		t.Errorf("Expected state Closed, got %s", state)
	}
	if requestCount != 3 {
		t.Errorf("Expected 3 requests, got %d", requestCount)
	}
	if failureCount != 1 {
		t.Errorf("Expected 1 failure, got %d", failureCount)
	}
	if failureRate < 33.0 || failureRate > 34.0 {
		t.Errorf("Expected failure rate around 33.33%%, got %.2f%%", failureRate)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker("test-manual-reset", 3, 1*time.Second)
	tripBreaker(cb, 3)

	if cb.GetState() != StateOpen {
		t.Fatal("Expected circuit to be Open")
	}

	cb.Reset()

	state, requestCount, failureCount, _ := cb.GetStats()
	if state != StateClosed || requestCount != 0 || failureCount != 0 {
		t.Errorf("Expected stats to be reset, got %s %d %d", state, requestCount, failureCount)
	}
}

func TestCircuitState_String(t *testing.T) {
	if StateHalfOpen.String() != "half_open" {
		t.Errorf("Expected 'half_open', got %q", StateHalfOpen.String())
	}
}

func TestCircuitBreaker_LogsStateChange(t *testing.T) {
	var buf bytes.Buffer
	cb := NewCircuitBreaker("test-log", 1, time.Second)
	cb.logger = zerolog.New(&buf).With().Str("breaker", "test-log").Logger()

	cb.RecordResult(false)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to decode log line %q: %v", buf.String(), err)
	}
	if entry["breaker"] != "test-log" {
		t.Errorf("Expected breaker 'test-log', got %v", entry["breaker"])
	}
	if entry["from"] != "closed" || entry["to"] != "open" {
		t.Errorf("Expected closed -> open, got %v -> %v", entry["from"], entry["to"])
	}
}

func TestCircuitBreaker_StatusError(t *testing.T) {
	cb := NewCircuitBreaker("test-status", 2, time.Minute)

	if err := cb.StatusError(); err != nil {
		t.Errorf("Expected nil for a closed circuit, got %v", err)
	}

	cb.RecordResult(true)
	tripBreaker(cb, 2)

	err := cb.StatusError()
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Expected ErrCircuitOpen, got %v", err)
	}
	want := "test-status circuit open: 2 of 3 requests failed (67%): circuit breaker is open"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}
}
