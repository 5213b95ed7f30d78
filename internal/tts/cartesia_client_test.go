package tts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lexiqai/scene-assistant/internal/config"
)

type fakeSink struct {
	mu      sync.Mutex
	speech  []string
	chunks  []*AudioChunk
	cleared int
	played  chan struct{}
}

func newFakeSink() *fakeSink {
	return &fakeSink{played: make(chan struct{}, 8)}
}

func (s *fakeSink) PlayAudio(chunk *AudioChunk) error {
	s.mu.Lock()
	s.chunks = append(s.chunks, chunk)
	s.mu.Unlock()
	s.played <- struct{}{}
	return nil
}

func (s *fakeSink) ClearAudio() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared++
}

func (s *fakeSink) SendSpeech(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speech = append(s.speech, text)
}

func testConfig() *config.Config {
	return &config.Config{
		CartesiaAPIKey:             "test-key",
		CartesiaVoiceID:            "voice-1",
		CartesiaModelID:            "sonic",
		SpeakTimeoutSeconds:        5,
		CircuitBreakerMaxFailures:  5,
		CircuitBreakerResetTimeout: 30,
		RetryMaxAttempts:           3,
		RetryInitialBackoff:        1,
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*CartesiaClient, *fakeSink) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	sink := newFakeSink()
	c := NewCartesiaClient(testConfig(), sink)
	c.apiURL = srv.URL
	return c, sink
}

func TestCartesiaClient_Speak(t *testing.T) {
	var got CartesiaRequest
	var apiKey string
	c, sink := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		apiKey = r.Header.Get("X-API-Key")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		w.Write(make([]byte, 4800)) // 100ms at 24 kHz
	})

	start := time.Now()
	if err := c.Speak(context.Background(), "I see a cup."); err != nil {
		t.Fatalf("Speak failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("Expected Speak to block for playback, returned after %v", elapsed)
	}

	if apiKey != "test-key" {
		t.Errorf("Expected API key header, got %q", apiKey)
	}
	if got.Transcript != "I see a cup." || got.Voice.ID != "voice-1" {
		t.Errorf("Unexpected request %+v", got)
	}
	if got.OutputFormat.Encoding != "pcm_s16le" || got.OutputFormat.SampleRate != 24000 {
		t.Errorf("Expected raw 24 kHz PCM, got %+v", got.OutputFormat)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.speech) != 1 || sink.speech[0] != "I see a cup." {
		t.Errorf("Expected speech text sent, got %v", sink.speech)
	}
	if len(sink.chunks) != 1 || len(sink.chunks[0].Data) != 4800 || sink.chunks[0].SampleRate != 24000 {
		t.Errorf("Expected one 4800 byte chunk at 24 kHz, got %v", sink.chunks)
	}
	if c.IsActive() {
		t.Error("Expected client idle after Speak")
	}
}

func TestCartesiaClient_StopInterruptsPlayback(t *testing.T) {
	c, sink := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 480000)) // 10s at 24 kHz
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Speak(context.Background(), "a long sentence")
	}()

	select {
	case <-sink.played:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for playback")
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Speak did not return after Stop")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.cleared != 1 {
		t.Errorf("Expected playback cleared once, got %d", sink.cleared)
	}
}

func TestCartesiaClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(make([]byte, 48))
	})

	if err := c.Speak(context.Background(), "hello"); err != nil {
		t.Fatalf("Expected success after retry, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("Expected 2 calls, got %d", n)
	}
}

func TestCartesiaClient_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	c, sink := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	if err := c.Speak(context.Background(), "hello"); err == nil {
		t.Fatal("Expected error for unauthorized request")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("Expected 1 call, got %d", n)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.chunks) != 0 {
		t.Errorf("Expected no audio played, got %d chunks", len(sink.chunks))
	}
}

func TestCartesiaClient_EmptyAudio(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	if err := c.Speak(context.Background(), "hello"); err == nil {
		t.Error("Expected error for empty audio")
	}
}

func TestPlaybackDuration(t *testing.T) {
	tests := []struct {
		bytes int
		rate  int
		want  time.Duration
	}{
		{48000, 24000, time.Second},
		{4800, 24000, 100 * time.Millisecond},
		{32000, 16000, time.Second},
		{100, 0, 0},
	}

	for _, tt := range tests {
		if got := playbackDuration(tt.bytes, tt.rate); got != tt.want {
			t.Errorf("playbackDuration(%d, %d): expected %v, got %v", tt.bytes, tt.rate, tt.want, got)
		}
	}
}

func TestLogSynthesizer(t *testing.T) {
	sink := newFakeSink()
	s := NewLogSynthesizer(sink)

	if err := s.Speak(context.Background(), "Camera not ready."); err != nil {
		t.Fatalf("Speak failed: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if len(sink.speech) != 1 || sink.speech[0] != "Camera not ready." {
		t.Errorf("Expected speech text sent, got %v", sink.speech)
	}

	if err := NewLogSynthesizer(nil).Speak(context.Background(), "ok"); err != nil {
		t.Errorf("Expected nil sink to be fine, got %v", err)
	}
}

func TestLogSynthesizer_CancelledContext(t *testing.T) {
	sink := newFakeSink()
	s := NewLogSynthesizer(sink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Speak(ctx, "2 cats are in front."); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if len(sink.speech) != 0 {
		t.Errorf("Expected nothing sent for a cancelled sentence, got %v", sink.speech)
	}
}
