package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/scene-assistant/internal/audio"
	"github.com/lexiqai/scene-assistant/internal/config"
	"github.com/lexiqai/scene-assistant/internal/observability"
	"github.com/lexiqai/scene-assistant/internal/pipeline"
	"github.com/lexiqai/scene-assistant/internal/resilience"
)

var _ pipeline.Synthesizer = (*CartesiaClient)(nil)

const (
	defaultCartesiaURL = "https://api.cartesia.ai/tts/bytes"
	cartesiaVersion    = "2024-06-10"
)

// CartesiaClient speaks text through Cartesia's TTS API and plays the
// result on an AudioSink
type CartesiaClient struct {
	config         *config.Config
	apiKey         string
	apiURL         string
	voiceID        string
	httpClient     *http.Client
	sink           AudioSink
	circuitBreaker *resilience.CircuitBreaker
	retryConfig    *resilience.RetryConfig
	logger         zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	gen    uint64
}

// CartesiaRequest represents the request payload for Cartesia TTS API
type CartesiaRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        CartesiaVoice        `json:"voice"`
	OutputFormat CartesiaOutputFormat `json:"output_format"`
	Language     string               `json:"language,omitempty"`
}

// CartesiaVoice selects the voice by id
type CartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

// CartesiaOutputFormat asks for raw PCM
type CartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// NewCartesiaClient creates a new Cartesia TTS client
func NewCartesiaClient(cfg *config.Config, sink AudioSink) *CartesiaClient {
	return &CartesiaClient{
		config:     cfg,
		apiKey:     cfg.CartesiaAPIKey,
		apiURL:     defaultCartesiaURL,
		voiceID:    cfg.CartesiaVoiceID,
		httpClient: &http.Client{Timeout: cfg.SpeakTimeout()},
		sink:       sink,
		circuitBreaker: resilience.NewCircuitBreaker(
			"cartesia",
			cfg.CircuitBreakerMaxFailures,
			cfg.CircuitBreakerReset(),
		),
		retryConfig: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    cfg.RetryBackoff(),
			MaxBackoff:        2 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		logger: observability.ComponentLogger("tts"),
	}
}

// Speak synthesizes text, plays it and returns once playback has finished,
// ctx is done or Stop is called
func (c *CartesiaClient) Speak(ctx context.Context, text string) error {
	ctx, gen := c.begin(ctx)
	defer c.end(gen)

	c.sink.SendSpeech(text)

	var pcm []byte
	err := resilience.Retry(ctx, func(ctx context.Context) error {
		return c.circuitBreaker.Call(func() error {
			data, err := c.synthesize(ctx, text)
			if err != nil {
				return err
			}
			pcm = data
			return nil
		})
	}, c.retryConfig, resilience.IsRetryableNetworkError)
	if err != nil {
		observability.RecordError("tts_error", "cartesia")
		return fmt.Errorf("failed to synthesize speech: %w", err)
	}

	observability.RecordAudioBytes("out", int64(len(pcm)))
	if err := c.sink.PlayAudio(&AudioChunk{
		Data:       pcm,
		SampleRate: audio.SampleRate24k,
		Channels:   1,
	}); err != nil {
		return fmt.Errorf("failed to play speech: %w", err)
	}

	c.logger.Debug().
		Int("bytes", len(pcm)).
		Str("text", text).
		Msg("Playing synthesized speech")

	timer := time.NewTimer(playbackDuration(len(pcm), audio.SampleRate24k))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		c.sink.ClearAudio()
		return ctx.Err()
	}
}

func (c *CartesiaClient) begin(ctx context.Context) (context.Context, uint64) {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	c.cancel = cancel
	return ctx, c.gen
}

func (c *CartesiaClient) end(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen && c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// synthesize requests raw 24 kHz linear16 PCM for text
func (c *CartesiaClient) synthesize(ctx context.Context, text string) ([]byte, error) {
	reqBody := CartesiaRequest{
		ModelID:    c.config.CartesiaModelID,
		Transcript: text,
		Voice:      CartesiaVoice{Mode: "id", ID: c.voiceID},
		OutputFormat: CartesiaOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: audio.SampleRate24k,
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Cartesia-Version", cartesiaVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("cartesia API returned status %d", resp.StatusCode)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, resilience.NewRetryableError(err)
		}
		return nil, err
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	if len(audioData) == 0 {
		return nil, fmt.Errorf("cartesia returned empty audio")
	}
	return audioData, nil
}

// Stop interrupts the current sentence, if any
func (c *CartesiaClient) Stop() error {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		c.logger.Debug().Msg("Speech stopped")
	}
	return nil
}

// Close stops any speech in progress
func (c *CartesiaClient) Close() error {
	return c.Stop()
}

// IsActive returns whether a sentence is being spoken
func (c *CartesiaClient) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// playbackDuration is how long n bytes of mono linear16 take to play
func playbackDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := n / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
