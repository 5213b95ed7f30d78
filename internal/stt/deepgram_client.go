package stt

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/scene-assistant/internal/audio"
	"github.com/lexiqai/scene-assistant/internal/config"
	"github.com/lexiqai/scene-assistant/internal/observability"
	"github.com/lexiqai/scene-assistant/internal/resilience"
)

var _ StreamingClient = (*DeepgramClient)(nil)

// ErrNotConfigured is returned when no Deepgram API key is set
var ErrNotConfigured = errors.New("deepgram API key not configured")

// messageCallbackHandler embeds the SDK's default handler and overrides
// only Message and Error
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	handler      func(*msginterfaces.MessageResponse)
	errorHandler func(*msginterfaces.ErrorResponse) error
}

func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.handler(message)
	return nil
}

func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	if m.errorHandler != nil {
		return m.errorHandler(errorResponse)
	}
	return m.DefaultCallbackHandler.Error(errorResponse)
}

// DeepgramClient implements StreamingClient using Deepgram's live API
type DeepgramClient struct {
	config         *config.Config
	client         *listenClient.WSCallback
	transcript     chan *TranscriptionResult
	mu             sync.RWMutex
	isActive       bool
	wanted         bool // a session is open from the caller's point of view
	ctx            context.Context
	cancel         context.CancelFunc
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger
}

// NewDeepgramClient creates a new Deepgram streaming client
func NewDeepgramClient(cfg *config.Config) *DeepgramClient {
	ctx, cancel := context.WithCancel(context.Background())

	return &DeepgramClient{
		config:     cfg,
		transcript: make(chan *TranscriptionResult, 100),
		ctx:        ctx,
		cancel:     cancel,
		circuitBreaker: resilience.NewCircuitBreaker(
			"deepgram",
			cfg.CircuitBreakerMaxFailures,
			cfg.CircuitBreakerReset(),
		),
		logger: observability.ComponentLogger("stt"),
	}
}

// Configured reports whether an API key is set
func (d *DeepgramClient) Configured() bool {
	return d.config.DeepgramAPIKey != ""
}

// liveOptions builds the transcription options for linear16 16 kHz mono
func (d *DeepgramClient) liveOptions() *interfaces.LiveTranscriptionOptions {
	return &interfaces.LiveTranscriptionOptions{
		Model:          d.config.DeepgramModel,
		Language:       d.config.DeepgramLanguage,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: strconv.Itoa(d.config.ListenTrailingSilenceMs),
		VadEvents:      true,
		Encoding:       string(audio.EncodingLinear16),
		Channels:       1,
		SampleRate:     audio.SampleRate16k,
	}
}

// Start opens a new Deepgram streaming session
func (d *DeepgramClient) Start() error {
	if !d.Configured() {
		return ErrNotConfigured
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isActive {
		return fmt.Errorf("deepgram client is already active")
	}

	err := d.circuitBreaker.Call(func() error {
		callback := &messageCallbackHandler{
			DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
			handler:                d.handleDeepgramMessage,
			errorHandler:           d.handleDeepgramError,
		}

		client, err := listenClient.NewWSUsingCallback(
			d.ctx,
			d.config.DeepgramAPIKey,
			nil, // default client options
			d.liveOptions(),
			callback,
		)
		if err != nil {
			return fmt.Errorf("failed to create Deepgram client: %w", err)
		}
		if !client.Connect() {
			return fmt.Errorf("failed to connect to Deepgram")
		}
		d.client = client
		return nil
	})
	if err != nil {
		observability.RecordError("stt_connect_error", "deepgram")
		return err
	}

	d.isActive = true
	d.wanted = true

	d.logger.Info().
		Str("model", d.config.DeepgramModel).
		Str("language", d.config.DeepgramLanguage).
		Msg("Deepgram streaming session started")
	return nil
}

func (d *DeepgramClient) handleDeepgramError(errorResponse *msginterfaces.ErrorResponse) error {
	d.logger.Error().Interface("error", errorResponse).Msg("Deepgram error")
	d.circuitBreaker.RecordResult(false)
	observability.RecordError("stt_stream_error", "deepgram")

	select {
	case <-d.ctx.Done():
		return nil
	default:
	}

	d.mu.Lock()
	d.isActive = false
	wanted := d.wanted
	d.mu.Unlock()

	if wanted {
		go d.attemptReconnect()
	}
	return nil
}

// handleDeepgramMessage turns Deepgram messages into TranscriptionResults
func (d *DeepgramClient) handleDeepgramMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil {
		return
	}

	switch msg.Type {
	case "Metadata":
		d.logger.Debug().Interface("metadata", msg.Metadata).Msg("Deepgram metadata")

	case "SpeechStarted":
		d.logger.Debug().Msg("Deepgram: speech started")

	case "UtteranceEnd":
		d.publish(&TranscriptionResult{UtteranceEnd: true})

	case "Results", "Message":
		if len(msg.Channel.Alternatives) == 0 {
			return
		}
		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return
		}

		startTime := msg.Start
		duration := msg.Duration
		if len(alt.Words) > 0 && duration == 0 {
			startTime = alt.Words[0].Start
			duration = alt.Words[len(alt.Words)-1].End - startTime
		}

		d.publish(&TranscriptionResult{
			Text:       alt.Transcript,
			IsFinal:    msg.IsFinal,
			Confidence: alt.Confidence,
			StartTime:  startTime,
			Duration:   duration,
		})

	default:
		d.logger.Debug().Str("type", msg.Type).Msg("Deepgram: unhandled message type")
	}
}

func (d *DeepgramClient) publish(result *TranscriptionResult) {
	select {
	case d.transcript <- result:
		if result.IsFinal {
			d.logger.Debug().
				Str("text", result.Text).
				Float64("confidence", result.Confidence).
				Msg("Deepgram final transcription")
		}
	default:
		d.logger.Warn().Msg("Transcript channel full, dropping transcription")
	}
}

// SendAudio sends an audio chunk to Deepgram
func (d *DeepgramClient) SendAudio(audioData []byte) error {
	return d.circuitBreaker.Call(func() error {
		d.mu.RLock()
		active := d.isActive
		client := d.client
		d.mu.RUnlock()

		if !active || client == nil {
			return fmt.Errorf("deepgram client is not active")
		}

		if _, err := client.Write(audioData); err != nil {
			go d.attemptReconnect()
			return fmt.Errorf("failed to send audio to Deepgram: %w", err)
		}
		observability.RecordAudioBytes("in", int64(len(audioData)))
		return nil
	})
}

// attemptReconnect reopens the session while the caller still wants it
func (d *DeepgramClient) attemptReconnect() {
	d.mu.RLock()
	skip := d.isActive || !d.wanted
	d.mu.RUnlock()
	if skip {
		return
	}

	err := resilience.Reconnect(d.ctx, "deepgram", func(ctx context.Context) error {
		d.mu.RLock()
		wanted := d.wanted
		d.mu.RUnlock()
		if !wanted {
			return nil
		}
		return d.Start()
	}, &resilience.ReconnectConfig{
		MaxAttempts: d.config.ReconnectMaxAttempts,
		Backoff:     d.config.ReconnectDelay(),
		Multiplier:  2.0,
		MaxBackoff:  d.config.ListenMaxDuration(),
	})
	if err != nil {
		d.logger.Error().Err(err).Msg("Failed to reconnect Deepgram client")
	}
}

// GetTranscription returns a channel that receives transcription results
func (d *DeepgramClient) GetTranscription() <-chan *TranscriptionResult {
	return d.transcript
}

// Stop finishes the current Deepgram session
func (d *DeepgramClient) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.wanted = false
	if !d.isActive {
		return nil
	}

	d.client.Finish()
	d.isActive = false
	d.logger.Debug().Msg("Deepgram streaming session stopped")
	return nil
}

// Close stops any session and prevents reconnection
func (d *DeepgramClient) Close() error {
	d.cancel()
	return d.Stop()
}

// Healthy reports whether the client is configured and its circuit is not open
func (d *DeepgramClient) Healthy(ctx context.Context) (bool, error) {
	if !d.Configured() {
		return false, ErrNotConfigured
	}
	if !d.circuitBreaker.Allows() {
		return false, resilience.ErrCircuitOpen
	}
	return true, nil
}

// IsActive returns whether a session is currently open
func (d *DeepgramClient) IsActive() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isActive
}
