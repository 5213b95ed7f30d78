// Package frontend bridges browser or device front ends to the pipeline
// over WebSocket. The Hub is the assistant's microphone source and audio
// sink and mirrors every state transition to connected clients.
package frontend

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lexiqai/scene-assistant/internal/audio"
	"github.com/lexiqai/scene-assistant/internal/observability"
	"github.com/lexiqai/scene-assistant/internal/pipeline"
	"github.com/lexiqai/scene-assistant/internal/stt"
	"github.com/lexiqai/scene-assistant/internal/tts"
)

const micBuffer = 100

var (
	_ stt.MicSource = (*Hub)(nil)
	_ tts.AudioSink = (*Hub)(nil)
)

// TriggerSink accepts pipeline triggers, normally the controller
type TriggerSink interface {
	Trigger(t pipeline.Trigger) error
}

// Hub tracks connected front ends
type Hub struct {
	triggers TriggerSink
	logger   zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
	micSubs map[chan []byte]struct{}
}

// NewHub creates a hub that forwards triggers to triggers
func NewHub(triggers TriggerSink) *Hub {
	return &Hub{
		triggers: triggers,
		logger:   observability.ComponentLogger("frontend"),
		clients:  make(map[string]*Client),
		micSubs:  make(map[chan []byte]struct{}),
	}
}

// SetTriggerSink replaces the trigger destination
func (h *Hub) SetTriggerSink(triggers TriggerSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.triggers = triggers
}

func (h *Hub) trigger(t pipeline.Trigger) error {
	h.mu.RLock()
	sink := h.triggers
	h.mu.RUnlock()

	if sink == nil {
		return pipeline.ErrNotRunning
	}
	return sink.Trigger(t)
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()

	observability.SetFrontendClients(n)
	h.logger.Info().Str("client_id", c.id).Int("clients", n).Msg("Front end connected")
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	n := len(h.clients)
	h.mu.Unlock()

	observability.SetFrontendClients(n)
	h.logger.Info().Str("client_id", c.id).Int("clients", n).Msg("Front end disconnected")
}

func (h *Hub) snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

func (h *Hub) broadcast(msg interface{}) {
	for _, c := range h.snapshot() {
		c.enqueue(msg)
	}
}

// Clients returns the number of connected front ends
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// MicrophoneConnected reports whether any front end streams microphone audio
func (h *Hub) MicrophoneConnected() bool {
	for _, c := range h.snapshot() {
		if c.hasMic() {
			return true
		}
	}
	return false
}

// Microphone streams linear16 16 kHz audio from every front end until ctx
// is done. A slow reader misses chunks.
func (h *Hub) Microphone(ctx context.Context) <-chan []byte {
	ch := make(chan []byte, micBuffer)

	h.mu.Lock()
	h.micSubs[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.micSubs, ch)
		h.mu.Unlock()
		close(ch)
	}()
	return ch
}

func (h *Hub) publishMic(pcm []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.micSubs {
		select {
		case ch <- pcm:
		default:
			observability.RecordError("mic_overflow", "frontend")
		}
	}
}

// PlayAudio sends synthesized speech to every front end in its own format.
// A client whose format cannot be produced is skipped; an error is returned
// only when no client could be served.
func (h *Hub) PlayAudio(chunk *tts.AudioChunk) error {
	clients := h.snapshot()
	var lastErr error
	failed := 0

	for _, c := range clients {
		f := c.audioFormat()
		data, err := audio.Transcode(chunk.Data, chunk.SampleRate, f)
		if err != nil {
			c.logger.Warn().Err(err).Str("encoding", string(f.Encoding)).Msg("Failed to convert speech audio")
			observability.RecordError("transcode_error", "frontend")
			lastErr = err
			failed++
			continue
		}
		c.enqueue(MediaMessage{
			Event: EventMedia,
			Media: Media{
				Payload:    base64.StdEncoding.EncodeToString(data),
				Encoding:   string(f.Encoding),
				SampleRate: f.SampleRate,
			},
		})
	}

	if failed > 0 && failed == len(clients) {
		return fmt.Errorf("failed to convert speech audio for %d front ends: %w", failed, lastErr)
	}
	return nil
}

// ClearAudio tells front ends to drop queued playback
func (h *Hub) ClearAudio() {
	h.broadcast(ControlMessage{Event: EventClear})
}

// SendSpeech shares a spoken sentence as text
func (h *Hub) SendSpeech(text string) {
	h.broadcast(SpeechMessage{Event: EventSpeech, Text: text})
}

// Forward mirrors transitions to front ends until the stream closes or
// ctx is done
func (h *Hub) Forward(ctx context.Context, transitions <-chan pipeline.Transition) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-transitions:
			if !ok {
				return
			}
			h.broadcast(stateMessage(t))
		}
	}
}

func stateMessage(t pipeline.Transition) StateMessage {
	return StateMessage{
		Event:   EventState,
		Token:   t.Token,
		Phase:   t.To.Phase.String(),
		Reason:  t.To.Reason,
		Partial: t.Partial,
		At:      t.At,
	}
}

// Close disconnects every front end
func (h *Hub) Close() {
	for _, c := range h.snapshot() {
		c.close()
	}
}
