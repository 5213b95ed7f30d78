package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/scene-assistant/internal/audio"
	"github.com/lexiqai/scene-assistant/internal/observability"
	"github.com/lexiqai/scene-assistant/internal/pipeline"
)

var _ pipeline.Recognizer = (*Recognizer)(nil)

// Recognizer turns microphone audio into utterances using a streaming
// transcription client. The local VAD ends a session after trailing silence
// when some text has been recognized.
type Recognizer struct {
	client          StreamingClient
	mic             MicSource
	energyThreshold float64
	logger          zerolog.Logger

	mu      sync.Mutex
	session *session
}

type session struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRecognizer creates a recognizer reading from mic
func NewRecognizer(client StreamingClient, mic MicSource, energyThreshold float64) *Recognizer {
	return &Recognizer{
		client:          client,
		mic:             mic,
		energyThreshold: energyThreshold,
		logger:          observability.ComponentLogger("recognizer"),
	}
}

// Available reports whether the client is configured and a microphone is attached
func (r *Recognizer) Available() bool {
	if r.client == nil || r.mic == nil {
		return false
	}
	return r.client.Configured() && r.mic.MicrophoneConnected()
}

// Start opens a listening session. Any session still open is stopped first.
func (r *Recognizer) Start(ctx context.Context, maxDuration, trailingSilence time.Duration) (<-chan pipeline.Utterance, error) {
	if err := r.Stop(); err != nil {
		return nil, err
	}

	r.drainStale()
	if err := r.client.Start(); err != nil {
		return nil, fmt.Errorf("failed to open transcription session: %w", err)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	s := &session{cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	r.session = s
	r.mu.Unlock()

	out := make(chan pipeline.Utterance, 16)
	mic := r.mic.Microphone(sessCtx)
	vad := audio.NewVADDetector(audio.NewVADConfig(audio.SampleRate16k, r.energyThreshold, trailingSilence))

	go r.run(sessCtx, s, mic, vad, maxDuration, out)
	return out, nil
}

// Stop ends the current session and waits for it to wind down
func (r *Recognizer) Stop() error {
	r.mu.Lock()
	s := r.session
	r.session = nil
	r.mu.Unlock()

	if s == nil {
		return nil
	}
	s.cancel()
	<-s.done
	return nil
}

// drainStale discards results left over from a previous session
func (r *Recognizer) drainStale() {
	results := r.client.GetTranscription()
	for {
		select {
		case <-results:
		default:
			return
		}
	}
}

func (r *Recognizer) run(ctx context.Context, s *session, mic <-chan []byte, vad *audio.VADDetector, maxDuration time.Duration, out chan<- pipeline.Utterance) {
	defer close(s.done)
	defer close(out)
	defer func() {
		if err := r.client.Stop(); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to stop transcription session")
		}
	}()
	defer s.cancel()

	maxTimer := time.NewTimer(maxDuration)
	defer maxTimer.Stop()

	frames := audio.NewRingBuffer(vad.Config().FrameBytes() * 50)
	frame := make([]byte, vad.Config().FrameBytes())
	results := r.client.GetTranscription()

	var finals []string
	var interim string

	text := func() string {
		parts := append(append([]string(nil), finals...), interim)
		return strings.TrimSpace(strings.Join(parts, " "))
	}
	send := func(u pipeline.Utterance) bool {
		select {
		case out <- u:
			return true
		case <-ctx.Done():
			return false
		}
	}
	finish := func(why string) {
		t := text()
		if t == "" {
			r.logger.Debug().
				Str("reason", why).
				Bool("heard_speech", vad.HeardSpeech()).
				Msg("Listening ended without a transcript")
			return
		}
		r.logger.Debug().Str("reason", why).Str("text", t).Msg("Final utterance")
		send(pipeline.Utterance{Text: t, IsFinal: true})
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-maxTimer.C:
			finish("max_duration")
			return

		case chunk, ok := <-mic:
			if !ok {
				finish("microphone_closed")
				return
			}
			if err := r.client.SendAudio(chunk); err != nil {
				r.logger.Debug().Err(err).Msg("Failed to forward audio")
			}

			frames.Write(chunk)
			for frames.ReadFull(frame) {
				samples, err := audio.BytesToSamples(frame)
				if err != nil {
					continue
				}
				if vad.ProcessFrame(samples).SpeechEnded && text() != "" {
					finish("trailing_silence")
					return
				}
			}

		case res, ok := <-results:
			if !ok {
				finish("transcription_closed")
				return
			}
			if res.UtteranceEnd {
				if text() != "" {
					finish("utterance_end")
					return
				}
				continue
			}
			if res.Text == "" {
				continue
			}
			if res.IsFinal {
				finals = append(finals, res.Text)
				interim = ""
			} else {
				interim = res.Text
			}
			if !send(pipeline.Utterance{Text: text(), IsFinal: false}) {
				return
			}
		}
	}
}
