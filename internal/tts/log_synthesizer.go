package tts

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/lexiqai/scene-assistant/internal/observability"
	"github.com/lexiqai/scene-assistant/internal/pipeline"
)

var _ pipeline.Synthesizer = (*LogSynthesizer)(nil)

// LogSynthesizer is the fallback when no TTS credentials are configured.
// Sentences are logged and sent to front ends as text, and Speak returns
// immediately.
type LogSynthesizer struct {
	sink   AudioSink
	logger zerolog.Logger
}

// NewLogSynthesizer creates a text-only synthesizer. sink may be nil.
func NewLogSynthesizer(sink AudioSink) *LogSynthesizer {
	return &LogSynthesizer{
		sink:   sink,
		logger: observability.ComponentLogger("tts"),
	}
}

func (s *LogSynthesizer) Speak(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.Info().Str("text", text).Msg("Speak")
	if s.sink != nil {
		s.sink.SendSpeech(text)
	}
	return nil
}

func (s *LogSynthesizer) Stop() error {
	return nil
}
