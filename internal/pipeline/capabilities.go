package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/lexiqai/scene-assistant/internal/scene"
)

// ErrCameraNotReady is reported when the camera cannot take a picture
var ErrCameraNotReady = errors.New("camera not ready")

// Utterance is recognized speech. Partial utterances may be revised;
// a final one closes the listening session.
type Utterance struct {
	Text    string
	IsFinal bool
}

// Recognizer turns microphone audio into utterances
type Recognizer interface {
	// Available reports whether speech recognition can be used right now
	Available() bool
	// Start opens a listening session. The returned channel yields partial
	// utterances followed by at most one final utterance and is closed when
	// the session ends (final result, silence, maxDuration, ctx or Stop).
	Start(ctx context.Context, maxDuration, trailingSilence time.Duration) (<-chan Utterance, error)
	// Stop ends the current session, if any
	Stop() error
}

// Synthesizer speaks text aloud
type Synthesizer interface {
	// Speak returns once the text has been spoken, or immediately for
	// fire-and-forget engines
	Speak(ctx context.Context, text string) error
	// Stop interrupts any ongoing speech
	Stop() error
}

// Camera captures still images
type Camera interface {
	Ready(ctx context.Context) bool
	Capture(ctx context.Context) ([]byte, error)
	Close() error
}

// Detector runs object detection over one image
type Detector interface {
	Detect(ctx context.Context, image []byte) (scene.DetectionResult, error)
	Close() error
}
