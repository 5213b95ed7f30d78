package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/scene-assistant/internal/command"
	"github.com/lexiqai/scene-assistant/internal/observability"
	"github.com/lexiqai/scene-assistant/internal/scene"
)

// ErrNotRunning is returned for triggers sent after Run has returned
var ErrNotRunning = errors.New("pipeline controller is not running")

// Options tunes the controller's timeouts and command matching
type Options struct {
	ListenMaxDuration time.Duration
	TrailingSilence   time.Duration
	CaptureTimeout    time.Duration
	DetectTimeout     time.Duration
	SpeakTimeout      time.Duration
	Interpreter       *command.Interpreter
}

// DefaultOptions returns the stock listening window and stage timeouts
func DefaultOptions() Options {
	return Options{
		ListenMaxDuration: 5 * time.Second,
		TrailingSilence:   2 * time.Second,
		CaptureTimeout:    3 * time.Second,
		DetectTimeout:     10 * time.Second,
		SpeakTimeout:      30 * time.Second,
	}
}

const listenGrace = 250 * time.Millisecond

// cycle outcomes, used as the metrics label
const (
	outcomeDescribed         = "described"
	outcomeNothingSeen       = "nothing_seen"
	outcomeUnrecognized      = "unrecognized"
	outcomeSpeechUnavailable = "speech_unavailable"
	outcomeCameraUnavailable = "camera_unavailable"
	outcomeFailed            = "failed"
	outcomeNoCommand         = "no_command"
	outcomeStopped           = "stopped"
	outcomeCancelled         = "cancelled"
	outcomeShutdown          = "shutdown"
)

type eventKind int

const (
	evUtterance eventKind = iota
	evListenDone
	evCaptured
	evDetected
	evSpoken
)

func (k eventKind) String() string {
	switch k {
	case evUtterance:
		return "utterance"
	case evListenDone:
		return "listen_done"
	case evCaptured:
		return "capture"
	case evDetected:
		return "detection"
	case evSpoken:
		return "speech"
	default:
		return "unknown"
	}
}

// event is a capability completion, tagged with the token it was issued under
type event struct {
	token     uint64
	kind      eventKind
	utterance Utterance
	image     []byte
	result    scene.DetectionResult
	err       error
}

// cycle is the in-flight trigger-to-idle run; owned by the Run goroutine
type cycle struct {
	token      uint64
	trigger    Trigger
	ctx        context.Context
	cancel     context.CancelFunc
	stopListen context.CancelFunc
	outcome    string
	metrics    *observability.CycleMetrics
	logger     zerolog.Logger
}

// Controller is the scene-description state machine. All state changes
// happen on the goroutine running Run; the exported trigger methods only
// enqueue requests.
type Controller struct {
	recognizer  Recognizer
	synthesizer Synthesizer
	camera      Camera
	detector    Detector
	opts        Options
	logger      zerolog.Logger

	triggers chan Trigger
	events   chan event
	done     chan struct{}
	runOnce  sync.Once

	mu    sync.RWMutex
	state State
	token uint64

	broadcaster *broadcaster
	current     *cycle
}

// NewController wires the four capabilities into a controller
func NewController(recognizer Recognizer, synthesizer Synthesizer, camera Camera, detector Detector, opts Options) *Controller {
	defaults := DefaultOptions()
	if opts.ListenMaxDuration <= 0 {
		opts.ListenMaxDuration = defaults.ListenMaxDuration
	}
	if opts.TrailingSilence <= 0 {
		opts.TrailingSilence = defaults.TrailingSilence
	}
	if opts.CaptureTimeout <= 0 {
		opts.CaptureTimeout = defaults.CaptureTimeout
	}
	if opts.DetectTimeout <= 0 {
		opts.DetectTimeout = defaults.DetectTimeout
	}
	if opts.SpeakTimeout <= 0 {
		opts.SpeakTimeout = defaults.SpeakTimeout
	}
	if opts.Interpreter == nil {
		opts.Interpreter = command.NewInterpreter()
	}

	return &Controller{
		recognizer:  recognizer,
		synthesizer: synthesizer,
		camera:      camera,
		detector:    detector,
		opts:        opts,
		logger:      observability.ComponentLogger("pipeline"),
		triggers:    make(chan Trigger, 16),
		events:      make(chan event, 16),
		done:        make(chan struct{}),
		broadcaster: newBroadcaster(),
	}
}

// Run processes triggers and capability completions until ctx is done.
// The camera and detector are closed when Run returns.
func (c *Controller) Run(ctx context.Context) error {
	first := false
	c.runOnce.Do(func() { first = true })
	if !first {
		return errors.New("pipeline controller already ran")
	}

	defer c.release()

	c.logger.Info().Msg("Pipeline controller started")

	for {
		select {
		case <-ctx.Done():
			if c.current != nil {
				c.abort(outcomeShutdown)
			}
			c.logger.Info().Msg("Pipeline controller stopped")
			return nil

		case t := <-c.triggers:
			c.handleTrigger(ctx, t)

		case ev := <-c.events:
			c.handleEvent(ev)
		}
	}
}

func (c *Controller) release() {
	close(c.done)
	c.broadcaster.shutdown()

	if err := c.camera.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to close camera")
	}
	if err := c.detector.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to close detector")
	}
}

// Speak requests a voice command (or ends the current listening session)
func (c *Controller) Speak() error { return c.Trigger(TriggerSpeak) }

// Scan requests an immediate scene description
func (c *Controller) Scan() error { return c.Trigger(TriggerScan) }

// Stop ends a listening session
func (c *Controller) Stop() error { return c.Trigger(TriggerStop) }

// Cancel aborts whatever cycle is in flight
func (c *Controller) Cancel() error { return c.Trigger(TriggerCancel) }

// Trigger enqueues t for the Run loop
func (c *Controller) Trigger(t Trigger) error {
	select {
	case <-c.done:
		return ErrNotRunning
	default:
	}

	select {
	case c.triggers <- t:
		return nil
	case <-c.done:
		return ErrNotRunning
	}
}

// State returns a snapshot of the current state
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Token returns the current session token
func (c *Controller) Token() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Subscribe returns a fresh transition stream. Its first element is the
// current state (From == To); it is closed when ctx is done or Run returns.
func (c *Controller) Subscribe(ctx context.Context) <-chan Transition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := Transition{Token: c.token, From: c.state, To: c.state, At: time.Now()}
	return c.broadcaster.subscribe(ctx, snapshot)
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	from := c.state
	c.state = s
	t := Transition{Token: c.token, From: from, To: s, At: time.Now()}
	c.broadcaster.publish(t)
	c.mu.Unlock()

	observability.RecordTransition(s.Phase.String())
	c.cycleLogger().Debug().Str("from", from.String()).Str("to", s.String()).Msg("State transition")
}

func (c *Controller) publishPartial(text string) {
	c.mu.RLock()
	t := Transition{Token: c.token, From: c.state, To: c.state, Partial: text, At: time.Now()}
	c.broadcaster.publish(t)
	c.mu.RUnlock()
}

func (c *Controller) bumpToken() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token++
	return c.token
}

func (c *Controller) cycleLogger() *zerolog.Logger {
	if c.current != nil {
		return &c.current.logger
	}
	return &c.logger
}

// post delivers a capability completion unless Run has returned
func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Controller) handleTrigger(ctx context.Context, t Trigger) {
	phase := c.State().Phase

	switch {
	case t == TriggerCancel:
		if c.current != nil {
			c.abort(outcomeCancelled)
		}
		return

	case phase == Listening && (t == TriggerStop || t == TriggerSpeak):
		c.current.logger.Info().Str("trigger", string(t)).Msg("Listening stopped by user")
		c.endListening(outcomeStopped)
		return

	case phase == Idle && t == TriggerSpeak:
		c.beginCycle(ctx, t)
		c.startListening()
		return

	case phase == Idle && t == TriggerScan:
		c.beginCycle(ctx, t)
		c.startCapture()
		return
	}

	observability.RecordIgnoredTrigger(string(t))
	c.logger.Debug().Str("trigger", string(t)).Str("state", phase.String()).Msg("Trigger ignored")
}

func (c *Controller) beginCycle(parent context.Context, t Trigger) {
	token := c.bumpToken()
	ctx, cancel := context.WithCancel(parent)
	correlationID := observability.NewCorrelationID()

	c.current = &cycle{
		token:   token,
		trigger: t,
		ctx:     ctx,
		cancel:  cancel,
		metrics: observability.NewCycleMetrics(string(t)),
		logger: observability.WithCorrelationID(correlationID).With().
			Str("component", "pipeline").
			Uint64("token", token).
			Str("trigger", string(t)).
			Logger(),
	}
	c.current.logger.Info().Msg("Cycle started")
}

// finishCycle ends the current cycle and returns to Idle
func (c *Controller) finishCycle(outcome string) {
	cy := c.current
	if cy == nil {
		return
	}
	if cy.stopListen != nil {
		cy.stopListen()
	}
	cy.cancel()
	cy.metrics.Finish(outcome)

	c.setState(State{Phase: Idle})
	cy.logger.Info().Str("outcome", outcome).Msg("Cycle finished")
	c.current = nil
}

// abort tears down the current cycle from any phase. The token is bumped
// so completions still in flight are recognized as stale.
func (c *Controller) abort(outcome string) {
	switch c.State().Phase {
	case Listening:
		if err := c.recognizer.Stop(); err != nil {
			c.current.logger.Warn().Err(err).Msg("Failed to stop recognizer")
		}
	case Speaking:
		if err := c.synthesizer.Stop(); err != nil {
			c.current.logger.Warn().Err(err).Msg("Failed to stop synthesizer")
		}
	}
	c.bumpToken()
	c.finishCycle(outcome)
}

func (c *Controller) handleEvent(ev event) {
	if c.current == nil || ev.token != c.current.token {
		observability.RecordStaleResponse(ev.kind.String())
		c.logger.Debug().
			Uint64("token", ev.token).
			Str("kind", ev.kind.String()).
			Msg("Discarding stale capability response")
		return
	}

	phase := c.State().Phase
	switch {
	case ev.kind == evUtterance && phase == Listening:
		c.onUtterance(ev.utterance)
	case ev.kind == evListenDone && phase == Listening:
		c.onListenDone(ev.err)
	case ev.kind == evCaptured && phase == Capturing:
		c.onCaptured(ev.image, ev.err)
	case ev.kind == evDetected && phase == Detecting:
		c.onDetected(ev.result, ev.err)
	case ev.kind == evSpoken && phase == Speaking:
		c.onSpoken(ev.err)
	default:
		// e.g. the listen stream closing after a final utterance was taken
		c.current.logger.Debug().
			Str("kind", ev.kind.String()).
			Str("state", phase.String()).
			Msg("Ignoring out-of-phase capability response")
	}
}

// Listening

func (c *Controller) startListening() {
	cy := c.current
	if !c.recognizer.Available() {
		cy.logger.Warn().Msg("Speech recognizer not available")
		observability.RecordError("recognizer_unavailable", "pipeline")
		c.speak(MsgSpeechUnavailable, outcomeSpeechUnavailable)
		return
	}

	c.setState(State{Phase: Listening})
	cy.metrics.StageStart("listen")

	// The recognizer enforces the listen window itself and may deliver a
	// final utterance right at the deadline.
	listenCtx, stop := context.WithTimeout(cy.ctx, c.opts.ListenMaxDuration+listenGrace)
	cy.stopListen = stop
	token := cy.token

	go func() {
		defer stop()

		stream, err := c.recognizer.Start(listenCtx, c.opts.ListenMaxDuration, c.opts.TrailingSilence)
		if err != nil {
			c.post(event{token: token, kind: evListenDone, err: fmt.Errorf("failed to start recognizer: %w", err)})
			return
		}

		for {
			select {
			case u, ok := <-stream:
				if !ok {
					c.post(event{token: token, kind: evListenDone})
					return
				}
				c.post(event{token: token, kind: evUtterance, utterance: u})
				if u.IsFinal {
					return
				}
			case <-listenCtx.Done():
				c.post(event{token: token, kind: evListenDone, err: listenCtx.Err()})
				return
			}
		}
	}()
}

func (c *Controller) endListening(outcome string) {
	c.current.metrics.StageEnd("listen")
	if c.current.stopListen != nil {
		c.current.stopListen()
	}
	if err := c.recognizer.Stop(); err != nil {
		c.current.logger.Warn().Err(err).Msg("Failed to stop recognizer")
	}
	c.finishCycle(outcome)
}

func (c *Controller) onUtterance(u Utterance) {
	if !u.IsFinal {
		c.publishPartial(u.Text)
		return
	}

	cy := c.current
	cy.metrics.StageEnd("listen")
	cy.stopListen()
	if err := c.recognizer.Stop(); err != nil {
		cy.logger.Warn().Err(err).Msg("Failed to stop recognizer")
	}

	cy.logger.Info().Str("text", u.Text).Msg("Final utterance received")
	c.setState(State{Phase: Interpreting})

	intent := c.opts.Interpreter.Interpret(u.Text)
	cy.logger.Debug().Str("intent", intent.String()).Msg("Command interpreted")

	if intent != command.DescribeScene {
		c.speak(MsgUsageHint, outcomeUnrecognized)
		return
	}
	c.startCapture()
}

func (c *Controller) onListenDone(err error) {
	cy := c.current
	switch {
	case err == nil || errors.Is(err, context.DeadlineExceeded):
		cy.logger.Info().Msg("Listening ended without a command")
		c.endListening(outcomeNoCommand)
	case errors.Is(err, context.Canceled):
		c.endListening(outcomeStopped)
	default:
		cy.logger.Error().Err(err).Msg("Speech recognition failed")
		observability.RecordError("recognition_failed", "pipeline")
		cy.metrics.StageEnd("listen")
		c.speak(MsgSpeechUnavailable, outcomeSpeechUnavailable)
	}
}

// Capturing and detecting

func (c *Controller) startCapture() {
	cy := c.current
	c.setState(State{Phase: Capturing})
	cy.metrics.StageStart("capture")

	token, ctx := cy.token, cy.ctx
	go func() {
		captureCtx, cancel := context.WithTimeout(ctx, c.opts.CaptureTimeout)
		defer cancel()

		if !c.camera.Ready(captureCtx) {
			c.post(event{token: token, kind: evCaptured, err: ErrCameraNotReady})
			return
		}
		image, err := c.camera.Capture(captureCtx)
		c.post(event{token: token, kind: evCaptured, image: image, err: err})
	}()
}

func (c *Controller) onCaptured(image []byte, err error) {
	cy := c.current
	cy.metrics.StageEnd("capture")

	switch {
	case errors.Is(err, ErrCameraNotReady):
		cy.logger.Warn().Msg("Camera not ready")
		c.fail(ReasonCameraUnavailable, MsgCameraNotReady, outcomeCameraUnavailable)
		return
	case err != nil:
		cy.logger.Error().Err(err).Msg("Image capture failed")
		c.fail(ReasonCaptureOrDetection, MsgSeeingTrouble, outcomeFailed)
		return
	case len(image) == 0:
		cy.logger.Error().Msg("Camera returned an empty image")
		c.fail(ReasonCaptureOrDetection, MsgSeeingTrouble, outcomeFailed)
		return
	}

	c.setState(State{Phase: Detecting})
	cy.metrics.StageStart("detect")

	token, ctx := cy.token, cy.ctx
	go func() {
		detectCtx, cancel := context.WithTimeout(ctx, c.opts.DetectTimeout)
		defer cancel()

		result, err := c.detector.Detect(detectCtx, image)
		c.post(event{token: token, kind: evDetected, result: result, err: err})
	}()
}

func (c *Controller) onDetected(result scene.DetectionResult, err error) {
	cy := c.current
	cy.metrics.StageEnd("detect")

	if err != nil {
		cy.logger.Error().Err(err).Msg("Object detection failed")
		c.fail(ReasonCaptureOrDetection, MsgSeeingTrouble, outcomeFailed)
		return
	}

	c.setState(State{Phase: Composing})
	observability.RecordObjectsDetected(len(result.Objects))

	counts := scene.Aggregate(result)
	if len(counts) == 0 {
		c.speak(MsgNothingSeen, outcomeNothingSeen)
		return
	}

	sentence := scene.Compose(counts)
	cy.logger.Info().
		Int("objects", scene.Total(counts)).
		Str("sentence", sentence).
		Msg("Scene described")
	c.speak(sentence, outcomeDescribed)
}

func (c *Controller) fail(reason, message, outcome string) {
	observability.RecordError(reason, "pipeline")
	c.setState(State{Phase: Failed, Reason: reason})
	c.speak(message, outcome)
}

// Speaking

func (c *Controller) speak(text, outcome string) {
	cy := c.current
	cy.outcome = outcome

	// Stop runs on the Run goroutine so it can never land after a later
	// cycle has started speaking
	if err := c.synthesizer.Stop(); err != nil {
		cy.logger.Warn().Err(err).Msg("Failed to stop synthesizer")
	}
	c.setState(State{Phase: Speaking, Reason: text})
	cy.metrics.StageStart("speak")

	token, ctx := cy.token, cy.ctx
	go func() {
		speakCtx, cancel := context.WithTimeout(ctx, c.opts.SpeakTimeout)
		defer cancel()

		if err := speakCtx.Err(); err != nil {
			c.post(event{token: token, kind: evSpoken, err: err})
			return
		}
		err := c.synthesizer.Speak(speakCtx, text)
		c.post(event{token: token, kind: evSpoken, err: err})
	}()
}

func (c *Controller) onSpoken(err error) {
	cy := c.current
	cy.metrics.StageEnd("speak")

	if err != nil {
		cy.logger.Warn().Err(err).Msg("Speech synthesis failed")
		observability.RecordError("speak_failed", "pipeline")
	}
	c.finishCycle(cy.outcome)
}
