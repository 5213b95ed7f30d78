package audio

import "time"

// DefaultFrameDuration is the analysis window used by the VAD
const DefaultFrameDuration = 20 * time.Millisecond

// VADConfig holds configuration for Voice Activity Detection
type VADConfig struct {
	EnergyThreshold float64 // RMS energy threshold for speech detection
	SilenceFrames   int     // Consecutive silent frames that end an utterance
	FrameSize       int     // Samples per frame
}

// DefaultVADConfig returns a 16 kHz configuration with a 2s trailing silence
func DefaultVADConfig() *VADConfig {
	return NewVADConfig(SampleRate16k, 500.0, 2*time.Second)
}

// NewVADConfig derives frame size and silence frame count from the sample
// rate and the trailing silence that should end an utterance
func NewVADConfig(sampleRate int, threshold float64, trailingSilence time.Duration) *VADConfig {
	frameSize := sampleRate * int(DefaultFrameDuration/time.Millisecond) / 1000
	silenceFrames := int(trailingSilence / DefaultFrameDuration)
	if silenceFrames < 1 {
		silenceFrames = 1
	}
	return &VADConfig{
		EnergyThreshold: threshold,
		SilenceFrames:   silenceFrames,
		FrameSize:       frameSize,
	}
}

// FrameBytes is the size of one linear16 frame in bytes
func (c *VADConfig) FrameBytes() int {
	return c.FrameSize * 2
}

// VADEvent is the detector's verdict for one frame
type VADEvent struct {
	Speaking      bool
	SpeechStarted bool
	SpeechEnded   bool // trailing silence elapsed after speech
}

// VADDetector performs energy-based Voice Activity Detection
type VADDetector struct {
	config         *VADConfig
	silenceCounter int
	isSpeaking     bool
	heardSpeech    bool
}

// NewVADDetector creates a new VAD detector
func NewVADDetector(config *VADConfig) *VADDetector {
	if config == nil {
		config = DefaultVADConfig()
	}
	return &VADDetector{config: config}
}

// Config returns the detector configuration
func (v *VADDetector) Config() *VADConfig {
	return v.config
}

// ProcessFrame classifies one frame of samples
func (v *VADDetector) ProcessFrame(samples []int16) VADEvent {
	var ev VADEvent

	if CalculateRMS(samples) > v.config.EnergyThreshold {
		v.silenceCounter = 0
		v.heardSpeech = true
		if !v.isSpeaking {
			ev.SpeechStarted = true
			v.isSpeaking = true
		}
	} else {
		v.silenceCounter++
		if v.isSpeaking && v.silenceCounter >= v.config.SilenceFrames {
			ev.SpeechEnded = true
			v.isSpeaking = false
			v.silenceCounter = 0
		}
	}

	ev.Speaking = v.isSpeaking
	return ev
}

// Reset clears all detector state
func (v *VADDetector) Reset() {
	v.silenceCounter = 0
	v.isSpeaking = false
	v.heardSpeech = false
}

// HeardSpeech reports whether any frame since the last Reset was speech
func (v *VADDetector) HeardSpeech() bool {
	return v.heardSpeech
}
