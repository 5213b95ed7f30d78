package pipeline

import (
	"fmt"
	"time"
)

// Phase is the step of the scene-description cycle the controller is in
type Phase int

const (
	Idle Phase = iota
	Listening
	Interpreting
	Capturing
	Detecting
	Composing
	Speaking
	Failed
)

var phaseNames = [...]string{
	Idle:         "idle",
	Listening:    "listening",
	Interpreting: "interpreting",
	Capturing:    "capturing",
	Detecting:    "detecting",
	Composing:    "composing",
	Speaking:     "speaking",
	Failed:       "failed",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Failure reasons carried by the Failed state
const (
	ReasonCameraUnavailable  = "camera_unavailable"
	ReasonCaptureOrDetection = "capture_or_detection"
)

// State is the controller's current phase. Reason holds the failure kind
// while Failed and the sentence being spoken while Speaking.
type State struct {
	Phase  Phase
	Reason string
}

func (s State) String() string {
	if s.Reason == "" {
		return s.Phase.String()
	}
	return fmt.Sprintf("%s(%s)", s.Phase, s.Reason)
}

// IsIdle reports whether no cycle is in flight
func (s State) IsIdle() bool {
	return s.Phase == Idle
}

// Transition is one element of the observable state stream. A transition
// with Partial set carries interim recognized text and does not change phase.
type Transition struct {
	Token   uint64
	From    State
	To      State
	Partial string
	At      time.Time
}

// Trigger is an external request to the controller
type Trigger string

const (
	TriggerSpeak  Trigger = "speak"
	TriggerScan   Trigger = "scan"
	TriggerStop   Trigger = "stop"
	TriggerCancel Trigger = "cancel"
)

// ParseTrigger maps a trigger name to a Trigger
func ParseTrigger(name string) (Trigger, bool) {
	switch t := Trigger(name); t {
	case TriggerSpeak, TriggerScan, TriggerStop, TriggerCancel:
		return t, true
	default:
		return "", false
	}
}
