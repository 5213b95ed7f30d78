package frontend

import "time"

// Inbound event names
const (
	EventConnected = "connected"
	EventTrigger   = "trigger"
	EventMedia     = "media"
	EventStop      = "stop"
)

// Outbound event names
const (
	EventState  = "state"
	EventSpeech = "speech"
	EventClear  = "clear"
	EventError  = "error"
)

// ClientMessage is any message a front end sends over the WebSocket
type ClientMessage struct {
	Event    string `json:"event"`
	Encoding string `json:"encoding,omitempty"` // connected: mic and speaker encoding
	Name     string `json:"name,omitempty"`     // trigger: speak, scan, stop or cancel
	Media    *Media `json:"media,omitempty"`
}

// Media carries base64 encoded audio
type Media struct {
	Payload    string `json:"payload"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
}

// StateMessage mirrors one pipeline transition
type StateMessage struct {
	Event   string    `json:"event"`
	Token   uint64    `json:"token"`
	Phase   string    `json:"phase"`
	Reason  string    `json:"reason,omitempty"`
	Partial string    `json:"partial,omitempty"`
	At      time.Time `json:"at"`
}

// MediaMessage carries synthesized speech to a front end
type MediaMessage struct {
	Event string `json:"event"`
	Media Media  `json:"media"`
}

// SpeechMessage is the text of a spoken sentence
type SpeechMessage struct {
	Event string `json:"event"`
	Text  string `json:"text"`
}

// ControlMessage is an outbound event without payload, or an error
type ControlMessage struct {
	Event   string `json:"event"`
	Message string `json:"message,omitempty"`
}
