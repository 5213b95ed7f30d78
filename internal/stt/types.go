package stt

import "context"

// TranscriptionResult represents a transcription result from Deepgram
type TranscriptionResult struct {
	// Text is the transcribed text
	Text string

	// IsFinal indicates if this is a final transcription (true) or interim (false)
	IsFinal bool

	// Confidence is the confidence score (0.0 to 1.0) if available
	Confidence float64

	// StartTime is the start time of the segment in seconds
	StartTime float64

	// Duration is the duration of the segment in seconds
	Duration float64

	// UtteranceEnd marks the service's end-of-utterance signal; Text is empty
	UtteranceEnd bool
}

// StreamingClient is a live speech-to-text connection
type StreamingClient interface {
	// Start opens a new transcription session
	Start() error

	// SendAudio sends a linear16 16 kHz chunk to the service
	SendAudio(audioData []byte) error

	// GetTranscription returns the channel receiving transcription results
	GetTranscription() <-chan *TranscriptionResult

	// Stop finishes the current session
	Stop() error

	// Close releases the client
	Close() error

	// Configured reports whether the client has credentials to connect
	Configured() bool
}

// MicSource supplies microphone audio, normally a connected front end
type MicSource interface {
	// MicrophoneConnected reports whether any microphone is attached
	MicrophoneConnected() bool

	// Microphone streams linear16 16 kHz mono PCM until ctx is done
	Microphone(ctx context.Context) <-chan []byte
}
