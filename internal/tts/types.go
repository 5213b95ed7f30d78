package tts

// AudioChunk is synthesized speech as linear16 PCM
type AudioChunk struct {
	Data       []byte // 16-bit signed little-endian samples
	SampleRate int    // Sample rate in Hz
	Channels   int    // Number of channels (1 for mono)
}

// AudioSink plays synthesized speech, normally on connected front ends
type AudioSink interface {
	// PlayAudio queues chunk for playback
	PlayAudio(chunk *AudioChunk) error

	// ClearAudio drops any queued playback
	ClearAudio()

	// SendSpeech shares the spoken sentence as text
	SendSpeech(text string)
}
