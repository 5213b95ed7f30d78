package pipeline

// Fixed sentences spoken by the controller
const (
	MsgSpeechUnavailable = "Speech not available"
	MsgUsageHint         = "Say: what's in front of me"
	MsgCameraNotReady    = "Camera not ready"
	MsgSeeingTrouble     = "Sorry, I had trouble seeing the scene."
	MsgNothingSeen       = "I do not see anything clearly in front."
)
