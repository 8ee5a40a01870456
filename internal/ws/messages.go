package ws

import "encoding/json"

// Control message types accepted in client text frames.
const (
	typeEndOfSpeech       = "end_of_speech"
	typeEndOfSpeechButton = "end_of_speech_button"
	typeEndOfSession      = "end_of_session"
)

type controlKind int

const (
	controlEcho controlKind = iota
	controlEndOfSpeech
	controlEndOfSession
)

type controlMessage struct {
	Type string `json:"type"`
}

// parseControl classifies a client text frame. Anything that is not a known
// control object is echoed; label is used for metrics.
func parseControl(data []byte) (kind controlKind, label string) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return controlEcho, "malformed"
	}
	switch msg.Type {
	case typeEndOfSpeech, typeEndOfSpeechButton:
		return controlEndOfSpeech, msg.Type
	case typeEndOfSession:
		return controlEndOfSession, msg.Type
	default:
		return controlEcho, "unknown"
	}
}
