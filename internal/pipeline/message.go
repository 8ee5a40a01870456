package pipeline

import "strings"

// Role tags a history entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one utterance in a session's conversation history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// LatestUser returns the most recent user utterance, or "" if there is none.
func LatestUser(history []Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleUser {
			return history[i].Content
		}
	}
	return ""
}

// FormatDialogue renders history as a Cliente/Agente script ending with an
// open "Agente:" line for the model to complete.
func FormatDialogue(history []Message) string {
	var b strings.Builder
	for _, m := range history {
		switch m.Role {
		case RoleUser:
			b.WriteString("Cliente: ")
		case RoleAssistant:
			b.WriteString("Agente: ")
		default:
			continue
		}
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	b.WriteString("Agente:")
	return b.String()
}
