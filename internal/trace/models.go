package trace

import "time"

// Session represents one voice connection. No conversation text is kept.
type Session struct {
	ID        string     `json:"id"`
	Identity  string     `json:"identity"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	EndReason string     `json:"end_reason,omitempty"`
	RunCount  int        `json:"run_count,omitempty"`
}

// Run represents one turn through transcribe → generate → synthesize.
type Run struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	StartedAt  time.Time `json:"started_at"`
	AudioBytes int       `json:"audio_bytes"`
	DurationMs float64   `json:"duration_ms,omitempty"`
	Outcome    string    `json:"outcome"`
	SpanCount  int       `json:"span_count,omitempty"`
}

// Span represents an individual pipeline stage execution.
type Span struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	Name       string    `json:"name"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs float64   `json:"duration_ms"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
}
