package ws

import (
	"sync"
	"time"

	"github.com/hubenschmidt/sdr-voice-agent/internal/pipeline"
)

// Session is the per-connection state shared by the receive loop and the
// turn it spawned. The audio buffer and the turn flag change together under mu.
type Session struct {
	ID        string
	Identity  string
	StartedAt time.Time

	mu         sync.Mutex
	buf        []byte
	turnActive bool
	ended      bool
	history    []pipeline.Message
}

// NewSession creates an empty session.
func NewSession(id, identity string) *Session {
	return &Session{ID: id, Identity: identity, StartedAt: time.Now()}
}

// AppendAudio buffers an inbound PCM frame. It reports false, and drops the
// frame, while a turn is active.
func (s *Session) AppendAudio(pcm []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turnActive {
		return false
	}
	s.buf = append(s.buf, pcm...)
	return true
}

// BeginTurn marks a turn active and hands over the buffered audio, leaving
// the session buffer empty. It reports false if a turn is already active.
func (s *Session) BeginTurn() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turnActive {
		return nil, false
	}
	s.turnActive = true
	pcm := s.buf
	s.buf = nil
	return pcm, true
}

// EndTurn clears the turn flag.
func (s *Session) EndTurn() {
	s.mu.Lock()
	s.turnActive = false
	s.mu.Unlock()
}

// TakeLeftover is BeginTurn for teardown: it only starts a turn when audio is
// buffered. If a turn is already running the buffer is discarded.
func (s *Session) TakeLeftover() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turnActive {
		s.buf = nil
		return nil, false
	}
	if len(s.buf) == 0 {
		return nil, false
	}
	s.turnActive = true
	pcm := s.buf
	s.buf = nil
	return pcm, true
}

// TurnActive reports whether a turn currently holds the session.
func (s *Session) TurnActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnActive
}

// BufferedBytes reports how much audio is waiting for the next turn.
func (s *Session) BufferedBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// History returns a copy of the conversation so far.
func (s *Session) History() []pipeline.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]pipeline.Message, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Session) appendHistory(role pipeline.Role, content string) {
	s.mu.Lock()
	s.history = append(s.history, pipeline.Message{Role: role, Content: content})
	s.mu.Unlock()
}

// markEnded reports true the first time it is called.
func (s *Session) markEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.ended = true
	return true
}

// Ended reports whether the session has been torn down.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}
