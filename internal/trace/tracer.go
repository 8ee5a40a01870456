package trace

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	queueSize    = 64
	writeTimeout = 5 * time.Second
)

// Writer is the persistence surface a Tracer drains into. *Store implements it.
type Writer interface {
	CreateSession(ctx context.Context, id, identity string, startedAt time.Time) error
	EndSession(ctx context.Context, id, reason string, endedAt time.Time) error
	CreateRun(ctx context.Context, r Run) error
	FinishRun(ctx context.Context, id string, durationMs float64, outcome string) error
	CreateSpan(ctx context.Context, sp Span) error
}

type traceMsg struct {
	kind string // "session_create", "session_end", "run_create", "run_update", "span"
	at   time.Time
	// session fields
	identity string
	reason   string
	// run fields
	run        Run
	durationMs float64
	outcome    string
	// span fields
	span Span
}

// Tracer writes trace data for one session asynchronously via a buffered channel.
// All methods are nil-safe, and calls after Close are dropped.
type Tracer struct {
	w         Writer
	sessionID string
	logger    *slog.Logger

	mu     sync.Mutex
	closed bool
	ch     chan traceMsg
	done   chan struct{}
}

// NewTracer creates a tracer bound to a session and records the session start.
// Must call Close when done.
func NewTracer(w Writer, sessionID, identity string, logger *slog.Logger) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracer{
		w:         w,
		sessionID: sessionID,
		logger:    logger,
		ch:        make(chan traceMsg, queueSize),
		done:      make(chan struct{}),
	}
	go t.drain()
	t.enqueue(traceMsg{kind: "session_create", at: time.Now(), identity: identity})
	return t
}

func (t *Tracer) drain() {
	defer close(t.done)
	for msg := range t.ch {
		t.handle(msg)
	}
}

func (t *Tracer) handle(m traceMsg) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	handlers := map[string]func() error{
		"session_create": func() error { return t.w.CreateSession(ctx, t.sessionID, m.identity, m.at) },
		"session_end":    func() error { return t.w.EndSession(ctx, t.sessionID, m.reason, m.at) },
		"run_create":     func() error { return t.w.CreateRun(ctx, m.run) },
		"run_update":     func() error { return t.w.FinishRun(ctx, m.run.ID, m.durationMs, m.outcome) },
		"span":           func() error { return t.w.CreateSpan(ctx, m.span) },
	}
	fn, ok := handlers[m.kind]
	if !ok {
		return
	}
	if err := fn(); err != nil {
		t.logger.Warn("trace write failed", "kind", m.kind, "error", err)
	}
}

func (t *Tracer) enqueue(m traceMsg) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.ch <- m:
	default:
		t.logger.Debug("trace queue full, dropping", "kind", m.kind)
	}
}

// StartRun records the start of run runID over audioBytes of captured audio.
func (t *Tracer) StartRun(runID string, audioBytes int) {
	if t == nil {
		return
	}
	t.enqueue(traceMsg{kind: "run_create", run: Run{
		ID:         runID,
		SessionID:  t.sessionID,
		StartedAt:  time.Now(),
		AudioBytes: audioBytes,
	}})
}

// EndRun finalizes a run with its outcome.
func (t *Tracer) EndRun(runID string, duration time.Duration, outcome string) {
	if t == nil || runID == "" {
		return
	}
	t.enqueue(traceMsg{
		kind:       "run_update",
		run:        Run{ID: runID},
		durationMs: float64(duration.Microseconds()) / 1000,
		outcome:    outcome,
	})
}

// RecordSpan records a completed stage. A nil err marks the span "ok".
func (t *Tracer) RecordSpan(runID, name string, startedAt time.Time, err error) {
	if t == nil || runID == "" {
		return
	}
	sp := Span{
		ID:         uuid.NewString(),
		RunID:      runID,
		Name:       name,
		StartedAt:  startedAt,
		DurationMs: float64(time.Since(startedAt).Microseconds()) / 1000,
		Status:     "ok",
	}
	if err != nil {
		sp.Status = "error"
		sp.Error = err.Error()
	}
	t.enqueue(traceMsg{kind: "span", span: sp})
}

// Close records the session end, drains pending writes and stops the
// background goroutine. Safe to call more than once.
func (t *Tracer) Close(reason string) {
	if t == nil {
		return
	}
	t.enqueue(traceMsg{kind: "session_end", at: time.Now(), reason: reason})

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.ch)
	t.mu.Unlock()

	<-t.done
}
