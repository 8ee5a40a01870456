package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/sdr-voice-agent/internal/audio"
	"github.com/hubenschmidt/sdr-voice-agent/internal/metrics"
	"github.com/hubenschmidt/sdr-voice-agent/internal/pipeline"
	"github.com/hubenschmidt/sdr-voice-agent/internal/trace"
)

// Session end reasons, also used as metric labels.
const (
	endReasonEndOfSession = "end_of_session"
	endReasonDisconnect   = "disconnect"
	endReasonReceiveError = "receive_error"
	endReasonIdle         = "idle_timeout"
	endReasonShutdown     = "shutdown"
)

const (
	defaultPollInterval = 100 * time.Millisecond
	defaultTurnTimeout  = 60 * time.Second
)

// ControllerConfig holds the collaborators shared read-only by every session.
type ControllerConfig struct {
	Transcriber pipeline.Transcriber
	Generator   pipeline.ReplyGenerator
	Synthesizer pipeline.Synthesizer

	// MinTurnAudioBytes is the shortest captured utterance worth transcribing.
	MinTurnAudioBytes int
	PollInterval      time.Duration
	// IdleTimeout ends a session with no inbound frames for that long. Zero disables it.
	IdleTimeout time.Duration
	TurnTimeout time.Duration

	// ServerVAD dispatches end-of-speech from inbound audio energy in
	// addition to client signals.
	ServerVAD bool
	VADConfig audio.VADConfig

	// Trace receives per-turn timings; nil disables tracing.
	Trace  trace.Writer
	Logger *slog.Logger
}

// Controller runs voice sessions: one receive loop per connection, at most
// one turn in flight per session.
type Controller struct {
	cfg ControllerConfig
	// work counts serving sessions and spawned turns.
	work sync.WaitGroup
}

// NewController creates a controller, filling unset tunables with defaults.
func NewController(cfg ControllerConfig) *Controller {
	if cfg.MinTurnAudioBytes <= 0 {
		cfg.MinTurnAudioBytes = audio.BytesPerSecond
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = defaultTurnTimeout
	}
	if cfg.VADConfig == (audio.VADConfig{}) {
		cfg.VADConfig = audio.DefaultVADConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{cfg: cfg}
}

// Run drives one session until the client ends it, the connection drops,
// the idle timeout fires, or ctx is cancelled, then tears it down and
// returns the final session state. Turns still in flight keep running.
func (c *Controller) Run(ctx context.Context, conn Conn, identity string) *Session {
	r := c.newRun(conn, identity)
	r.serve(ctx)
	return r.sess
}

// Wait blocks until every session, including its teardown flush and trace
// close, and every spawned turn has finished.
func (c *Controller) Wait() {
	c.work.Wait()
}

// run is the live side of one session.
type run struct {
	c      *Controller
	sess   *Session
	conn   Conn
	out    *sender
	tracer *trace.Tracer
	vad    *audio.VAD
	logger *slog.Logger

	lastFrame    time.Time
	teardownOnce sync.Once
}

type frame struct {
	messageType int
	data        []byte
	err         error
}

func (c *Controller) newRun(conn Conn, identity string) *run {
	sess := NewSession(uuid.NewString(), identity)
	logger := c.cfg.Logger.With("session_id", sess.ID, "identity", identity)

	r := &run{
		c:         c,
		sess:      sess,
		conn:      conn,
		out:       newSender(conn, logger),
		logger:    logger,
		lastFrame: time.Now(),
	}
	if c.cfg.Trace != nil {
		r.tracer = trace.NewTracer(c.cfg.Trace, sess.ID, identity, logger)
	}
	if c.cfg.ServerVAD {
		r.vad = audio.NewVAD(c.cfg.VADConfig)
	}
	return r
}

func (r *run) serve(ctx context.Context) {
	r.c.work.Add(1)
	defer r.c.work.Done()

	r.logger.Info("session started")
	reason := r.receive(ctx)
	r.teardown(ctx, reason)
}

// receive is the connection loop. It only touches the buffer and the turn
// flag; all pipeline work happens in spawned turns.
func (r *run) receive(ctx context.Context) string {
	frames := make(chan frame)
	done := make(chan struct{})
	defer close(done)
	go r.readFrames(frames, done)

	poll := time.NewTicker(r.c.cfg.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return endReasonShutdown
		case f := <-frames:
			if f.err != nil {
				return r.classifyReadError(f.err)
			}
			r.lastFrame = time.Now()
			if r.handleFrame(ctx, f) {
				return endReasonEndOfSession
			}
		case <-poll.C:
			if r.idleExpired() {
				r.logger.Info("session idle, closing", "idle_timeout", r.c.cfg.IdleTimeout)
				return endReasonIdle
			}
		}
	}
}

// readFrames pumps the blocking reads into the loop so a poll tick never
// abandons a read halfway.
func (r *run) readFrames(out chan<- frame, done <-chan struct{}) {
	for {
		messageType, data, err := r.conn.ReadMessage()
		select {
		case out <- frame{messageType: messageType, data: data, err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (r *run) classifyReadError(err error) string {
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		r.logger.Info("client closed connection")
		return endReasonDisconnect
	case websocket.IsUnexpectedCloseError(err):
		r.logger.Warn("connection dropped", "error", err)
		return endReasonDisconnect
	default:
		r.logger.Error("receive failed", "error", err)
		return endReasonReceiveError
	}
}

func (r *run) idleExpired() bool {
	idle := r.c.cfg.IdleTimeout
	if idle <= 0 || r.sess.TurnActive() {
		return false
	}
	return time.Since(r.lastFrame) >= idle
}

// handleFrame dispatches one inbound frame and reports whether the session should end.
func (r *run) handleFrame(ctx context.Context, f frame) bool {
	switch f.messageType {
	case websocket.BinaryMessage:
		r.handleAudio(ctx, f.data)
		return false
	case websocket.TextMessage:
		return r.handleText(ctx, f.data)
	default:
		return false
	}
}

func (r *run) handleAudio(ctx context.Context, pcm []byte) {
	if !r.sess.AppendAudio(pcm) {
		metrics.AudioFrames.WithLabelValues("discarded").Inc()
		return
	}
	metrics.AudioFrames.WithLabelValues("buffered").Inc()

	if r.vad != nil && r.vad.Process(pcm) {
		r.endOfSpeech(ctx, "server_vad")
	}
}

func (r *run) handleText(ctx context.Context, data []byte) bool {
	kind, label := parseControl(data)
	metrics.ControlMessages.WithLabelValues(label).Inc()

	switch kind {
	case controlEndOfSpeech:
		r.endOfSpeech(ctx, label)
		return false
	case controlEndOfSession:
		return true
	default:
		r.out.SendText(string(data))
		return false
	}
}

// endOfSpeech starts a turn on the buffered audio unless one is running, in
// which case the signal is dropped.
func (r *run) endOfSpeech(ctx context.Context, source string) {
	pcm, ok := r.sess.BeginTurn()
	if !ok {
		metrics.EndOfSpeechDropped.Inc()
		r.logger.Info("end of speech ignored, turn in progress", "source", source)
		return
	}
	if r.vad != nil {
		r.vad.Reset()
	}

	r.c.work.Add(1)
	go func() {
		defer r.c.work.Done()
		r.processTurn(ctx, pcm, source)
	}()
}

// teardown flushes leftover audio through one synchronous turn, then closes
// the connection. Later calls are no-ops.
func (r *run) teardown(ctx context.Context, reason string) {
	r.teardownOnce.Do(func() {
		r.sess.markEnded()

		if pcm, ok := r.sess.TakeLeftover(); ok {
			r.logger.Info("flushing leftover audio", "bytes", len(pcm))
			r.processTurn(ctx, pcm, "teardown")
		}

		if err := r.out.Close(); err != nil {
			r.logger.Debug("close connection", "error", err)
		}
		r.tracer.Close(reason)

		metrics.SessionEnd.WithLabelValues(reason).Inc()
		r.logger.Info("session ended", "reason", reason, "history_len", len(r.sess.History()))
	})
}
