package ws

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/sdr-voice-agent/internal/audio"
	"github.com/hubenschmidt/sdr-voice-agent/internal/pipeline"
	"github.com/hubenschmidt/sdr-voice-agent/internal/trace"
)

type fakeConn struct {
	in        chan frame
	closedCh  chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	out        []frame
	events     []string
	closeCalls int
	failWrites bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan frame, 256), closedCh: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case fr := <-f.in:
		return fr.messageType, fr.data, fr.err
	case <-f.closedCh:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseAbnormalClosure}
	}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.closedCh:
		return websocket.ErrCloseSent
	default:
	}
	if f.failWrites {
		return errors.New("broken pipe")
	}
	f.out = append(f.out, frame{messageType: messageType, data: append([]byte(nil), data...)})
	switch messageType {
	case websocket.TextMessage:
		f.events = append(f.events, "text")
	case websocket.BinaryMessage:
		f.events = append(f.events, "binary")
	case websocket.CloseMessage:
		f.events = append(f.events, "close_frame")
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closeCalls++
	f.events = append(f.events, "closed")
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.closedCh) })
	return nil
}

func (f *fakeConn) sendAudio(pcm []byte) {
	f.in <- frame{messageType: websocket.BinaryMessage, data: pcm}
}

func (f *fakeConn) sendText(s string) {
	f.in <- frame{messageType: websocket.TextMessage, data: []byte(s)}
}

func (f *fakeConn) disconnect() {
	f.in <- frame{err: &websocket.CloseError{Code: websocket.CloseAbnormalClosure, Text: "unexpected EOF"}}
}

func (f *fakeConn) setFailWrites(v bool) {
	f.mu.Lock()
	f.failWrites = v
	f.mu.Unlock()
}

// texts returns text frames, excluding sync markers used by the harness.
func (f *fakeConn) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, fr := range f.out {
		if fr.messageType != websocket.TextMessage {
			continue
		}
		s := string(fr.data)
		if strings.HasPrefix(s, `{"type":"sync"`) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (f *fakeConn) hasText(s string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fr := range f.out {
		if fr.messageType == websocket.TextMessage && string(fr.data) == s {
			return true
		}
	}
	return false
}

func (f *fakeConn) binaries() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, fr := range f.out {
		if fr.messageType == websocket.BinaryMessage {
			out = append(out, fr.data)
		}
	}
	return out
}

func (f *fakeConn) eventLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func (f *fakeConn) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.out)
}

func (f *fakeConn) closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

type fakeTranscriber struct {
	mu       sync.Mutex
	text     string
	err      error
	calls    int
	captured [][]byte
	gate     chan struct{}
	during   func()
}

func (f *fakeTranscriber) Transcribe(_ context.Context, pcm []byte) (string, error) {
	f.mu.Lock()
	f.calls++
	f.captured = append(f.captured, append([]byte(nil), pcm...))
	gate, during, text, err := f.gate, f.during, f.text, f.err
	f.mu.Unlock()

	if during != nil {
		during()
	}
	if gate != nil {
		<-gate
	}
	return text, err
}

func (f *fakeTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeTranscriber) capturedAt(i int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.captured[i]
}

type fakeGenerator struct {
	mu         sync.Mutex
	reply      string
	err        error
	panicMsg   string
	historyLen []int
	during     func()
}

func (f *fakeGenerator) GenerateReply(_ context.Context, history []pipeline.Message) (string, error) {
	f.mu.Lock()
	f.historyLen = append(f.historyLen, len(history))
	reply, err, panicMsg, during := f.reply, f.err, f.panicMsg, f.during
	f.mu.Unlock()

	if during != nil {
		during()
	}
	if panicMsg != "" {
		panic(panicMsg)
	}
	return reply, err
}

type fakeSynth struct {
	speech pipeline.Speech
}

func (f *fakeSynth) Synthesize(context.Context, string) pipeline.Speech {
	return f.speech
}

type spanWriter struct {
	mu    sync.Mutex
	spans []trace.Span
}

func (w *spanWriter) CreateSession(context.Context, string, string, time.Time) error { return nil }
func (w *spanWriter) EndSession(context.Context, string, string, time.Time) error    { return nil }
func (w *spanWriter) CreateRun(context.Context, trace.Run) error                     { return nil }
func (w *spanWriter) FinishRun(context.Context, string, float64, string) error       { return nil }

func (w *spanWriter) CreateSpan(_ context.Context, sp trace.Span) error {
	w.mu.Lock()
	w.spans = append(w.spans, sp)
	w.mu.Unlock()
	return nil
}

func (w *spanWriter) span(name string) (trace.Span, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sp := range w.spans {
		if sp.Name == name {
			return sp, true
		}
	}
	return trace.Span{}, false
}

type harness struct {
	t    *testing.T
	conn *fakeConn
	c    *Controller
	r    *run
	asr  *fakeTranscriber
	gen  *fakeGenerator
	tts  *fakeSynth
	done chan struct{}
	seq  int
}

func newHarness(t *testing.T, mutate func(*ControllerConfig)) *harness {
	t.Helper()
	h := &harness{
		t:    t,
		conn: newFakeConn(),
		asr:  &fakeTranscriber{text: "quero conhecer os planos"},
		gen:  &fakeGenerator{reply: "Temos três planos."},
		tts:  &fakeSynth{speech: pipeline.Speech{Audio: []byte("AUDIO"), Produced: true}},
		done: make(chan struct{}),
	}
	cfg := ControllerConfig{
		Transcriber:  h.asr,
		Generator:    h.gen,
		Synthesizer:  h.tts,
		PollInterval: 10 * time.Millisecond,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.c = NewController(cfg)
	h.r = h.c.newRun(h.conn, "ana")
	return h
}

func (h *harness) start(ctx context.Context) {
	go func() {
		h.r.serve(ctx)
		close(h.done)
	}()
}

// sync waits until every frame queued so far has been handled by the loop.
func (h *harness) sync() {
	h.t.Helper()
	h.seq++
	marker := fmt.Sprintf(`{"type":"sync","n":%d}`, h.seq)
	h.conn.sendText(marker)
	require.Eventually(h.t, func() bool { return h.conn.hasText(marker) }, 2*time.Second, 5*time.Millisecond)
}

func (h *harness) waitTurnIdle() {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return !h.r.sess.TurnActive() }, 2*time.Second, 5*time.Millisecond)
}

func (h *harness) waitDone() {
	h.t.Helper()
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		h.t.Fatal("session did not end")
	}
	h.c.Wait()
}

func (h *harness) finish() {
	h.t.Helper()
	h.conn.sendText(`{"type":"end_of_session"}`)
	h.waitDone()
}

func (h *harness) speak(d time.Duration, fill byte) {
	frames := int(d / (100 * time.Millisecond))
	for range frames {
		h.conn.sendAudio(pcmFill(100*time.Millisecond, fill))
	}
}

func pcmFill(d time.Duration, fill byte) []byte {
	n := int(d.Seconds() * audio.BytesPerSecond)
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = fill
	}
	return buf
}

func toneFrame(amplitude int16, d time.Duration) []byte {
	n := int(d.Seconds() * audio.SampleRate)
	buf := make([]byte, n*audio.BytesPerSample)
	for i := range n {
		s := amplitude
		if i%2 == 1 {
			s = -amplitude
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
