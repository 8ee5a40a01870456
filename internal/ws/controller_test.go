package ws

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/sdr-voice-agent/internal/audio"
	"github.com/hubenschmidt/sdr-voice-agent/internal/pipeline"
	"github.com/hubenschmidt/sdr-voice-agent/internal/prompts"
)

func TestShortAudioGetsNotHeardNotice(t *testing.T) {
	h := newHarness(t, nil)
	h.start(context.Background())

	h.speak(500*time.Millisecond, 0)
	h.conn.sendText(`{"type":"end_of_speech"}`)
	h.sync()
	h.waitTurnIdle()
	h.finish()

	assert.Equal(t, []string{prompts.NoticeNotHeard}, h.conn.texts())
	assert.Empty(t, h.conn.binaries())
	assert.Empty(t, h.r.sess.History())
	assert.Zero(t, h.asr.callCount(), "short audio never reaches transcription")
}

func TestEmptyBufferTurnGetsNotHeardNotice(t *testing.T) {
	h := newHarness(t, nil)
	h.start(context.Background())

	h.conn.sendText(`{"type":"end_of_speech_button"}`)
	h.sync()
	h.waitTurnIdle()
	h.finish()

	assert.Equal(t, []string{prompts.NoticeNotHeard}, h.conn.texts())
	assert.Empty(t, h.r.sess.History())
}

func TestSuccessfulTurn(t *testing.T) {
	h := newHarness(t, nil)
	h.start(context.Background())

	h.speak(3*time.Second, 1)
	h.conn.sendText(`{"type":"end_of_speech"}`)
	h.sync()
	h.waitTurnIdle()
	h.finish()

	assert.Equal(t, []string{
		prompts.UserEcho("ana", "quero conhecer os planos"),
		prompts.AgentReply("Temos três planos."),
	}, h.conn.texts())
	require.Len(t, h.conn.binaries(), 1)
	assert.Equal(t, []byte("AUDIO"), h.conn.binaries()[0])

	history := h.r.sess.History()
	require.Len(t, history, 2)
	assert.Equal(t, pipeline.Message{Role: pipeline.RoleUser, Content: "quero conhecer os planos"}, history[0])
	assert.Equal(t, pipeline.Message{Role: pipeline.RoleAssistant, Content: "Temos três planos."}, history[1])
	assert.Equal(t, 3*audio.BytesPerSecond, len(h.asr.capturedAt(0)))
	assert.Equal(t, []int{1}, h.gen.historyLen, "generation sees the user entry")
}

func TestAudioFrameFollowsReplyText(t *testing.T) {
	h := newHarness(t, nil)
	h.start(context.Background())

	h.speak(2*time.Second, 1)
	h.conn.sendText(`{"type":"end_of_speech"}`)
	h.sync()
	h.waitTurnIdle()
	h.finish()

	events := h.conn.eventLog()
	binaryAt := slices.Index(events, "binary")
	require.GreaterOrEqual(t, binaryAt, 0)
	assert.Less(t, slices.Index(events, "text"), binaryAt)
}

func TestConcurrentEndOfSpeechIsDropped(t *testing.T) {
	h := newHarness(t, nil)
	gate := make(chan struct{})
	h.asr.gate = gate
	h.start(context.Background())

	h.speak(2*time.Second, 1)
	h.conn.sendText(`{"type":"end_of_speech"}`)
	h.conn.sendText(`{"type":"end_of_speech"}`)
	h.sync()
	require.Eventually(t, func() bool { return h.asr.callCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, h.r.sess.TurnActive())

	close(gate)
	h.waitTurnIdle()
	h.finish()

	assert.Equal(t, 1, h.asr.callCount())
	assert.Len(t, h.conn.texts(), 2)
	assert.Len(t, h.conn.binaries(), 1)
	assert.Len(t, h.r.sess.History(), 2)
}

func TestDisconnectFlushesLeftoverBeforeClose(t *testing.T) {
	h := newHarness(t, nil)
	h.start(context.Background())

	h.speak(2*time.Second, 1)
	h.sync()
	require.Equal(t, 2*audio.BytesPerSecond, h.r.sess.BufferedBytes())
	h.conn.disconnect()
	h.waitDone()

	assert.Equal(t, 1, h.asr.callCount())
	assert.Len(t, h.r.sess.History(), 2)

	events := h.conn.eventLog()
	closedAt := slices.Index(events, "closed")
	binaryAt := slices.Index(events, "binary")
	require.GreaterOrEqual(t, binaryAt, 0)
	assert.Less(t, binaryAt, closedAt, "final turn completes before the connection is closed")
	assert.False(t, h.r.sess.TurnActive())
}

func TestEndOfSessionDiscardsNothingWhenBufferEmpty(t *testing.T) {
	h := newHarness(t, nil)
	h.start(context.Background())
	h.finish()

	assert.Zero(t, h.asr.callCount())
	assert.Empty(t, h.conn.texts())
	assert.Equal(t, 1, h.conn.closes())
}

func TestAudioDuringTurnNeverLeaksIntoNextTurn(t *testing.T) {
	h := newHarness(t, nil)
	gate := make(chan struct{})
	h.asr.gate = gate
	h.start(context.Background())

	h.speak(2*time.Second, 1)
	h.conn.sendText(`{"type":"end_of_speech"}`)
	h.sync()
	require.Eventually(t, func() bool { return h.asr.callCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	h.speak(time.Second, 2)
	h.sync()
	assert.Zero(t, h.r.sess.BufferedBytes())

	close(gate)
	h.waitTurnIdle()

	h.speak(1500*time.Millisecond, 3)
	h.conn.sendText(`{"type":"end_of_speech"}`)
	h.sync()
	h.waitTurnIdle()
	h.finish()

	require.Equal(t, 2, h.asr.callCount())
	second := h.asr.capturedAt(1)
	assert.Len(t, second, 1500*audio.BytesPerSecond/1000)
	assert.False(t, bytes.ContainsRune(second, 2))
	assert.Equal(t, bytes.Repeat([]byte{3}, len(second)), second)
}

func TestTurnFlagHeldForWholePipeline(t *testing.T) {
	h := newHarness(t, nil)
	var duringASR, duringLLM bool
	h.asr.during = func() { duringASR = h.r.sess.TurnActive() }
	h.gen.during = func() { duringLLM = h.r.sess.TurnActive() }
	h.start(context.Background())

	h.speak(2*time.Second, 1)
	h.conn.sendText(`{"type":"end_of_speech"}`)
	h.sync()
	h.waitTurnIdle()
	h.finish()

	assert.True(t, duringASR)
	assert.True(t, duringLLM)
	assert.False(t, h.r.sess.TurnActive())
}

func TestTurnFailureModes(t *testing.T) {
	cases := []struct {
		name     string
		setup    func(h *harness)
		texts    []string
		binaries int
		history  []pipeline.Role
	}{
		{
			name:  "transcription error",
			setup: func(h *harness) { h.asr.err = errors.New("whisper down") },
			texts: []string{prompts.NoticeApology},
		},
		{
			name:  "blank transcript",
			setup: func(h *harness) { h.asr.text = "  \n " },
			texts: []string{prompts.NoticeNotUnderstood},
		},
		{
			name:    "generation error",
			setup:   func(h *harness) { h.gen.err = errors.New("rate limited") },
			texts:   []string{prompts.UserEcho("ana", "quero conhecer os planos"), prompts.NoticeApology},
			history: []pipeline.Role{pipeline.RoleUser},
		},
		{
			name:    "synthesis produced nothing",
			setup:   func(h *harness) { h.tts.speech = pipeline.Speech{} },
			texts:   []string{prompts.UserEcho("ana", "quero conhecer os planos"), prompts.AgentReply("Temos três planos.")},
			history: []pipeline.Role{pipeline.RoleUser, pipeline.RoleAssistant},
		},
		{
			name:    "panic in generation",
			setup:   func(h *harness) { h.gen.panicMsg = "nil map" },
			texts:   []string{prompts.UserEcho("ana", "quero conhecer os planos"), prompts.NoticeApology},
			history: []pipeline.Role{pipeline.RoleUser},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			tc.setup(h)
			h.start(context.Background())

			h.speak(2*time.Second, 1)
			h.conn.sendText(`{"type":"end_of_speech"}`)
			h.sync()
			h.waitTurnIdle()
			h.sync() // loop still alive after the failed turn
			h.finish()

			assert.Equal(t, tc.texts, h.conn.texts())
			assert.Len(t, h.conn.binaries(), tc.binaries)

			var roles []pipeline.Role
			for _, m := range h.r.sess.History() {
				roles = append(roles, m.Role)
			}
			assert.Equal(t, tc.history, roles)
			assert.False(t, h.r.sess.TurnActive())
		})
	}
}

func TestClosedConnectionSkipsPipeline(t *testing.T) {
	h := newHarness(t, nil)
	h.start(context.Background())

	h.conn.setFailWrites(true)
	h.conn.sendText("ping")
	require.Eventually(t, func() bool { return !h.r.out.Open() }, 2*time.Second, 5*time.Millisecond)

	h.speak(2*time.Second, 1)
	h.conn.sendText(`{"type":"end_of_speech"}`)
	h.finish()

	assert.Zero(t, h.asr.callCount())
	assert.Empty(t, h.r.sess.History())
	assert.False(t, h.r.sess.TurnActive())
}

func TestUnrecognizedTextIsEchoed(t *testing.T) {
	h := newHarness(t, nil)
	h.start(context.Background())

	h.conn.sendText("olá, tudo bem?")
	h.conn.sendText(`{"type":"chat","text":"oi"}`)
	h.conn.sendText(`{not json`)
	h.sync()
	h.finish()

	assert.Equal(t, []string{"olá, tudo bem?", `{"type":"chat","text":"oi"}`, `{not json`}, h.conn.texts())
	assert.Empty(t, h.r.sess.History())
}

func TestEndOfSessionAfterTeardownIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	h.start(context.Background())
	h.speak(2*time.Second, 1)
	h.conn.sendText(`{"type":"end_of_speech"}`)
	h.sync()
	h.waitTurnIdle()
	h.finish()

	frames := h.conn.frameCount()
	history := h.r.sess.History()

	assert.NotPanics(t, func() {
		stop := h.r.handleText(context.Background(), []byte(`{"type":"end_of_session"}`))
		assert.True(t, stop)
		h.r.handleText(context.Background(), []byte(`{"type":"end_of_speech"}`))
		h.r.teardown(context.Background(), endReasonEndOfSession)
	})
	h.c.Wait()

	assert.Equal(t, frames, h.conn.frameCount())
	assert.Equal(t, history, h.r.sess.History())
	assert.Equal(t, 1, h.conn.closes())
	assert.False(t, h.r.sess.TurnActive())
}

func TestInFlightTurnSurvivesSessionEnd(t *testing.T) {
	h := newHarness(t, nil)
	gate := make(chan struct{})
	h.asr.gate = gate
	h.start(context.Background())

	h.speak(2*time.Second, 1)
	h.conn.sendText(`{"type":"end_of_speech"}`)
	h.sync()
	require.Eventually(t, func() bool { return h.asr.callCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	h.conn.sendText(`{"type":"end_of_session"}`)
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
	assert.True(t, h.r.sess.TurnActive(), "session end does not preempt the turn")
	frames := h.conn.frameCount()

	close(gate)
	h.c.Wait()

	assert.False(t, h.r.sess.TurnActive())
	assert.Equal(t, frames, h.conn.frameCount(), "no sends after the connection is closed")
}

func TestServerVADDispatchesEndOfSpeech(t *testing.T) {
	h := newHarness(t, func(cfg *ControllerConfig) {
		cfg.ServerVAD = true
	})
	h.start(context.Background())

	for range 12 {
		h.conn.sendAudio(toneFrame(8000, 100*time.Millisecond))
	}
	for range 8 {
		h.conn.sendAudio(toneFrame(0, 100*time.Millisecond))
	}
	require.Eventually(t, func() bool { return h.asr.callCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	h.waitTurnIdle()
	h.finish()

	assert.Equal(t, 2*audio.BytesPerSecond, len(h.asr.capturedAt(0)))
	assert.Len(t, h.r.sess.History(), 2)
}

func TestIdleTimeoutEndsSession(t *testing.T) {
	h := newHarness(t, func(cfg *ControllerConfig) {
		cfg.IdleTimeout = 50 * time.Millisecond
	})
	h.start(context.Background())
	h.waitDone()

	assert.Equal(t, 1, h.conn.closes())
}

func TestContextCancelEndsSession(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	h.start(ctx)

	h.speak(2*time.Second, 1)
	h.sync()
	cancel()
	h.waitDone()

	assert.Equal(t, 1, h.asr.callCount(), "leftover audio is flushed on shutdown")
	assert.Len(t, h.r.sess.History(), 2)
}

func TestWaitCoversTeardownFlush(t *testing.T) {
	h := newHarness(t, nil)
	gate := make(chan struct{})
	h.asr.gate = gate
	ctx, cancel := context.WithCancel(context.Background())
	h.start(ctx)

	h.speak(2*time.Second, 1)
	h.sync()
	cancel()
	require.Eventually(t, func() bool { return h.asr.callCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	waited := make(chan struct{})
	go func() {
		h.c.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		t.Fatal("Wait returned before the teardown flush finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after the flush")
	}
	assert.False(t, h.r.sess.TurnActive())
	assert.Len(t, h.r.sess.History(), 2)
	assert.Equal(t, 1, h.conn.closes())
}

func TestTTSSpanRecordsMissingSpeech(t *testing.T) {
	w := &spanWriter{}
	h := newHarness(t, func(cfg *ControllerConfig) {
		cfg.Trace = w
	})
	h.tts.speech = pipeline.Speech{}
	h.start(context.Background())

	h.speak(2*time.Second, 1)
	h.conn.sendText(`{"type":"end_of_speech"}`)
	h.sync()
	h.waitTurnIdle()
	h.finish()

	sp, ok := w.span("tts")
	require.True(t, ok, "tts span recorded")
	assert.Equal(t, "error", sp.Status)
	assert.Equal(t, errNoSpeech.Error(), sp.Error)

	asr, ok := w.span("asr")
	require.True(t, ok, "asr span recorded")
	assert.Equal(t, "ok", asr.Status)
}

func TestRunReturnsTornDownSession(t *testing.T) {
	conn := newFakeConn()
	c := NewController(ControllerConfig{
		Transcriber:  &fakeTranscriber{text: "oi"},
		Generator:    &fakeGenerator{reply: "olá"},
		Synthesizer:  &fakeSynth{speech: pipeline.Speech{Audio: []byte{1}, Produced: true}},
		PollInterval: 10 * time.Millisecond,
	})

	conn.sendAudio(pcmFill(2*time.Second, 1))
	conn.sendText(`{"type":"end_of_session"}`)
	sess := c.Run(context.Background(), conn, "bia")
	c.Wait()

	assert.True(t, sess.Ended())
	assert.Equal(t, "bia", sess.Identity)
	assert.Len(t, sess.History(), 2)
	assert.Equal(t, prompts.UserEcho("bia", "oi"), conn.texts()[0])
}
