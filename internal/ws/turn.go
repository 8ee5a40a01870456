package ws

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hubenschmidt/sdr-voice-agent/internal/metrics"
	"github.com/hubenschmidt/sdr-voice-agent/internal/pipeline"
	"github.com/hubenschmidt/sdr-voice-agent/internal/prompts"
)

// Turn outcomes, used for metrics and trace runs.
const (
	outcomeOK                 = "ok"
	outcomeConnectionClosed   = "connection_closed"
	outcomeTooShort           = "too_short"
	outcomeTranscriptionError = "transcription_error"
	outcomeNotUnderstood      = "not_understood"
	outcomeGenerationError    = "generation_error"
	outcomeNoSpeech           = "no_speech"
	outcomePanic              = "panic"
)

var errNoSpeech = errors.New("no speech produced")

// processTurn runs one captured utterance through transcribe, generate and
// synthesize. The session's turn flag is released exactly once on return,
// whatever happened. The turn outlives session cancellation and is bounded
// by its own timeout.
func (r *run) processTurn(parent context.Context, pcm []byte, source string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.c.cfg.TurnTimeout)
	defer cancel()

	turnID := uuid.NewString()
	logger := r.logger.With("turn_id", turnID)
	start := time.Now()
	outcome := outcomePanic
	r.tracer.StartRun(turnID, len(pcm))

	defer func() {
		if p := recover(); p != nil {
			logger.Error("turn panicked", "panic", p, "stack", string(debug.Stack()))
			metrics.Errors.WithLabelValues("turn", "panic").Inc()
			r.out.SendText(prompts.NoticeApology)
		}
		r.sess.EndTurn()

		elapsed := time.Since(start)
		metrics.Turns.WithLabelValues(outcome).Inc()
		metrics.TurnDuration.Observe(elapsed.Seconds())
		r.tracer.EndRun(turnID, elapsed, outcome)
		logger.Info("turn finished", "source", source, "outcome", outcome, "audio_bytes", len(pcm), "duration_ms", elapsed.Milliseconds())
	}()

	outcome = r.runTurn(ctx, pcm, turnID, logger)
}

func (r *run) runTurn(ctx context.Context, pcm []byte, turnID string, logger *slog.Logger) string {
	if !r.out.Open() {
		return outcomeConnectionClosed
	}

	if len(pcm) < r.c.cfg.MinTurnAudioBytes {
		r.out.SendText(prompts.NoticeNotHeard)
		return outcomeTooShort
	}

	stageStart := time.Now()
	text, err := r.c.cfg.Transcriber.Transcribe(ctx, pcm)
	r.tracer.RecordSpan(turnID, "asr", stageStart, err)
	if err != nil {
		logger.Error("transcription failed", "error", err)
		r.out.SendText(prompts.NoticeApology)
		return outcomeTranscriptionError
	}

	text = strings.TrimSpace(text)
	if text == "" {
		r.out.SendText(prompts.NoticeNotUnderstood)
		return outcomeNotUnderstood
	}

	r.sess.appendHistory(pipeline.RoleUser, text)
	r.out.SendText(prompts.UserEcho(r.sess.Identity, text))

	stageStart = time.Now()
	reply, err := r.c.cfg.Generator.GenerateReply(ctx, r.sess.History())
	r.tracer.RecordSpan(turnID, "llm", stageStart, err)
	if err != nil {
		logger.Error("reply generation failed", "error", err)
		r.out.SendText(prompts.NoticeApology)
		return outcomeGenerationError
	}

	r.sess.appendHistory(pipeline.RoleAssistant, reply)
	r.out.SendText(prompts.AgentReply(reply))

	stageStart = time.Now()
	speech := r.c.cfg.Synthesizer.Synthesize(ctx, reply)
	if !speech.Produced {
		r.tracer.RecordSpan(turnID, "tts", stageStart, errNoSpeech)
		logger.Warn("no speech produced for reply")
		return outcomeNoSpeech
	}
	r.tracer.RecordSpan(turnID, "tts", stageStart, nil)

	r.out.SendAudio(speech.Audio)
	return outcomeOK
}
