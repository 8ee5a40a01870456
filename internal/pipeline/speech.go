package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hubenschmidt/sdr-voice-agent/internal/metrics"
)

// Speech is the outcome of synthesis. Produced is false when no audio could be
// generated; Audio is then nil and must not be sent.
type Speech struct {
	Audio    []byte
	Produced bool
}

// Synthesizer turns reply text into speech. It never fails: backend errors
// surface as a Speech with Produced == false.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) Speech
}

// SpeechEngines synthesizes replies on the active TTS engine.
type SpeechEngines struct {
	*Engines[TTSSynthesizer]
	opts   TTSOptions
	logger *slog.Logger
}

// NewSpeechEngines registers the TTS backends with active selected. opts
// apply to every reply.
func NewSpeechEngines(active string, backends map[string]TTSSynthesizer, opts TTSOptions, logger *slog.Logger) (*SpeechEngines, error) {
	e, err := NewEngines(active, backends)
	if err != nil {
		return nil, fmt.Errorf("tts: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SpeechEngines{Engines: e, opts: opts, logger: logger}, nil
}

func (s *SpeechEngines) Synthesize(ctx context.Context, text string) Speech {
	start := time.Now()
	audio, err := s.activeBackend().SynthesizeAudio(ctx, text, s.opts)
	switch {
	case err != nil:
		metrics.Errors.WithLabelValues("tts", s.ActiveName()).Inc()
		s.logger.Warn("speech synthesis failed", "engine", s.ActiveName(), "error", err)
		return Speech{}
	case len(audio) == 0:
		return Speech{}
	}
	metrics.StageDuration.WithLabelValues("tts").Observe(time.Since(start).Seconds())
	return Speech{Audio: audio, Produced: true}
}
