package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_sessions_active",
		Help: "Currently open voice sessions",
	})

	SessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_sessions_total",
		Help: "Total voice sessions accepted",
	})

	SessionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_sessions_rejected_total",
		Help: "Connections refused because the gateway was at capacity",
	})

	SessionEnd = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_session_end_total",
		Help: "Session terminations by reason",
	}, []string{"reason"})

	AudioFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_audio_frames_total",
		Help: "Inbound audio frames by disposition (buffered, discarded)",
	}, []string{"disposition"})

	ControlMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_control_messages_total",
		Help: "Inbound text frames by control type",
	}, []string{"type"})

	EndOfSpeechDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_end_of_speech_dropped_total",
		Help: "End-of-speech signals ignored because a turn was already running",
	})

	Turns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_turns_total",
		Help: "Completed turns by outcome",
	}, []string{"outcome"})

	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_turn_duration_seconds",
		Help:    "Wall time from turn dispatch to flag release",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 3.0, 5.0, 10.0, 30.0},
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_stage_duration_seconds",
		Help:    "Per-stage latency",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0},
	}, []string{"stage"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_errors_total",
		Help: "Error counts by stage",
	}, []string{"stage", "error_type"})

	EmbeddingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipeline_embedding_duration_seconds",
		Help:    "Embedding generation latency",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.2, 0.5},
	})

	RAGDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipeline_rag_duration_seconds",
		Help:    "RAG retrieval latency (embed + search)",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.2, 0.5},
	})
)
