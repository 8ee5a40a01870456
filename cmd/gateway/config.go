package main

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/hubenschmidt/sdr-voice-agent/internal/audio"
	"github.com/hubenschmidt/sdr-voice-agent/internal/env"
)

type config struct {
	port     string
	logLevel slog.Level

	openaiKey     string
	openaiBaseURL string

	asrEngine        string
	asrModel         string
	whisperServerURL string

	llmModel        string
	llmMaxTokens    int
	llmSystemPrompt string

	ttsEngine         string
	ttsModel          string
	ttsVoice          string
	piperURL          string
	elevenlabsAPIKey  string
	elevenlabsVoiceID string
	elevenlabsModelID string

	qdrantURL         string
	qdrantCollection  string
	embeddingModel    string
	ragTopK           int
	ragScoreThreshold float64

	httpPoolSize          int
	maxConcurrentSessions int
	pollInterval          time.Duration
	idleTimeout           time.Duration
	turnTimeout           time.Duration
	minTurnAudioBytes     int
	serverVAD             bool
	vadConfig             audio.VADConfig
	allowAnyOrigin        bool
	defaultIdentity       string

	traceDatabaseURL string
}

var (
	asrEngines = []string{"openai", "whisper-server"}
	ttsEngines = []string{"openai", "piper", "elevenlabs"}
)

// loadConfig reads the environment once. Every malformed value is reported
// together; the process refuses to start on any of them.
func loadConfig() (config, error) {
	var errs []error
	intVar := func(key string, fallback int) int {
		n, err := env.Int(key, fallback)
		errs = append(errs, err)
		return n
	}
	floatVar := func(key string, fallback float64) float64 {
		f, err := env.Float(key, fallback)
		errs = append(errs, err)
		return f
	}
	durVar := func(key string, fallback time.Duration) time.Duration {
		d, err := env.Duration(key, fallback)
		errs = append(errs, err)
		return d
	}
	boolVar := func(key string, fallback bool) bool {
		b, err := env.Bool(key, fallback)
		errs = append(errs, err)
		return b
	}

	vad := audio.DefaultVADConfig()
	vad.SpeechThresholdDB = floatVar("VAD_SPEECH_THRESHOLD_DB", vad.SpeechThresholdDB)
	vad.SilenceTimeout = durVar("VAD_SILENCE_TIMEOUT", vad.SilenceTimeout)

	cfg := config{
		port: env.Str("GATEWAY_PORT", "8000"),

		openaiKey:     env.Str("OPENAI_KEY", ""),
		openaiBaseURL: strings.TrimRight(env.Str("OPENAI_BASE_URL", "https://api.openai.com/v1"), "/"),

		asrEngine:        env.Str("ASR_ENGINE", "openai"),
		asrModel:         env.Str("ASR_MODEL", "whisper-1"),
		whisperServerURL: env.Str("WHISPER_SERVER_URL", ""),

		llmModel:        env.Str("LLM_MODEL", "gpt-4o-mini"),
		llmMaxTokens:    intVar("LLM_MAX_TOKENS", 300),
		llmSystemPrompt: env.Str("LLM_SYSTEM_PROMPT", ""),

		ttsEngine:         env.Str("TTS_ENGINE", "openai"),
		ttsModel:          env.Str("TTS_MODEL", "tts-1"),
		ttsVoice:          env.Str("TTS_VOICE", ""),
		piperURL:          env.Str("PIPER_URL", ""),
		elevenlabsAPIKey:  env.Str("ELEVENLABS_API_KEY", ""),
		elevenlabsVoiceID: env.Str("ELEVENLABS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),
		elevenlabsModelID: env.Str("ELEVENLABS_MODEL_ID", "eleven_multilingual_v2"),

		qdrantURL:         env.Str("QDRANT_URL", ""),
		qdrantCollection:  env.Str("QDRANT_COLLECTION", "knowledge_base"),
		embeddingModel:    env.Str("EMBEDDING_MODEL", "text-embedding-3-small"),
		ragTopK:           intVar("RAG_TOP_K", 3),
		ragScoreThreshold: floatVar("RAG_SCORE_THRESHOLD", 0),

		httpPoolSize:          intVar("HTTP_POOL_SIZE", 50),
		maxConcurrentSessions: intVar("MAX_CONCURRENT_SESSIONS", 100),
		pollInterval:          durVar("SESSION_POLL_INTERVAL", 100*time.Millisecond),
		idleTimeout:           durVar("SESSION_IDLE_TIMEOUT", 0),
		turnTimeout:           durVar("TURN_TIMEOUT", 60*time.Second),
		minTurnAudioBytes:     intVar("MIN_TURN_AUDIO_BYTES", audio.BytesPerSecond),
		serverVAD:             boolVar("SERVER_VAD_ENABLED", false),
		vadConfig:             vad,
		allowAnyOrigin:        boolVar("ALLOW_ANY_ORIGIN", true),
		defaultIdentity:       env.Str("DEFAULT_IDENTITY", "anonimo"),

		traceDatabaseURL: env.Str("TRACE_DATABASE_URL", ""),
	}

	if err := cfg.logLevel.UnmarshalText([]byte(env.Str("LOG_LEVEL", "info"))); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	errs = append(errs, cfg.validate())

	return cfg, errors.Join(errs...)
}

func (c config) validate() error {
	var errs []error
	if c.openaiKey == "" {
		errs = append(errs, errors.New("OPENAI_KEY is required"))
	}
	if !slices.Contains(asrEngines, c.asrEngine) {
		errs = append(errs, fmt.Errorf("ASR_ENGINE: %q not one of %v", c.asrEngine, asrEngines))
	}
	if c.asrEngine == "whisper-server" && c.whisperServerURL == "" {
		errs = append(errs, errors.New("WHISPER_SERVER_URL is required for ASR_ENGINE=whisper-server"))
	}
	if !slices.Contains(ttsEngines, c.ttsEngine) {
		errs = append(errs, fmt.Errorf("TTS_ENGINE: %q not one of %v", c.ttsEngine, ttsEngines))
	}
	if c.ttsEngine == "piper" && c.piperURL == "" {
		errs = append(errs, errors.New("PIPER_URL is required for TTS_ENGINE=piper"))
	}
	if c.ttsEngine == "elevenlabs" && c.elevenlabsAPIKey == "" {
		errs = append(errs, errors.New("ELEVENLABS_API_KEY is required for TTS_ENGINE=elevenlabs"))
	}
	if c.llmMaxTokens <= 0 {
		errs = append(errs, errors.New("LLM_MAX_TOKENS must be positive"))
	}
	if c.minTurnAudioBytes <= 0 {
		errs = append(errs, errors.New("MIN_TURN_AUDIO_BYTES must be positive"))
	}
	if c.pollInterval <= 0 {
		errs = append(errs, errors.New("SESSION_POLL_INTERVAL must be positive"))
	}
	if c.turnTimeout <= 0 {
		errs = append(errs, errors.New("TURN_TIMEOUT must be positive"))
	}
	if c.idleTimeout < 0 {
		errs = append(errs, errors.New("SESSION_IDLE_TIMEOUT must not be negative"))
	}
	if c.maxConcurrentSessions <= 0 {
		errs = append(errs, errors.New("MAX_CONCURRENT_SESSIONS must be positive"))
	}
	return errors.Join(errs...)
}
