package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/hubenschmidt/sdr-voice-agent/internal/pipeline"
	"github.com/hubenschmidt/sdr-voice-agent/internal/trace"
	"github.com/hubenschmidt/sdr-voice-agent/internal/ws"
)

const shutdownTimeout = 30 * time.Second

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("load .env", "error", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backendHTTP := pipeline.NewPooledHTTPClient(cfg.httpPoolSize, 60*time.Second)
	oa := openai.NewClient(
		option.WithAPIKey(cfg.openaiKey),
		option.WithBaseURL(cfg.openaiBaseURL+"/"),
		option.WithHTTPClient(backendHTTP),
	)

	asr, err := newTranscription(cfg, oa, backendHTTP)
	if err != nil {
		slog.Error("transcription setup", "error", err)
		os.Exit(1)
	}
	tts, err := newSpeech(cfg, backendHTTP)
	if err != nil {
		slog.Error("synthesis setup", "error", err)
		os.Exit(1)
	}
	retriever := newRetriever(ctx, cfg, oa, backendHTTP)

	llm := pipeline.NewAgentLLM(pipeline.AgentLLMConfig{
		APIKey:    cfg.openaiKey,
		BaseURL:   cfg.openaiBaseURL + "/",
		Model:     cfg.llmModel,
		MaxTokens: cfg.llmMaxTokens,
	})

	store := openTraceStore(ctx, cfg)
	if store != nil {
		defer store.Close()
	}

	ctrlCfg := ws.ControllerConfig{
		Transcriber:       asr,
		Generator:         pipeline.NewRAGReplyGenerator(llm, retriever, cfg.llmSystemPrompt, slog.Default()),
		Synthesizer:       tts,
		MinTurnAudioBytes: cfg.minTurnAudioBytes,
		PollInterval:      cfg.pollInterval,
		IdleTimeout:       cfg.idleTimeout,
		TurnTimeout:       cfg.turnTimeout,
		ServerVAD:         cfg.serverVAD,
		VADConfig:         cfg.vadConfig,
	}
	if store != nil {
		ctrlCfg.Trace = store
	}
	controller := ws.NewController(ctrlCfg)

	handler := ws.NewHandler(ws.HandlerConfig{
		Controller:      controller,
		MaxConcurrent:   cfg.maxConcurrentSessions,
		AllowAnyOrigin:  cfg.allowAnyOrigin,
		DefaultIdentity: cfg.defaultIdentity,
	})

	d := deps{
		asr:       asr.Engines,
		tts:       tts.Engines,
		llmModel:  cfg.llmModel,
		ragOn:     retriever != nil,
		wsHandler: handler,
	}
	if store != nil {
		d.traces = store
	}

	addr := ":" + cfg.port
	srv := &http.Server{
		Addr:        addr,
		Handler:     newRouter(d),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown", "error", err)
		}
	}()

	slog.Info("gateway starting",
		"addr", addr,
		"asr_engine", cfg.asrEngine,
		"tts_engine", cfg.ttsEngine,
		"llm_model", cfg.llmModel,
		"rag", retriever != nil,
		"server_vad", cfg.serverVAD,
		"max_concurrent", cfg.maxConcurrentSessions,
	)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	waitForTurns(controller, shutdownTimeout)
	slog.Info("gateway stopped")
}

func newTranscription(cfg config, oa openai.Client, client *http.Client) (*pipeline.Transcription, error) {
	backends := map[string]pipeline.Transcriber{
		"openai": pipeline.NewOpenAIWhisper(oa, cfg.asrModel),
	}
	if cfg.whisperServerURL != "" {
		backends["whisper-server"] = pipeline.NewWhisperServer(cfg.whisperServerURL, client)
	}
	return pipeline.NewTranscription(cfg.asrEngine, backends)
}

// newSpeech registers every synthesis backend that has its settings.
// TTS_VOICE overrides the voice of whichever engine is active.
func newSpeech(cfg config, client *http.Client) (*pipeline.SpeechEngines, error) {
	backends := map[string]pipeline.TTSSynthesizer{
		"openai": pipeline.NewOpenAISynthesizer(cfg.openaiBaseURL, cfg.openaiKey, cfg.ttsModel, "alloy", client),
	}
	if cfg.piperURL != "" {
		backends["piper"] = pipeline.NewPiperSynthesizer(cfg.piperURL, "pt_BR-faber-medium", client)
	}
	if cfg.elevenlabsAPIKey != "" {
		backends["elevenlabs"] = pipeline.NewElevenLabsSynthesizer(cfg.elevenlabsAPIKey, cfg.elevenlabsVoiceID, cfg.elevenlabsModelID, client)
	}
	return pipeline.NewSpeechEngines(cfg.ttsEngine, backends, pipeline.TTSOptions{Voice: cfg.ttsVoice}, slog.Default())
}

// newRetriever returns nil when retrieval is not configured. The collection
// is only inspected, never created or written.
func newRetriever(ctx context.Context, cfg config, oa openai.Client, client *http.Client) pipeline.Retriever {
	if cfg.qdrantURL == "" {
		slog.Info("rag disabled, QDRANT_URL not set")
		return nil
	}

	rag := pipeline.NewRAGClient(pipeline.RAGConfig{
		Embedder:       pipeline.NewOpenAIEmbedder(oa, cfg.embeddingModel),
		Qdrant:         pipeline.NewQdrantClient(cfg.qdrantURL, client),
		Collection:     cfg.qdrantCollection,
		TopK:           cfg.ragTopK,
		ScoreThreshold: cfg.ragScoreThreshold,
	})

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	points, err := rag.CheckCollection(initCtx)
	switch {
	case err != nil:
		slog.Warn("qdrant collection check failed", "collection", cfg.qdrantCollection, "error", err)
	case points == 0:
		slog.Warn("qdrant collection is empty, replies will have no context", "collection", cfg.qdrantCollection)
	default:
		slog.Info("rag enabled", "qdrant", cfg.qdrantURL, "collection", cfg.qdrantCollection, "points", points)
	}
	return rag
}

func openTraceStore(ctx context.Context, cfg config) *trace.Store {
	if cfg.traceDatabaseURL == "" {
		return nil
	}
	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	store, err := trace.Open(initCtx, cfg.traceDatabaseURL)
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
		return nil
	}
	slog.Info("tracing enabled")
	return store
}

func waitForTurns(c *ws.Controller, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		c.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		slog.Warn("turns still running at exit")
	}
}
