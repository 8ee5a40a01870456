package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hubenschmidt/sdr-voice-agent/internal/pipeline"
	"github.com/hubenschmidt/sdr-voice-agent/internal/trace"
)

const (
	// defaultTraceSessionLimit is how many trace sessions are returned
	// when the caller omits the ?limit= query parameter.
	defaultTraceSessionLimit = 20
	maxTraceSessionLimit     = 200
)

// traceReader is the read side of the telemetry store.
type traceReader interface {
	ListSessions(ctx context.Context, limit, offset int) ([]trace.Session, int, error)
	GetSession(ctx context.Context, id string) (*trace.Session, []trace.Run, error)
	GetRun(ctx context.Context, sessionID, runID string) (*trace.Run, []trace.Span, error)
}

type deps struct {
	asr       *pipeline.Engines[pipeline.Transcriber]
	tts       *pipeline.Engines[pipeline.TTSSynthesizer]
	llmModel  string
	ragOn     bool
	wsHandler http.Handler
	traces    traceReader
}

func newRouter(d deps) http.Handler {
	r := chi.NewRouter()
	r.Handle("/ws/voice", d.wsHandler)
	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/api/engines", d.handleEngines)
	r.Get("/api/tts/health", d.handleTTSHealth)

	r.Route("/api/traces/sessions", func(r chi.Router) {
		r.Use(d.requireTracing)
		r.Get("/", d.handleListSessions)
		r.Get("/{id}", d.handleGetSession)
		r.Get("/{id}/runs/{runId}", d.handleGetRun)
	})
	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (d deps) handleEngines(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"asr": map[string]any{"active": d.asr.ActiveName(), "engines": d.asr.Names()},
		"llm": map[string]any{"active": d.llmModel, "rag": d.ragOn},
		"tts": map[string]any{"active": d.tts.ActiveName(), "engines": d.tts.Names()},
	})
}

func (d deps) handleTTSHealth(w http.ResponseWriter, r *http.Request) {
	engine := r.URL.Query().Get("engine")
	if engine == "" {
		engine = d.tts.ActiveName()
	}
	if !d.tts.Has(engine) {
		http.Error(w, "engine not available", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "engine": engine})
}

func (d deps) requireTracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d.traces == nil {
			http.Error(w, "tracing disabled", http.StatusNotFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (d deps) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := min(queryInt(r, "limit", defaultTraceSessionLimit), maxTraceSessionLimit)
	offset := queryInt(r, "offset", 0)
	sessions, total, err := d.traces.ListSessions(r.Context(), limit, offset)
	if err != nil {
		slog.Error("list trace sessions", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "total": total})
}

func (d deps) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, runs, err := d.traces.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondLookupError(w, "get trace session", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"session": sess, "runs": runs})
}

func (d deps) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, spans, err := d.traces.GetRun(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "runId"))
	if err != nil {
		respondLookupError(w, "get trace run", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"run": run, "spans": spans})
}

func respondLookupError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, trace.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	slog.Error(op, "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "error", err)
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
