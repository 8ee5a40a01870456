package ws

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/sdr-voice-agent/internal/metrics"
)

const defaultIdentity = "anonimo"

// HandlerConfig configures the websocket entry point.
type HandlerConfig struct {
	Controller    *Controller
	MaxConcurrent int
	// AllowAnyOrigin skips the same-origin check on upgrade.
	AllowAnyOrigin bool
	// DefaultIdentity labels sessions that connect without ?username=.
	DefaultIdentity string
}

// Handler upgrades voice connections with admission control.
type Handler struct {
	cfg      HandlerConfig
	sem      chan struct{}
	upgrader websocket.Upgrader
}

// NewHandler creates a WebSocket handler with a concurrency limit.
func NewHandler(cfg HandlerConfig) *Handler {
	maxConc := cfg.MaxConcurrent
	if maxConc <= 0 {
		maxConc = 100
	}
	if cfg.DefaultIdentity == "" {
		cfg.DefaultIdentity = defaultIdentity
	}
	h := &Handler{
		cfg: cfg,
		sem: make(chan struct{}, maxConc),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16384,
			WriteBufferSize: 16384,
		},
	}
	if cfg.AllowAnyOrigin {
		h.upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}
	return h
}

// ServeHTTP upgrades the connection and runs the session to completion.
// Returns 503 if at max concurrent session capacity.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case h.sem <- struct{}{}:
		defer func() { <-h.sem }()
	default:
		metrics.SessionsRejected.Inc()
		http.Error(w, "at capacity", http.StatusServiceUnavailable)
		return
	}

	identity := strings.TrimSpace(r.URL.Query().Get("username"))
	if identity == "" {
		identity = h.cfg.DefaultIdentity
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	metrics.SessionsActive.Inc()
	metrics.SessionsTotal.Inc()
	defer metrics.SessionsActive.Dec()

	h.cfg.Controller.Run(r.Context(), conn, identity)
}
