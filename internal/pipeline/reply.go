package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hubenschmidt/sdr-voice-agent/internal/metrics"
	"github.com/hubenschmidt/sdr-voice-agent/internal/prompts"
)

// ReplyGenerator produces the assistant's next utterance from the full history.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, history []Message) (string, error)
}

// ErrEmptyReply is returned when the model produced no text.
var ErrEmptyReply = errors.New("empty reply")

// RAGReplyGenerator grounds the model on knowledge base context retrieved
// for the latest user utterance. Retrieval is best-effort.
type RAGReplyGenerator struct {
	retriever    Retriever
	model        ChatModel
	systemPrompt string
	logger       *slog.Logger
}

// NewRAGReplyGenerator creates a generator. retriever may be nil to disable retrieval.
func NewRAGReplyGenerator(model ChatModel, retriever Retriever, systemPrompt string, logger *slog.Logger) *RAGReplyGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &RAGReplyGenerator{
		retriever:    retriever,
		model:        model,
		systemPrompt: prompts.ForSession(systemPrompt),
		logger:       logger,
	}
}

func (g *RAGReplyGenerator) GenerateReply(ctx context.Context, history []Message) (string, error) {
	query := LatestUser(history)
	if query == "" {
		return "", fmt.Errorf("generate reply: history has no user utterance")
	}

	instructions := prompts.WithContext(g.systemPrompt, g.retrieve(ctx, query))

	reply, err := g.model.Chat(ctx, instructions, FormatDialogue(history))
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		metrics.Errors.WithLabelValues("llm", "empty").Inc()
		return "", ErrEmptyReply
	}
	return reply, nil
}

func (g *RAGReplyGenerator) retrieve(ctx context.Context, query string) string {
	if g.retriever == nil {
		return ""
	}
	start := time.Now()
	kb, err := g.retriever.RetrieveContext(ctx, query)
	if err != nil {
		g.logger.Warn("rag retrieval failed, continuing without context", "error", err)
		return ""
	}
	metrics.StageDuration.WithLabelValues("rag").Observe(time.Since(start).Seconds())
	return kb
}
