package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hubenschmidt/sdr-voice-agent/internal/metrics"
)

const defaultTopK = 3

// Retriever looks up knowledge base context for a query.
type Retriever interface {
	RetrieveContext(ctx context.Context, query string) (string, error)
}

// RAGConfig holds configuration for the RAG client.
type RAGConfig struct {
	Embedder       Embedder
	Qdrant         *QdrantClient
	Collection     string
	TopK           int
	ScoreThreshold float64
}

// RAGClient retrieves product chunks for the latest utterance.
type RAGClient struct {
	cfg RAGConfig
}

func NewRAGClient(cfg RAGConfig) *RAGClient {
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	return &RAGClient{cfg: cfg}
}

// RetrieveContext returns the matching chunks separated by blank lines, or
// "" when nothing in the collection is close enough.
func (r *RAGClient) RetrieveContext(ctx context.Context, query string) (string, error) {
	start := time.Now()
	defer func() { metrics.RAGDuration.Observe(time.Since(start).Seconds()) }()

	vector, err := r.cfg.Embedder.Embed(ctx, query)
	if err != nil {
		return "", fmt.Errorf("embed query: %w", err)
	}

	hits, err := r.cfg.Qdrant.Query(ctx, r.cfg.Collection, vector, r.cfg.TopK, r.cfg.ScoreThreshold)
	if err != nil {
		metrics.Errors.WithLabelValues("rag", "search").Inc()
		return "", err
	}
	return joinHits(hits), nil
}

// CheckCollection reports how many points the collection holds. The index
// is built offline; an empty one only degrades replies.
func (r *RAGClient) CheckCollection(ctx context.Context) (int, error) {
	info, err := r.cfg.Qdrant.Collection(ctx, r.cfg.Collection)
	if err != nil {
		return 0, err
	}
	return info.Points, nil
}

func joinHits(hits []Hit) string {
	var b strings.Builder
	for _, h := range hits {
		if h.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(h.Text)
	}
	return b.String()
}
