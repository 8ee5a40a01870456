package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v2"

	"github.com/hubenschmidt/sdr-voice-agent/internal/metrics"
)

// Embedder maps text to a vector in the knowledge base's embedding space.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// OpenAIEmbedder generates embeddings via the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client openai.Client
	model  string
}

// NewOpenAIEmbedder creates an embedder. An empty model selects text-embedding-3-small.
func NewOpenAIEmbedder(client openai.Client, model string) *OpenAIEmbedder {
	if model == "" {
		model = string(openai.EmbeddingModelTextEmbedding3Small)
	}
	return &OpenAIEmbedder{client: client, model: model}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	start := time.Now()

	res, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		metrics.Errors.WithLabelValues("embedding", "api").Inc()
		return nil, fmt.Errorf("embed request: %w", err)
	}
	if len(res.Data) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}

	metrics.EmbeddingDuration.Observe(time.Since(start).Seconds())
	return res.Data[0].Embedding, nil
}
