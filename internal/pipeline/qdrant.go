package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// QdrantClient reads a prebuilt Qdrant collection over the REST API.
// It never writes to the collection.
type QdrantClient struct {
	baseURL string
	client  *http.Client
}

func NewQdrantClient(baseURL string, client *http.Client) *QdrantClient {
	return &QdrantClient{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Hit is one nearest-neighbour match. Text is the chunk stored under the
// payload's "text" or "page_content" key, empty when neither is present.
type Hit struct {
	ID    any
	Score float64
	Text  string
}

// CollectionInfo is the subset of collection metadata checked at startup.
type CollectionInfo struct {
	Status string
	Points int
}

// Query returns up to limit points nearest to vector, best first.
func (q *QdrantClient) Query(ctx context.Context, collection string, vector []float64, limit int, scoreThreshold float64) ([]Hit, error) {
	in := queryRequest{Query: vector, Limit: limit, WithPayload: true}
	if scoreThreshold > 0 {
		in.ScoreThreshold = &scoreThreshold
	}
	var out struct {
		Points []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"points"`
	}
	if err := q.do(ctx, http.MethodPost, "/collections/"+url.PathEscape(collection)+"/points/query", in, &out); err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}

	hits := make([]Hit, 0, len(out.Points))
	for _, p := range out.Points {
		hits = append(hits, Hit{ID: p.ID, Score: p.Score, Text: payloadText(p.Payload)})
	}
	return hits, nil
}

// Collection reports the collection's status and point count.
func (q *QdrantClient) Collection(ctx context.Context, collection string) (CollectionInfo, error) {
	var out struct {
		Status      string `json:"status"`
		PointsCount int    `json:"points_count"`
	}
	if err := q.do(ctx, http.MethodGet, "/collections/"+url.PathEscape(collection), nil, &out); err != nil {
		return CollectionInfo{}, fmt.Errorf("collection %s: %w", collection, err)
	}
	return CollectionInfo{Status: out.Status, Points: out.PointsCount}, nil
}

type queryRequest struct {
	Query          []float64 `json:"query"`
	Limit          int       `json:"limit"`
	ScoreThreshold *float64  `json:"score_threshold,omitempty"`
	WithPayload    bool      `json:"with_payload"`
}

// do sends one request and unwraps Qdrant's {"result": ..., "status": ...}
// envelope into out.
func (q *QdrantClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env struct {
		Result json.RawMessage `json:"result"`
		Status json.RawMessage `json:"status"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, statusError(env.Status))
	}
	if decodeErr != nil {
		return fmt.Errorf("decode: %w", decodeErr)
	}
	return json.Unmarshal(env.Result, out)
}

// statusError extracts the message from {"status": {"error": "..."}}.
func statusError(raw json.RawMessage) string {
	var s struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &s) == nil && s.Error != "" {
		return s.Error
	}
	return "no error detail"
}

func payloadText(payload map[string]any) string {
	for _, key := range []string{"text", "page_content"} {
		if s, ok := payload[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
