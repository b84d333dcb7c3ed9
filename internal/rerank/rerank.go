// Package rerank scores query/passage pairs with a cross-encoder service.
// Scoring failures are reported to the caller, which degrades to the
// retrieval order instead of failing the query.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultBatchSize is the number of pairs scored per request. Cross-encoders
// run a full forward pass per pair, so batches stay small.
const DefaultBatchSize = 8

// Scorer scores passages against a query. Higher is more relevant.
type Scorer interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
	Name() string
}

// Config configures the cross-encoder client.
type Config struct {
	Model     string
	Endpoint  string
	APIKey    string
	Timeout   time.Duration
	BatchSize int
}

// DefaultConfig returns the default cross-encoder setup.
func DefaultConfig() Config {
	return Config{
		Model:     "cross-encoder/ms-marco-MiniLM-L-6-v2",
		Timeout:   30 * time.Second,
		BatchSize: DefaultBatchSize,
	}
}

// CrossEncoder scores pairs against an HTTP cross-encoder endpoint.
type CrossEncoder struct {
	config Config
	http   *http.Client
}

var _ Scorer = (*CrossEncoder)(nil)

// NewCrossEncoder creates a cross-encoder client.
func NewCrossEncoder(config Config) *CrossEncoder {
	if config.Model == "" {
		config.Model = DefaultConfig().Model
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	return &CrossEncoder{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
	}
}

// Name returns the configured model name.
func (c *CrossEncoder) Name() string { return c.config.Model }

// Score returns one relevance score per text, in input order. Requests are
// batched; any batch failure fails the whole call so the caller can fall
// back to retrieval order consistently.
func (c *CrossEncoder) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	if c.config.Endpoint == "" {
		return nil, fmt.Errorf("rerank: no endpoint configured")
	}

	pairs := make([][2]string, len(texts))
	for i, text := range texts {
		pairs[i] = [2]string{query, text}
	}

	scores := make([]float64, 0, len(texts))
	for start := 0; start < len(pairs); start += c.config.BatchSize {
		end := start + c.config.BatchSize
		if end > len(pairs) {
			end = len(pairs)
		}
		batch, err := c.scoreBatch(ctx, pairs[start:end])
		if err != nil {
			return nil, fmt.Errorf("scoring batch %d-%d: %w", start, end, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("rerank: got %d scores for %d pairs", len(batch), end-start)
		}
		scores = append(scores, batch...)
	}
	return scores, nil
}

func (c *CrossEncoder) scoreBatch(ctx context.Context, pairs [][2]string) ([]float64, error) {
	body, err := json.Marshal(map[string]any{
		"model": c.config.Model,
		"pairs": pairs,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("reranker returned %s: %s", resp.Status, respBody)
	}

	var result struct {
		Scores []float64 `json:"scores"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return result.Scores, nil
}
