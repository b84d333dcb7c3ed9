// Package retrieve implements two-stage hybrid retrieval: a dense+sparse
// candidate search over the coarsest chunk level, then cross-encoder
// reranking. Reranking is best-effort; when it fails the stage-one order is
// returned so a query never fails because the reranker is down.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/efebarandurmaz/sage/internal/embed"
	"github.com/efebarandurmaz/sage/internal/observability"
	"github.com/efebarandurmaz/sage/internal/rerank"
	"github.com/efebarandurmaz/sage/internal/sparse"
	"github.com/efebarandurmaz/sage/internal/vector"
)

const (
	// CandidateTopK is how many coarse chunks stage one retrieves.
	CandidateTopK = 50
	// FinalTopK is how many results a query returns after reranking.
	FinalTopK = 10
)

// Result is one retrieved chunk. Score is the stage-one hybrid score;
// RerankScore is the cross-encoder score when reranking succeeded.
type Result struct {
	ID          string
	Text        string
	Score       float32
	RerankScore float64
	Reranked    bool
	Meta        vector.Meta
}

// Retriever runs hybrid queries against one namespace-partitioned store.
type Retriever struct {
	store         vector.Store
	registry      *embed.Registry
	bm25          *sparse.Encoder
	scorer        rerank.Scorer // nil disables reranking
	coarsestLevel int
}

// New creates a Retriever. The sparse encoder must be a fitted model loaded
// from the ingestion artifact.
func New(store vector.Store, registry *embed.Registry, bm25 *sparse.Encoder, scorer rerank.Scorer, coarsestLevel int) *Retriever {
	return &Retriever{
		store:         store,
		registry:      registry,
		bm25:          bm25,
		scorer:        scorer,
		coarsestLevel: coarsestLevel,
	}
}

// Search runs stage one only: hybrid candidate retrieval in stage-one score
// order, restricted to the coarsest chunk level.
func (r *Retriever) Search(ctx context.Context, namespace, model, query string) ([]Result, error) {
	ctx, span := observability.StartRetrievalSpan(ctx, namespace, model)
	defer span.End()

	results, err := r.search(ctx, namespace, model, query)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	observability.RecordRetrievalResult(span, len(results), len(results), false)
	return results, nil
}

func (r *Retriever) search(ctx context.Context, namespace, model, query string) ([]Result, error) {
	encoder, err := r.registry.Encoder(model)
	if err != nil {
		return nil, err
	}

	dense, err := encoder.EncodeQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("encoding query: %w", err)
	}

	sparseVec, err := r.bm25.EncodeQuery(query)
	if err != nil {
		return nil, fmt.Errorf("sparse-encoding query: %w", err)
	}
	if sparseVec.IsEmpty() {
		slog.Debug("query has no fitted vocabulary, dense-only search", "query", query)
	}

	matches, err := r.store.Query(ctx, vector.Query{
		Namespace: vector.SanitizeNamespace(namespace),
		Dense:     dense,
		Sparse:    sparseVec,
		Level:     r.coarsestLevel,
		TopK:      CandidateTopK,
	})
	if err != nil {
		return nil, fmt.Errorf("querying store: %w", err)
	}

	results := make([]Result, len(matches))
	for i, m := range matches {
		results[i] = Result{
			ID:    m.ID,
			Text:  m.Meta.Text,
			Score: m.Score,
			Meta:  m.Meta,
		}
	}
	return results, nil
}

// SearchAndRerank runs both stages and returns at most FinalTopK results.
// When the reranker is unconfigured or fails, the stage-one order is kept and
// truncated; the results carry Reranked=false so callers can tell.
func (r *Retriever) SearchAndRerank(ctx context.Context, namespace, model, query string) ([]Result, error) {
	ctx, span := observability.StartRetrievalSpan(ctx, namespace, model)
	defer span.End()
	started := time.Now()

	results, err := r.search(ctx, namespace, model, query)
	observability.Metrics().RecordQuery(time.Since(started), err)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	candidates := len(results)

	reranked := r.rerankResults(ctx, query, results)
	if len(reranked) > FinalTopK {
		reranked = reranked[:FinalTopK]
	}

	wasReranked := len(reranked) > 0 && reranked[0].Reranked
	observability.RecordRetrievalResult(span, candidates, len(reranked), wasReranked)
	return reranked, nil
}

// rerankResults scores results with the cross-encoder and stable-sorts them
// by descending score. Stage-one order is the tiebreak and the fallback.
func (r *Retriever) rerankResults(ctx context.Context, query string, results []Result) []Result {
	if len(results) == 0 {
		return results
	}
	if r.scorer == nil {
		slog.Warn("no reranker configured, returning retrieval order")
		observability.Metrics().RecordRerankFallback()
		return results
	}

	ctx, span := observability.StartRerankSpan(ctx, r.scorer.Name(), len(results))
	defer span.End()

	texts := make([]string, len(results))
	for i, res := range results {
		texts[i] = res.Text
	}

	scores, err := r.scorer.Score(ctx, query, texts)
	if err != nil || len(scores) != len(results) {
		if err == nil {
			err = fmt.Errorf("reranker returned %d scores for %d results", len(scores), len(results))
		}
		observability.RecordError(span, err)
		slog.Warn("reranking failed, returning retrieval order", "error", err)
		observability.Metrics().RecordRerankFallback()
		return results
	}

	for i := range results {
		results[i].RerankScore = scores[i]
		results[i].Reranked = true
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RerankScore > results[j].RerankScore
	})
	return results
}
