package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/Aman-CERP/hybridrag/internal/embed"
)

// RerankResult is one scored document.
type RerankResult struct {
	// Index is the position in the input documents slice.
	Index int
	// Score is the relevance score; larger is better.
	Score    float64
	Document string
}

// Reranker rescores fused candidates against the query. It runs after RRF
// and only when configured; without one the fused order is final.
type Reranker interface {
	// Rerank returns documents sorted by score descending. topK > 0 keeps
	// only the best topK.
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error)

	// Available reports whether the scorer can be reached.
	Available(ctx context.Context) bool

	Close() error
}

// NoOpReranker keeps the input order with decreasing scores.
type NoOpReranker struct{}

// Rerank returns documents in input order.
func (n *NoOpReranker) Rerank(_ context.Context, _ string, documents []string, topK int) ([]RerankResult, error) {
	results := make([]RerankResult, len(documents))
	for i, doc := range documents {
		results[i] = RerankResult{Index: i, Score: 1.0 - float64(i)*0.01, Document: doc}
	}
	return limitTopK(results, topK), nil
}

// Available always returns true.
func (n *NoOpReranker) Available(_ context.Context) bool { return true }

// Close is a no-op.
func (n *NoOpReranker) Close() error { return nil }

// EmbeddingReranker scores each document by the cosine similarity of its
// document-mode embedding to the query-mode embedding. It works with any
// embed provider, so hosted OpenAI-compatible models and the offline
// static embedder both serve.
type EmbeddingReranker struct {
	embedder embed.Embedder
	maxChars int
}

// NewEmbeddingReranker scores with embedder. Documents are cut to maxChars
// runes before embedding; 0 uses embed.DefaultMaxInputChars.
func NewEmbeddingReranker(embedder embed.Embedder, maxChars int) *EmbeddingReranker {
	if maxChars <= 0 {
		maxChars = embed.DefaultMaxInputChars
	}
	return &EmbeddingReranker{embedder: embedder, maxChars: maxChars}
}

// Rerank embeds the query and every document, then sorts by similarity.
// Vectors that cannot be compared score -1 and keep their relative order.
func (r *EmbeddingReranker) Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error) {
	if r.embedder == nil {
		return nil, errors.New("reranker has no embedder")
	}
	if len(documents) == 0 {
		return nil, nil
	}

	qv, err := r.embedder.Embed(ctx, embed.TruncateInput(query, r.maxChars), embed.ModeQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	texts := make([]string, len(documents))
	for i, d := range documents {
		texts[i] = embed.TruncateInput(d, r.maxChars)
	}
	vecs, err := r.embedder.EmbedBatch(ctx, texts, embed.ModeDocument)
	if err != nil {
		return nil, fmt.Errorf("embed documents: %w", err)
	}
	if len(vecs) != len(documents) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d documents", len(vecs), len(documents))
	}

	results := make([]RerankResult, len(documents))
	for i, v := range vecs {
		results[i] = RerankResult{Index: i, Score: cosine(qv, v), Document: documents[i]}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return limitTopK(results, topK), nil
}

// Available reports whether the embedder is reachable.
func (r *EmbeddingReranker) Available(ctx context.Context) bool {
	return r.embedder != nil && r.embedder.Available(ctx)
}

// Close is a no-op; the embedder belongs to the caller.
func (r *EmbeddingReranker) Close() error { return nil }

var (
	_ Reranker = (*NoOpReranker)(nil)
	_ Reranker = (*EmbeddingReranker)(nil)
)

func limitTopK(results []RerankResult, topK int) []RerankResult {
	if topK > 0 && topK < len(results) {
		return results[:topK]
	}
	return results
}

// cosine returns -1 for vectors that cannot be compared.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return -1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return -1
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
