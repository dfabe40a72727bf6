package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/hybridrag/internal/embed"
)

func TestNoOpReranker_PreservesOrder(t *testing.T) {
	r := &NoOpReranker{}

	results, err := r.Rerank(context.Background(), "query", []string{"a", "b", "c"}, 0)

	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, res := range results {
		assert.Equal(t, i, res.Index)
	}
	assert.Greater(t, results[0].Score, results[1].Score)

	results, err = r.Rerank(context.Background(), "query", []string{"a", "b", "c"}, 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestEmbeddingReranker_OrdersBySimilarity(t *testing.T) {
	// Given: documents from unrelated concepts
	emb := &conceptEmbedder{}
	r := NewEmbeddingReranker(emb, 0)
	docs := []string{
		"Wireless Bluetooth Headphones",
		"Stainless steel coffee grinder",
		"Two year warranty on repairs",
	}

	// When: reranking for a coffee question
	results, err := r.Rerank(context.Background(), "espresso beans", docs, 0)

	// Then: the coffee document comes first
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 1, results[0].Index)
	assert.Equal(t, docs[1], results[0].Document)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}

	// And: the query is embedded in query mode, documents in document mode
	assert.Equal(t, embed.ModeQuery, emb.modes[0])
	assert.Equal(t, embed.ModeDocument, emb.modes[1])
}

func TestEmbeddingReranker_TopKAndEmpty(t *testing.T) {
	r := NewEmbeddingReranker(&conceptEmbedder{}, 0)

	results, err := r.Rerank(context.Background(), "coffee", []string{"coffee", "headphones", "gift"}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0, results[0].Index)

	results, err = r.Rerank(context.Background(), "coffee", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEmbeddingReranker_NoEmbedder(t *testing.T) {
	r := NewEmbeddingReranker(nil, 0)

	assert.False(t, r.Available(context.Background()))
	_, err := r.Rerank(context.Background(), "coffee", []string{"x"}, 0)
	assert.Error(t, err)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, -1.0, cosine(nil, []float32{1}))
	assert.Equal(t, -1.0, cosine([]float32{0, 0}, []float32{1, 0}))
}
