package embed

import (
	"context"
	"math"
	"sync/atomic"
)

// cosineSimilarity computes cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// mockEmbedder is a test double that counts calls and can be told to fail
// or return a fixed vector.
type mockEmbedder struct {
	embedCalls atomic.Int64
	batchCalls atomic.Int64
	dims       int
	model      string
	vec        []float32

	// failFirst makes the first n Embed calls fail.
	failFirst int64
	err       error
}

func newMockEmbedder(dims int) *mockEmbedder {
	vec := make([]float32, dims)
	for i := range vec {
		vec[i] = float32(i+1) * 0.001
	}
	return &mockEmbedder{dims: dims, model: "mock-model", vec: vec}
}

func (m *mockEmbedder) Embed(_ context.Context, text string, _ Mode) ([]float32, error) {
	n := m.embedCalls.Add(1)
	if text == "" {
		return nil, ErrEmptyInput
	}
	if m.err != nil && (m.failFirst == 0 || n <= m.failFirst) {
		return nil, m.err
	}
	return m.vec, nil
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string, mode Mode) ([][]float32, error) {
	m.batchCalls.Add(1)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.Embed(ctx, t, mode)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *mockEmbedder) Dimensions() int                { return m.dims }
func (m *mockEmbedder) ModelName() string              { return m.model }
func (m *mockEmbedder) Available(context.Context) bool { return true }
func (m *mockEmbedder) Close() error                   { return nil }
