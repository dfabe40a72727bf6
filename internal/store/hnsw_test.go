package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hrerrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

func newTestHNSW(t *testing.T) *HNSWStore {
	t.Helper()
	s, err := NewHNSWStore(HNSWConfig{Dimensions: 3})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestHNSWStore_SearchOrdersByDistance(t *testing.T) {
	// Given: three orthogonal-ish vectors
	s := newTestHNSW(t)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx,
		[]string{"x", "y", "xy"},
		[][]float32{{1, 0, 0}, {0, 1, 0}, {1, 1, 0}}))

	// When: searching near x
	res, err := s.SearchVector(ctx, []float32{2, 0.1, 0}, 3)

	// Then: x is closest, y furthest, and similarity is 1 - distance
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, "x", res[0].ID)
	assert.Equal(t, "xy", res[1].ID)
	assert.Equal(t, "y", res[2].ID)
	for _, r := range res {
		assert.InDelta(t, 1-r.Distance, r.Similarity, 1e-6)
	}
}

func TestHNSWStore_ReplaceAndDelete(t *testing.T) {
	s := newTestHNSW(t)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, []string{"a", "b"}, [][]float32{{1, 0, 0}, {0, 1, 0}}))

	// Replacing a orphans its old node.
	require.NoError(t, s.Add(ctx, []string{"a"}, [][]float32{{0, 0, 1}}))
	assert.Equal(t, 2, s.Count())
	assert.Equal(t, 1, s.Stats().Orphans)

	res, err := s.SearchVector(ctx, []float32{0, 0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "a", res[0].ID)

	require.NoError(t, s.Delete(ctx, []string{"a"}))
	assert.False(t, s.Contains("a"))

	res, err = s.SearchVector(ctx, []float32{0, 0, 1}, 5)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "b", res[0].ID)
}

func TestHNSWStore_DimensionMismatch(t *testing.T) {
	s := newTestHNSW(t)
	err := s.Add(context.Background(), []string{"a"}, [][]float32{{1, 2}})
	assert.ErrorIs(t, err, hrerrors.ErrDimensionMismatch)

	_, err = s.SearchVector(context.Background(), []float32{1}, 1)
	assert.ErrorIs(t, err, hrerrors.ErrDimensionMismatch)
}

func TestHNSWStore_Empty(t *testing.T) {
	s := newTestHNSW(t)
	res, err := s.SearchVector(context.Background(), []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestHNSWStore_SaveLoad(t *testing.T) {
	// Given: a saved graph
	path := filepath.Join(t.TempDir(), "vectors.hnsw")
	s := newTestHNSW(t)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, []string{"a", "b"}, [][]float32{{1, 0, 0}, {0, 1, 0}}))
	require.NoError(t, s.Save(path))

	// When: loading into a fresh store
	loaded := newTestHNSW(t)
	require.NoError(t, loaded.Load(path))

	// Then: the mapping and graph are restored
	assert.Equal(t, 2, loaded.Count())
	res, err := loaded.SearchVector(ctx, []float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "b", res[0].ID)

	// And: a store with other dimensions refuses the file
	other, err := NewHNSWStore(HNSWConfig{Dimensions: 4})
	require.NoError(t, err)
	assert.Error(t, other.Load(path))
}

func TestNewHNSWStore_RequiresDimensions(t *testing.T) {
	_, err := NewHNSWStore(HNSWConfig{})
	assert.Error(t, err)
}
