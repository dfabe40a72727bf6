package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedEmbedder_QueryModeHitsCache(t *testing.T) {
	inner := newMockEmbedder(8)
	c := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	first, err := c.Embed(ctx, "warranty", ModeQuery)
	require.NoError(t, err)
	second, err := c.Embed(ctx, "warranty", ModeQuery)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), inner.embedCalls.Load())
}

func TestCachedEmbedder_DocumentModePassesThrough(t *testing.T) {
	inner := newMockEmbedder(8)
	c := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	_, _ = c.Embed(ctx, "warranty", ModeDocument)
	_, _ = c.Embed(ctx, "warranty", ModeDocument)

	assert.Equal(t, int64(2), inner.embedCalls.Load())
}

func TestCachedEmbedder_BatchOnlySendsMisses(t *testing.T) {
	inner := newMockEmbedder(8)
	c := NewCachedEmbedder(inner, 10)
	ctx := context.Background()
	_, err := c.Embed(ctx, "a", ModeQuery)
	require.NoError(t, err)

	out, err := c.EmbedBatch(ctx, []string{"a", "b"}, ModeQuery)

	require.NoError(t, err)
	assert.Len(t, out, 2)
	// one call for the warm-up, one for "b" inside the batch
	assert.Equal(t, int64(2), inner.embedCalls.Load())
}

func TestCachedEmbedder_ErrorsAreNotCached(t *testing.T) {
	inner := newMockEmbedder(8)
	inner.err = assert.AnError
	inner.failFirst = 1
	c := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	_, err := c.Embed(ctx, "x", ModeQuery)
	require.Error(t, err)
	vec, err := c.Embed(ctx, "x", ModeQuery)

	require.NoError(t, err)
	assert.Len(t, vec, 8)
}

func TestCachedEmbedder_Passthrough(t *testing.T) {
	inner := newMockEmbedder(8)
	c := NewCachedEmbedder(inner, 0)

	assert.Equal(t, 8, c.Dimensions())
	assert.Equal(t, "mock-model", c.ModelName())
	assert.True(t, c.Available(context.Background()))
	assert.Same(t, inner, c.Inner())
}
