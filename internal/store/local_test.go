package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hrerrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

func localConfig(dir, lexical string) LocalConfig {
	return LocalConfig{
		CatalogPath:    filepath.Join(dir, "catalog.db"),
		VectorPath:     filepath.Join(dir, "vectors.hnsw"),
		BlevePath:      filepath.Join(dir, "lexical.bleve"),
		LexicalBackend: lexical,
		Dimensions:     3,
		EmbeddingModel: "test",
	}
}

func embeddedEntries() []*Entry {
	p1 := doc("p1", "Wireless headphones")
	p1.Embedding = []float32{1, 0, 0}
	p2 := doc("p2", "Coffee grinder")
	p2.Embedding = []float32{0, 1, 0}
	k1 := knowledge("k1", "p1", "Headphone warranty", "support_agent")
	return []*Entry{p1, p2, k1}
}

func TestLocal_RebuildsVectorIndexFromCatalog(t *testing.T) {
	// Given: a backend written and closed, then its vector file removed
	dir := t.TempDir()
	ctx := context.Background()
	l, err := OpenLocal(ctx, localConfig(dir, LexicalSQLite))
	require.NoError(t, err)
	require.NoError(t, l.UpsertBatch(ctx, embeddedEntries()))
	require.NoError(t, l.Close())
	require.NoError(t, os.Remove(filepath.Join(dir, "vectors.hnsw")))

	// When: reopening
	l, err = OpenLocal(ctx, localConfig(dir, LexicalSQLite))
	require.NoError(t, err)
	defer l.Close()

	// Then: vectors are rebuilt and the entry without one is not indexed
	st, err := l.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Vectors)
	assert.Equal(t, 2, st.Embedded)

	res, err := l.SearchVector(ctx, []float32{0.9, 0.1, 0}, 5, testFilter(t, "product_manager"))
	require.NoError(t, err)
	require.NotEmpty(t, res)
	assert.Equal(t, "p1", res[0].ID)
}

func TestLocal_ReusesSavedVectorIndex(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	l, err := OpenLocal(ctx, localConfig(dir, LexicalSQLite))
	require.NoError(t, err)
	require.NoError(t, l.UpsertBatch(ctx, embeddedEntries()))
	require.NoError(t, l.Close())

	l, err = OpenLocal(ctx, localConfig(dir, LexicalSQLite))
	require.NoError(t, err)
	defer l.Close()
	assert.Equal(t, 2, l.vectors.Count())
	assert.False(t, l.dirty.Load())
}

func TestLocal_ClearingEmbeddingRemovesVector(t *testing.T) {
	ctx := context.Background()
	l, err := OpenLocal(ctx, localConfig(t.TempDir(), LexicalSQLite))
	require.NoError(t, err)
	defer l.Close()
	require.NoError(t, l.UpsertBatch(ctx, embeddedEntries()))

	// Re-ingesting p1 after an embedding failure stores nil.
	require.NoError(t, l.UpsertBatch(ctx, []*Entry{doc("p1", "Wireless headphones")}))

	assert.False(t, l.vectors.Contains("p1"))
	st, err := l.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Embedded)
}

func TestLocal_ScopedSearchSkipsHiddenCandidates(t *testing.T) {
	// Given: restricted items nearer the query than anything a customer may see
	ctx := context.Background()
	l, err := OpenLocal(ctx, localConfig(t.TempDir(), LexicalBleve))
	require.NoError(t, err)
	defer l.Close()
	require.NoError(t, l.UpsertBatch(ctx, crowdedCatalog(25)))
	customer := testFilter(t, "customer")

	// When: the customer asks the graph and bleve for 3 candidates
	vec, err := l.SearchVector(ctx, []float32{1, 0, 0}, 3, customer)
	require.NoError(t, err)
	lex, err := l.SearchLexical(ctx, "warranty", 3, customer)
	require.NoError(t, err)

	// Then: the searches reach past the restricted rows
	require.Len(t, vec, 1)
	assert.Equal(t, "p1", vec[0].ID)
	assert.Equal(t, []string{"faq"}, lexicalIDs(lex))

	// And: privileged callers get the nearest rows unfiltered
	vec, err = l.SearchVector(ctx, []float32{1, 0, 0}, 3, testFilter(t, "product_manager"))
	require.NoError(t, err)
	assert.Len(t, vec, 3)
	assert.NotContains(t, []string{vec[0].ID, vec[1].ID, vec[2].ID}, "p1")
}

func TestLocal_DuplicateIDInBatchKeepsLastEmbedding(t *testing.T) {
	// Given: a batch holding p1 first with a vector, then without
	ctx := context.Background()
	l, err := OpenLocal(ctx, localConfig(t.TempDir(), LexicalSQLite))
	require.NoError(t, err)
	defer l.Close()
	first := doc("p1", "Wireless headphones")
	first.Embedding = []float32{1, 0, 0}

	// When: upserting it
	require.NoError(t, l.UpsertBatch(ctx, []*Entry{first, doc("p1", "Wireless headphones v2")}))

	// Then: the graph agrees with the catalog row, which has no vector
	assert.False(t, l.vectors.Contains("p1"))
	st, err := l.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Embedded)
	assert.Zero(t, st.Vectors)
}

func TestLocal_RejectsWrongDimensionBeforeWriting(t *testing.T) {
	ctx := context.Background()
	l, err := OpenLocal(ctx, localConfig(t.TempDir(), LexicalSQLite))
	require.NoError(t, err)
	defer l.Close()

	bad := doc("p1", "x")
	bad.Embedding = []float32{1, 2}
	err = l.UpsertBatch(ctx, []*Entry{bad})
	assert.ErrorIs(t, err, hrerrors.ErrDimensionMismatch)

	st, err := l.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Documents)
}

func TestLocal_DimensionChangeNeedsReset(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	l, err := OpenLocal(ctx, localConfig(dir, LexicalSQLite))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	cfg := localConfig(dir, LexicalSQLite)
	cfg.Dimensions = 8
	_, err = OpenLocal(ctx, cfg)
	assert.ErrorIs(t, err, hrerrors.ErrDimensionMismatch)
}

func TestLocal_AdoptsCatalogDimensions(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	l, err := OpenLocal(ctx, localConfig(dir, LexicalSQLite))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	cfg := localConfig(dir, LexicalSQLite)
	cfg.Dimensions = 0
	l, err = OpenLocal(ctx, cfg)
	require.NoError(t, err)
	defer l.Close()
	assert.Equal(t, 3, l.Dimensions())
}

func TestLocal_BleveLexicalBackend(t *testing.T) {
	// Given: a bleve-backed store whose index directory is deleted
	dir := t.TempDir()
	ctx := context.Background()
	l, err := OpenLocal(ctx, localConfig(dir, LexicalBleve))
	require.NoError(t, err)
	require.NoError(t, l.UpsertBatch(ctx, embeddedEntries()))
	require.NoError(t, l.Close())
	require.NoError(t, os.RemoveAll(filepath.Join(dir, "lexical.bleve")))

	// When: reopening
	l, err = OpenLocal(ctx, localConfig(dir, LexicalBleve))
	require.NoError(t, err)
	defer l.Close()

	// Then: lexical search is served from the rebuilt index
	res, err := l.SearchLexical(ctx, "warranty", 10, testFilter(t, "product_manager"))
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, lexicalIDs(res))

	// And: deletes reach it
	_, err = l.Delete(ctx, "p1")
	require.NoError(t, err)
	res, err = l.SearchLexical(ctx, "warranty", 10, testFilter(t, "product_manager"))
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestLocal_DeleteAndReset(t *testing.T) {
	ctx := context.Background()
	l, err := OpenLocal(ctx, localConfig(t.TempDir(), LexicalSQLite))
	require.NoError(t, err)
	defer l.Close()
	require.NoError(t, l.UpsertBatch(ctx, embeddedEntries()))

	removed, err := l.Delete(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "p1"}, removed)
	assert.False(t, l.vectors.Contains("p1"))

	require.NoError(t, l.Reset(ctx))
	st, err := l.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Documents)
	assert.Zero(t, st.Vectors)
}

func mkdirWithJunk(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(path, "store"), []byte("junk"), 0o644)
}
