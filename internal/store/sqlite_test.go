package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/hybridrag/internal/access"
	hrerrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

func TestSQLiteStore_UpsertAndLookup(t *testing.T) {
	// Given: a catalog with a fully populated product
	s := newTestCatalog(t)
	price, rating, reviews := 59.99, 4.5, 1200
	e := doc("p1", "Wireless headphones")
	e.Price, e.Rating, e.Reviews = &price, &rating, &reviews
	e.Bestseller = true
	e.ProductURL = "https://example.com/p1"
	require.NoError(t, s.UpsertBatch(context.Background(), []*Entry{e}))

	// When: looking it up as a customer
	got, err := s.Lookup(context.Background(), []string{"p1", "missing"}, testFilter(t, "customer"))

	// Then: every field round-trips and the missing id is absent
	require.NoError(t, err)
	require.Len(t, got, 1)
	p1 := got["p1"]
	assert.Equal(t, KindDocument, p1.Kind)
	assert.Equal(t, "Wireless headphones", p1.Content)
	assert.Equal(t, "Electronics", p1.DisplayType())
	require.NotNil(t, p1.Price)
	assert.Equal(t, 59.99, *p1.Price)
	require.NotNil(t, p1.Reviews)
	assert.Equal(t, 1200, *p1.Reviews)
	assert.Nil(t, p1.BoughtLastMonth)
	assert.True(t, p1.Bestseller)
	assert.Equal(t, "https://example.com/p1", p1.ProductURL)
	assert.Empty(t, p1.PersonaAccess)
}

func TestSQLiteStore_UpsertIsIdempotent(t *testing.T) {
	// Given: an entry ingested at t0
	s := newTestCatalog(t)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(48 * time.Hour)
	s.now = fixedClock(t0, t1)
	ctx := context.Background()
	require.NoError(t, s.UpsertBatch(ctx, []*Entry{doc("p1", "old text")}))

	// When: the same id is ingested again at t1 with new content
	require.NoError(t, s.UpsertBatch(ctx, []*Entry{doc("p1", "new text")}))

	// Then: one row exists, content is updated and created_at is kept
	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Documents)

	got, err := s.Lookup(ctx, []string{"p1"}, testFilter(t, "customer"))
	require.NoError(t, err)
	assert.Equal(t, "new text", got["p1"].Content)
	assert.True(t, got["p1"].CreatedAt.Equal(t0))
	assert.True(t, got["p1"].UpdatedAt.Equal(t1))

	// And: the old text is no longer searchable
	res, err := s.SearchLexical(ctx, "old", 10, testFilter(t, "product_manager"))
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestSQLiteStore_LookupAppliesPersonaFilter(t *testing.T) {
	s := newTestCatalog(t)
	sampleCatalog(t, s)
	ids := []string{"p1", "p2", "k1", "k2", "k3"}

	tests := []struct {
		persona string
		want    []string
	}{
		{"customer", []string{"k1", "p1", "p2"}},
		{"support_agent", []string{"k1", "k2", "p1", "p2"}},
		{"product_manager", []string{"k1", "k2", "k3", "p1", "p2"}},
	}
	for _, tt := range tests {
		t.Run(tt.persona, func(t *testing.T) {
			got, err := s.Lookup(context.Background(), ids, testFilter(t, tt.persona))
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, keys(got))
		})
	}
}

func TestSQLiteStore_KnowledgeWithoutScopeIsRejected(t *testing.T) {
	s := newTestCatalog(t)
	ctx := context.Background()

	err := s.UpsertBatch(ctx, []*Entry{doc("p1", "x"), knowledge("k1", "p1", "unscoped")})

	assert.ErrorIs(t, err, hrerrors.ErrInvalidRecord)
	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Documents)
}

func TestSQLiteStore_ZeroFilterSeesDocumentsOnly(t *testing.T) {
	s := newTestCatalog(t)
	sampleCatalog(t, s)

	got, err := s.Lookup(context.Background(), []string{"p1", "k1", "k2", "k3"}, access.PersonaFilter{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p1"}, keys(got))
}

func TestSQLiteStore_BatchRollsBackOnBadReference(t *testing.T) {
	// Given: a batch whose last item references a missing document
	s := newTestCatalog(t)
	ctx := context.Background()

	// When: upserting the batch
	err := s.UpsertBatch(ctx, []*Entry{
		doc("p1", "headphones"),
		knowledge("k1", "nope", "orphan warranty note", "customer"),
	})

	// Then: the batch fails and nothing is visible
	require.Error(t, err)
	assert.ErrorIs(t, err, hrerrors.ErrInvalidRecord)
	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Documents)
	assert.Zero(t, st.KnowledgeItems)

	res, err := s.SearchLexical(ctx, "headphones", 10, testFilter(t, "product_manager"))
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestSQLiteStore_KnowledgeMustReferenceDocument(t *testing.T) {
	s := newTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertBatch(ctx, []*Entry{doc("p1", "x"), knowledge("k1", "p1", "y", "customer")}))

	err := s.UpsertBatch(ctx, []*Entry{knowledge("k2", "k1", "points at knowledge", "customer")})
	assert.ErrorIs(t, err, hrerrors.ErrInvalidRecord)
}

func TestSQLiteStore_DeleteCascadesToKnowledge(t *testing.T) {
	// Given: p1 with two knowledge items
	s := newTestCatalog(t)
	sampleCatalog(t, s)
	ctx := context.Background()

	// When: deleting p1
	removed, err := s.Delete(ctx, "p1")

	// Then: p1, k1 and k2 are gone from rows and from every index
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k2", "p1"}, removed)

	got, err := s.Lookup(ctx, []string{"p1", "k1", "k2", "k3"}, testFilter(t, "product_manager"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"k3"}, keys(got))

	lex, err := s.SearchLexical(ctx, "warranty", 10, testFilter(t, "product_manager"))
	require.NoError(t, err)
	assert.Equal(t, []string{"k3"}, lexicalIDs(lex))

	fz, err := s.SearchFuzzy(ctx, "headphones", 0.1, 10, testFilter(t, "product_manager"))
	require.NoError(t, err)
	assert.Empty(t, fz)
}

func TestSQLiteStore_DeleteMissing(t *testing.T) {
	s := newTestCatalog(t)
	removed, err := s.Delete(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestSQLiteStore_SearchLexical(t *testing.T) {
	s := newTestCatalog(t)
	sampleCatalog(t, s)

	res, err := s.SearchLexical(context.Background(), "warranty", 10, testFilter(t, "product_manager"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"k1", "k2", "k3"}, lexicalIDs(res))
	for i := 1; i < len(res); i++ {
		assert.GreaterOrEqual(t, res[i-1].Score, res[i].Score)
	}

	// Any term matches.
	res, err = s.SearchLexical(context.Background(), "coffee spaceship", 10, testFilter(t, "product_manager"))
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, lexicalIDs(res))
}

func TestSQLiteStore_SearchLexical_SyntaxIsInert(t *testing.T) {
	s := newTestCatalog(t)
	sampleCatalog(t, s)

	for _, q := range []string{`"`, "AND OR NOT", "(*)", "headphones*"} {
		res, err := s.SearchLexical(context.Background(), q, 10, testFilter(t, "product_manager"))
		require.NoError(t, err, q)
		_ = res
	}
}

func TestSQLiteStore_SearchFuzzy_Misspelling(t *testing.T) {
	// Given: a catalog with headphones and a grinder
	s := newTestCatalog(t)
	sampleCatalog(t, s)

	// When: searching with two misspelled words
	res, err := s.SearchFuzzy(context.Background(), "wireles hedphones", 0.1, 10, testFilter(t, "product_manager"))

	// Then: the headphones rank first with the pg_trgm similarity
	require.NoError(t, err)
	require.NotEmpty(t, res)
	assert.Equal(t, "p1", res[0].ID)
	assert.InDelta(t, 15.0/53.0, res[0].Similarity, 1e-9)
	for _, r := range res {
		assert.GreaterOrEqual(t, r.Similarity, 0.1)
		assert.NotEqual(t, "p2", r.ID)
	}
}

func TestSQLiteStore_SearchFuzzy_Threshold(t *testing.T) {
	s := newTestCatalog(t)
	sampleCatalog(t, s)

	res, err := s.SearchFuzzy(context.Background(), "wireles hedphones", 0.9, 10, testFilter(t, "product_manager"))
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestSQLiteStore_ScopedSearchKeepsVisibleCandidates(t *testing.T) {
	// Given: 25 restricted items outscoring the one FAQ a customer may read
	s := newTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertBatch(ctx, crowdedCatalog(25)))
	customer := testFilter(t, "customer")

	// When: the customer searches with a candidate limit of 5
	lex, err := s.SearchLexical(ctx, "warranty", 5, customer)
	require.NoError(t, err)
	fz, err := s.SearchFuzzy(ctx, "warranty", 0.1, 5, customer)
	require.NoError(t, err)

	// Then: the FAQ is returned and nothing restricted takes a slot
	assert.Equal(t, []string{"faq"}, lexicalIDs(lex))
	require.Len(t, fz, 1)
	assert.Equal(t, "faq", fz[0].ID)

	// And: a privileged persona still sees the restricted rows
	lex, err = s.SearchLexical(ctx, "warranty", 5, testFilter(t, "product_manager"))
	require.NoError(t, err)
	assert.Len(t, lex, 5)
	assert.NotContains(t, lexicalIDs(lex), "faq")
}

func TestSQLiteStore_VisibleIDs(t *testing.T) {
	s := newTestCatalog(t)
	sampleCatalog(t, s)

	got, err := s.VisibleIDs(context.Background(), []string{"p1", "k1", "k2", "k3", "ghost"}, testFilter(t, "support_agent"))
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"p1": true, "k1": true, "k2": true}, got)
}

func TestSQLiteStore_Dimensions(t *testing.T) {
	s := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureDimensions(ctx, 4, "m1"))
	require.NoError(t, s.EnsureDimensions(ctx, 4, "m2"))

	err := s.EnsureDimensions(ctx, 8, "m3")
	assert.ErrorIs(t, err, hrerrors.ErrDimensionMismatch)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, st.Dimensions)
	assert.Equal(t, "m2", st.EmbeddingModel)
}

func TestSQLiteStore_EmbeddingsRoundTrip(t *testing.T) {
	// Given: one entry with a vector and one without
	s := newTestCatalog(t)
	ctx := context.Background()
	withVec := doc("p1", "a")
	withVec.Embedding = []float32{0.5, -1, 2, 0}
	require.NoError(t, s.UpsertBatch(ctx, []*Entry{withVec, doc("p2", "b")}))

	// When: streaming embeddings
	got := map[string][]float32{}
	require.NoError(t, s.EachEmbedding(ctx, func(id string, v []float32) error {
		got[id] = v
		return nil
	}))

	// Then: only the stored vector appears, bit-exact
	assert.Equal(t, map[string][]float32{"p1": {0.5, -1, 2, 0}}, got)
	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Embedded)
}

func TestSQLiteStore_Reset(t *testing.T) {
	s := newTestCatalog(t)
	sampleCatalog(t, s)
	ctx := context.Background()
	require.NoError(t, s.EnsureDimensions(ctx, 4, "m"))

	require.NoError(t, s.Reset(ctx))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Documents+st.KnowledgeItems)
	assert.Zero(t, st.Dimensions)
	res, err := s.SearchFuzzy(ctx, "headphones", 0, 10, testFilter(t, "product_manager"))
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestSQLiteStore_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	s, err := NewSQLiteStore(path, 0)
	require.NoError(t, err)
	sampleCatalog(t, s)
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path, 0)
	require.NoError(t, err)
	defer s.Close()
	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.Documents)
	assert.Equal(t, 3, st.KnowledgeItems)
}

func TestSQLiteStore_Closed(t *testing.T) {
	s, err := NewSQLiteStore("", 0)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Lookup(context.Background(), []string{"x"}, testFilter(t, "customer"))
	assert.Error(t, err)
}

func keys(m map[string]*Entry) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func lexicalIDs(rs []LexicalResult) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}
