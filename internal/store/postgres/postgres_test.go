package postgres

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/hybridrag/internal/access"
	"github.com/Aman-CERP/hybridrag/internal/config"
	"github.com/Aman-CERP/hybridrag/internal/store"
)

func filterFor(t *testing.T, persona string) access.PersonaFilter {
	t.Helper()
	policy, err := access.NewPolicy(config.NewConfig().Access)
	require.NoError(t, err)
	f, err := policy.Filter(persona)
	require.NoError(t, err)
	return f
}

func TestLookupQuery_ScopesKnowledgeByLabels(t *testing.T) {
	// Given: a support agent, who inherits customer
	f := filterFor(t, "support_agent")

	// When: building the lookup
	query, args, err := lookupQuery([]string{"p1", "k1"}, f).ToSql()

	// Then: documents pass and knowledge needs an overlapping label
	require.NoError(t, err)
	assert.Contains(t, query, "e.id IN ($1,$2)")
	assert.Contains(t, query, "(e.kind = $3 OR e.persona_access && $4)")
	require.Len(t, args, 4)
	assert.Equal(t, "document", args[2])
	assert.Equal(t, pq.Array([]string{"customer", "support_agent"}), args[3])
}

func TestLookupQuery_Privileged(t *testing.T) {
	query, args, err := lookupQuery([]string{"k1"}, filterFor(t, "product_manager")).ToSql()
	require.NoError(t, err)
	assert.Contains(t, query, "TRUE")
	assert.NotContains(t, query, "persona_access &&")
	assert.Len(t, args, 1)
}

func TestLookupQuery_ZeroFilterSeesDocumentsOnly(t *testing.T) {
	query, _, err := lookupQuery([]string{"k1"}, access.PersonaFilter{}).ToSql()
	require.NoError(t, err)
	assert.Contains(t, query, "e.kind = $2")
	assert.NotContains(t, query, "persona_access &&")
}

func TestVectorQuery(t *testing.T) {
	query, args, err := vectorQuery([]float32{1, 0}, 20, filterFor(t, "product_manager")).ToSql()
	require.NoError(t, err)
	assert.Contains(t, query, "(e.embedding <=> $1) AS distance")
	assert.Contains(t, query, "WHERE e.embedding IS NOT NULL AND TRUE")
	assert.Contains(t, query, "ORDER BY distance ASC, e.id ASC LIMIT 20")
	assert.Len(t, args, 1)
}

func TestLexicalQuery_OrsTerms(t *testing.T) {
	builder, ok := lexicalQuery("gift for a coffee lover", 20, filterFor(t, "product_manager"))
	require.True(t, ok)
	query, args, err := builder.ToSql()
	require.NoError(t, err)
	assert.Contains(t, query, "ts_rank_cd(e.content_tsv, to_tsquery('english', $1))")
	assert.Contains(t, query, "e.content_tsv @@ to_tsquery('english', $2)")
	assert.Equal(t, []any{"gift | coffee | lover", "gift | coffee | lover"}, args)

	_, ok = lexicalQuery(" !! ", 20, filterFor(t, "product_manager"))
	assert.False(t, ok)
}

func TestFuzzyQuery(t *testing.T) {
	query, args, err := fuzzyQuery("wireles hedphones", 0.3, 20, filterFor(t, "product_manager")).ToSql()
	require.NoError(t, err)
	assert.Contains(t, query, "similarity(lower(e.content), lower($1)) AS sim")
	assert.Contains(t, query, "similarity(lower(e.content), lower($2)) >= $3")
	assert.Contains(t, query, "ORDER BY sim DESC, e.id ASC")
	assert.Equal(t, []any{"wireles hedphones", "wireles hedphones", 0.3}, args)
}

func TestSearchQueries_ScopeBeforeLimit(t *testing.T) {
	// Given: a customer, who may read documents and customer-labelled items
	f := filterFor(t, "customer")
	lexical, ok := lexicalQuery("warranty", 20, f)
	require.True(t, ok)

	for name, builder := range map[string]interface {
		ToSql() (string, []any, error)
	}{
		"vector":  vectorQuery([]float32{1, 0}, 20, f),
		"lexical": lexical,
		"fuzzy":   fuzzyQuery("warranty", 0.1, 20, f),
	} {
		t.Run(name, func(t *testing.T) {
			// When: building the search query
			query, args, err := builder.ToSql()

			// Then: the persona predicate is part of WHERE, ahead of LIMIT
			require.NoError(t, err)
			where := strings.Index(query, "(e.kind = $")
			limit := strings.Index(query, "LIMIT")
			require.Positive(t, where)
			assert.Less(t, where, limit)
			assert.Contains(t, query, "e.persona_access && $")
			assert.Contains(t, args, pq.Array([]string{"customer"}))
		})
	}
}

func TestUpsertQuery_DocumentsCarryNoScope(t *testing.T) {
	e := &store.Entry{ID: "p1", Kind: store.KindDocument, Content: "x", PersonaAccess: []string{"customer"}}
	query, args, err := upsertQuery(e, e.CreatedAt).ToSql()
	require.NoError(t, err)
	assert.Contains(t, query, "ON CONFLICT (id) DO UPDATE")
	assert.NotContains(t, query, "created_at = EXCLUDED")
	assert.Equal(t, pq.Array([]string{}), args[7])
	assert.Nil(t, args[15])
}

func TestSchemaStatements_UseDimensions(t *testing.T) {
	stmts := schemaStatements(768)
	assert.Contains(t, strings.Join(stmts, "\n"), "embedding         vector(768)")
}

// TestStore_Live runs against a real server when one is configured.
func TestStore_Live(t *testing.T) {
	dsn := os.Getenv("HYBRIDRAG_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("HYBRIDRAG_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn, 3, "test")
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Reset(ctx))

	p1 := &store.Entry{ID: "p1", Kind: store.KindDocument, Content: "Wireless Bluetooth Headphones", Embedding: []float32{1, 0, 0}}
	k1 := &store.Entry{ID: "k1", Kind: store.KindKnowledge, Content: "Headphone warranty escalation", ContentType: "policy",
		DocumentID: "p1", PersonaAccess: []string{"support_agent"}}
	require.NoError(t, s.UpsertBatch(ctx, []*store.Entry{p1, k1}))

	got, err := s.Lookup(ctx, []string{"p1", "k1"}, filterFor(t, "customer"))
	require.NoError(t, err)
	assert.Len(t, got, 1)

	vec, err := s.SearchVector(ctx, []float32{1, 0.1, 0}, 5, filterFor(t, "customer"))
	require.NoError(t, err)
	require.Len(t, vec, 1)
	assert.Equal(t, "p1", vec[0].ID)

	lex, err := s.SearchLexical(ctx, "warranty", 5, filterFor(t, "support_agent"))
	require.NoError(t, err)
	require.Len(t, lex, 1)

	hidden, err := s.SearchLexical(ctx, "warranty", 5, filterFor(t, "customer"))
	require.NoError(t, err)
	assert.Empty(t, hidden)

	fz, err := s.SearchFuzzy(ctx, "wireles hedphones", 0.1, 5, filterFor(t, "customer"))
	require.NoError(t, err)
	require.NotEmpty(t, fz)
	assert.Equal(t, "p1", fz[0].ID)

	removed, err := s.Delete(ctx, "p1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p1", "k1"}, removed)
}
