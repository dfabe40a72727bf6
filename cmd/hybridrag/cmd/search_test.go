package cmd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/hybridrag/internal/config"
	"github.com/Aman-CERP/hybridrag/internal/embed"
	hrerrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/search"
)

func resultIDs(resp search.Response) []string {
	ids := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestSearchCmd_CustomerNeverSeesRestrictedKnowledge(t *testing.T) {
	// Given: the sample catalog
	dataDir := isolate(t)
	ingestSamples(t, dataDir)

	// When: a customer searches for warranty information
	out, err := execute(t, dataDir, "search", "warranty", "--persona", "customer", "--limit", "20", "--json")

	// Then: the customer FAQ is found, the support and internal notes are not
	require.NoError(t, err)
	var resp search.Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	ids := resultIDs(resp)
	assert.Contains(t, ids, "faq-warranty-01")
	assert.NotContains(t, ids, "note-warranty-02")
	assert.NotContains(t, ids, "internal-warranty-03")
	assert.NotContains(t, ids, "analytics-coffee-01")
	assert.LessOrEqual(t, len(ids), 20)
}

func TestSearchCmd_InheritanceAndPrivilege(t *testing.T) {
	dataDir := isolate(t)
	ingestSamples(t, dataDir)

	// support_agent inherits customer
	out, err := execute(t, dataDir, "search", "warranty", "--persona", "support_agent", "--json", "--limit", "20")
	require.NoError(t, err)
	var agent search.Response
	require.NoError(t, json.Unmarshal([]byte(out), &agent))
	assert.Contains(t, resultIDs(agent), "faq-warranty-01")
	assert.Contains(t, resultIDs(agent), "note-warranty-02")
	assert.NotContains(t, resultIDs(agent), "internal-warranty-03")

	// product_manager sees everything
	out, err = execute(t, dataDir, "search", "warranty", "--persona", "product_manager", "--json", "--limit", "20")
	require.NoError(t, err)
	var pm search.Response
	require.NoError(t, json.Unmarshal([]byte(out), &pm))
	assert.Contains(t, resultIDs(pm), "internal-warranty-03")
}

func TestSearchCmd_FuzzyMisspelling(t *testing.T) {
	// Given: the sample catalog
	dataDir := isolate(t)
	ingestSamples(t, dataDir)

	// When: searching a misspelled query on the fuzzy backend only
	out, err := execute(t, dataDir, "search", "wireles", "hedphones",
		"--persona", "customer", "--backends", "fuzzy", "--fuzzy-threshold", "0.1", "--json")

	// Then: the wireless headphones are found
	require.NoError(t, err)
	var resp search.Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Contains(t, resultIDs(resp), "B0SAMPLE01")
	for _, r := range resp.Results {
		assert.Contains(t, r.Ranks, "fuzzy")
	}
}

func TestSearchCmd_TextOutput(t *testing.T) {
	dataDir := isolate(t)
	ingestSamples(t, dataDir)

	out, err := execute(t, dataDir, "search", "coffee grinder", "--persona", "customer", "--limit", "3")

	require.NoError(t, err)
	assert.Contains(t, out, `results for "coffee grinder"`)
	assert.Contains(t, out, "B0SAMPLE02")
}

func TestSearchCmd_Errors(t *testing.T) {
	dataDir := isolate(t)

	tests := []struct {
		name string
		args []string
		code string
	}{
		{"unknown persona", []string{"search", "mug", "--persona", "intern"}, hrerrors.ErrCodeInvalidPersona},
		{"blank query", []string{"search", "   ", "--persona", "customer"}, hrerrors.ErrCodeQueryEmpty},
		{"bad window", []string{"search", "mug", "--persona", "customer", "--window", "soon"}, hrerrors.ErrCodeInvalidQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, dataDir, tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.code, hrerrors.GetCode(err))
		})
	}
}

func TestSearchCmd_PersonaIsRequired(t *testing.T) {
	dataDir := isolate(t)

	_, err := execute(t, dataDir, "search", "mug")

	require.Error(t, err)
	assert.Contains(t, err.Error(), `"persona" not set`)
}

func TestSearchCmd_RerankAddsScores(t *testing.T) {
	// Given: the sample catalog with reranking turned on
	dataDir := isolate(t)
	ingestSamples(t, dataDir)
	t.Setenv("HYBRIDRAG_SEARCH_RERANK", "true")

	// When: a product manager searches
	out, err := execute(t, dataDir, "search", "warranty", "--persona", "product_manager", "--json")

	// Then: results carry a rerank score, ordered by it
	require.NoError(t, err)
	var resp search.Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotEmpty(t, resp.Results)
	for i, r := range resp.Results {
		require.NotNil(t, r.RerankScore, r.ID)
		if i > 0 {
			assert.GreaterOrEqual(t, *resp.Results[i-1].RerankScore, *r.RerankScore)
		}
	}
}

func TestEngineOptions_RerankNeedsEmbedder(t *testing.T) {
	cfg := config.NewConfig()
	rt := &runtime{cfg: cfg}
	assert.Empty(t, rt.engineOptions())

	cfg.Search.Rerank = true
	assert.Empty(t, rt.engineOptions(), "no embedder to score with")

	rt.embedder = embed.NewStaticEmbedder(embed.StaticDimensions)
	assert.Len(t, rt.engineOptions(search.WithMetrics(nil)), 2)
}
