package ui

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/hybridrag/internal/search"
	"github.com/Aman-CERP/hybridrag/internal/store"
)

func TestResultsRenderer_Render(t *testing.T) {
	// Given: a response with a product, an FAQ and a degraded backend
	buf := &bytes.Buffer{}
	r := NewResultsRenderer(buf, true)
	resp := &search.Response{
		Results: []search.ResultRecord{
			{ID: "B001", Kind: store.KindDocument, Content: "Wireless headphones", ContentType: "product", Category: "Electronics", Score: 0.0325, Ranks: map[string]int{"lexical": 1, "semantic": 2}},
			{ID: "faq-1", Kind: store.KindKnowledge, Content: "Returns take 30 days", ContentType: "product_faq", Severity: "low", Score: 0.0161},
		},
		Warnings: []search.Warning{{Backend: "fuzzy", Code: "ERR_301_BACKEND_UNAVAILABLE", Message: "timed out"}},
	}

	// When: rendering
	require.NoError(t, r.Render("headphones", resp))

	// Then: results are numbered with scores, tags and ranks in backend order
	out := buf.String()
	assert.Contains(t, out, "fuzzy backend unavailable: timed out")
	assert.Contains(t, out, `2 results for "headphones"`)
	assert.Contains(t, out, " 1. B001  0.0325  [document, product, Electronics]")
	assert.Contains(t, out, "semantic #2 · lexical #1")
	assert.Contains(t, out, " 2. faq-1  0.0161  [knowledge, product_faq, low]")
}

func TestResultsRenderer_RenderEmpty(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, NewResultsRenderer(buf, true).Render("zzz", &search.Response{Results: []search.ResultRecord{}}))
	assert.Equal(t, "No results for \"zzz\"\n", buf.String())
}

func TestResultsRenderer_RenderJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	resp := &search.Response{Results: []search.ResultRecord{{ID: "B001", Kind: store.KindDocument, Score: 0.5}}}
	require.NoError(t, NewResultsRenderer(buf, true).RenderJSON(resp))

	var got search.Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got.Results, 1)
	assert.Equal(t, "B001", got.Results[0].ID)
}
