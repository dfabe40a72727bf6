package search

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/hybridrag/internal/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedAssembler(display int) *Assembler {
	a := NewAssembler(display)
	a.Now = func() time.Time { return testNow }
	return a
}

func fused(ids ...string) []*FusedResult {
	out := make([]*FusedResult, len(ids))
	for i, id := range ids {
		out[i] = &FusedResult{ID: id, RRFScore: 1.0 / float64(61+i), Ranks: map[string]int{BackendLexical: i + 1}}
	}
	return out
}

func row(id string, age time.Duration) *store.Entry {
	return &store.Entry{
		ID: id, Kind: store.KindDocument, Content: "content " + id,
		Category: "Kitchen", CreatedAt: testNow.Add(-age),
	}
}

func TestAssembler_WindowDropsOldRowsWithoutReranking(t *testing.T) {
	// Given: three fused rows, the middle one ten days old
	rows := map[string]*store.Entry{
		"a": row("a", time.Hour),
		"b": row("b", 10*24*time.Hour),
		"c": row("c", 2*24*time.Hour),
	}

	// When: assembling with a 7 day window
	got := fixedAssembler(200).Assemble(fused("a", "b", "c"), rows,
		AssembleOptions{Window: 7 * 24 * time.Hour, Limit: 10})

	// Then: b is dropped and c keeps its fused score
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
	assert.Equal(t, 1.0/63, got[1].Score)
}

func TestAssembler_LimitAppliesAfterWindow(t *testing.T) {
	rows := map[string]*store.Entry{
		"a": row("a", 30*24*time.Hour),
		"b": row("b", time.Hour),
		"c": row("c", time.Hour),
		"d": row("d", time.Hour),
	}
	got := fixedAssembler(200).Assemble(fused("a", "b", "c", "d"), rows,
		AssembleOptions{Window: 24 * time.Hour, Limit: 2})

	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
}

func TestAssembler_ResultCountNeverExceedsLimit(t *testing.T) {
	rows := map[string]*store.Entry{}
	ids := make([]string, 30)
	for i := range ids {
		ids[i] = string(rune('A' + i))
		rows[ids[i]] = row(ids[i], time.Minute)
	}
	for _, limit := range []int{1, 5, 10, 29, 30, 100} {
		got := fixedAssembler(200).Assemble(fused(ids...), rows, AssembleOptions{Limit: limit})
		assert.LessOrEqual(t, len(got), limit)
		assert.Len(t, got, min(limit, 30))
	}
}

func TestAssembler_Rendering(t *testing.T) {
	long := strings.Repeat("é", 250)
	rows := map[string]*store.Entry{
		"k1": {
			ID: "k1", Kind: store.KindKnowledge, Content: long, ContentType: "support_ticket",
			Severity: "high", DocumentID: "p1", PersonaAccess: []string{"support_agent"},
			CreatedAt: testNow.Add(-time.Hour),
		},
	}

	got := fixedAssembler(200).Assemble(fused("k1"), rows, AssembleOptions{Limit: 10})

	require.Len(t, got, 1)
	r := got[0]
	assert.Equal(t, strings.Repeat("é", 200)+"...", r.Content)
	assert.Equal(t, "support_ticket", r.ContentType)
	assert.Equal(t, "high", r.Severity)
	assert.Equal(t, store.KindKnowledge, r.Kind)
	assert.Empty(t, r.Category)
	require.NotNil(t, r.CreatedAt)
	assert.Equal(t, map[string]int{BackendLexical: 1}, r.Ranks)
}

func TestAssembler_EmptyIsNonNil(t *testing.T) {
	got := fixedAssembler(200).Assemble(nil, nil, AssembleOptions{Limit: 10})
	assert.NotNil(t, got)
	assert.Empty(t, got)

	// Ids without a visible row are skipped.
	got = fixedAssembler(200).Assemble(fused("ghost"), map[string]*store.Entry{}, AssembleOptions{Limit: 10})
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 3))
	assert.Equal(t, "ab...", Truncate("abc", 2))
	assert.Equal(t, "abc", Truncate("abc", 0))
	assert.Equal(t, "", Truncate("", 5))
}
