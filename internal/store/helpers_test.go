package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/hybridrag/internal/access"
	"github.com/Aman-CERP/hybridrag/internal/config"
)

func newTestCatalog(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore("", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testFilter(t *testing.T, persona string) access.PersonaFilter {
	t.Helper()
	policy, err := access.NewPolicy(config.NewConfig().Access)
	require.NoError(t, err)
	f, err := policy.Filter(persona)
	require.NoError(t, err)
	return f
}

func doc(id, content string) *Entry {
	return &Entry{ID: id, Kind: KindDocument, Content: content, Category: "Electronics"}
}

func knowledge(id, docID, content string, personas ...string) *Entry {
	return &Entry{
		ID:            id,
		Kind:          KindKnowledge,
		Content:       content,
		ContentType:   "faq",
		DocumentID:    docID,
		PersonaAccess: personas,
	}
}

func fixedClock(ts ...time.Time) func() time.Time {
	i := 0
	return func() time.Time {
		t := ts[i]
		if i < len(ts)-1 {
			i++
		}
		return t
	}
}

// sampleCatalog stores two products and three knowledge items with
// different scopes.
func sampleCatalog(t *testing.T, s *SQLiteStore) {
	t.Helper()
	err := s.UpsertBatch(context.Background(), []*Entry{
		doc("p1", "Wireless Bluetooth Headphones with noise cancellation"),
		doc("p2", "Stainless steel coffee grinder with burr mill"),
		knowledge("k1", "p1", "The headphones carry a two year warranty", "customer"),
		knowledge("k2", "p1", "Internal warranty escalation procedure for agents", "support_agent"),
		knowledge("k3", "p2", "Grinder margin analysis and warranty cost", "product_manager"),
	})
	require.NoError(t, err)
}

// crowdedCatalog holds one customer FAQ about warranties and more
// product_manager items matching "warranty" than a search asks for.
func crowdedCatalog(hidden int) []*Entry {
	p1 := doc("p1", "Wireless headphones")
	p1.Embedding = []float32{0, 1, 0}
	entries := []*Entry{p1, knowledge("faq", "p1", "The warranty covers two years", "customer")}
	for i := range hidden {
		k := knowledge(fmt.Sprintf("int%02d", i), "p1", "warranty warranty escalation", "product_manager")
		k.Embedding = []float32{1, float32(i) / 1000, 0}
		entries = append(entries, k)
	}
	return entries
}
