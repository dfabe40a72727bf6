package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/hybridrag/internal/access"
	"github.com/Aman-CERP/hybridrag/internal/config"
	"github.com/Aman-CERP/hybridrag/internal/embed"
	"github.com/Aman-CERP/hybridrag/internal/search"
	"github.com/Aman-CERP/hybridrag/internal/store"
)

const testDims = 64

type testEnv struct {
	server  *Server
	backend *store.Local
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	backend, err := store.OpenLocal(ctx, store.LocalConfig{Dimensions: testDims, EmbeddingModel: "static"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	embedder := embed.NewStaticEmbedder(testDims)
	entries := []*store.Entry{
		{ID: "B001", Kind: store.KindDocument, ContentType: "product", Category: "Electronics",
			Content: "Wireless noise cancelling headphones"},
		{ID: "B002", Kind: store.KindDocument, ContentType: "product", Category: "Kitchen",
			Content: "Burr coffee grinder"},
		{ID: "faq-1", Kind: store.KindKnowledge, ContentType: "product_faq", DocumentID: "B001",
			Content: "Headphones warranty lasts two years", PersonaAccess: []string{"customer"}},
		{ID: "note-1", Kind: store.KindKnowledge, ContentType: "internal_note", DocumentID: "B001", Severity: "high",
			Content: "Warranty claims spike after firmware update", PersonaAccess: []string{"support_agent"},
			CreatedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)},
	}
	for _, e := range entries {
		e.Embedding, err = embedder.Embed(ctx, e.Content, embed.ModeDocument)
		require.NoError(t, err)
	}
	require.NoError(t, backend.UpsertBatch(ctx, entries))

	cfg := config.NewConfig()
	policy, err := access.NewPolicy(cfg.Access)
	require.NoError(t, err)
	engine, err := search.NewEngine(backend, embedder, policy, cfg.Search)
	require.NoError(t, err)

	s, err := NewServer(engine, backend, embedder, cfg)
	require.NoError(t, err)
	return &testEnv{server: s, backend: backend}
}

func ids(rs []ResultOutput) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}
