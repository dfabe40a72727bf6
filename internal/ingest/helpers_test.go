package ingest

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/hybridrag/internal/access"
	"github.com/Aman-CERP/hybridrag/internal/config"
	"github.com/Aman-CERP/hybridrag/internal/embed"
	"github.com/Aman-CERP/hybridrag/internal/store"
)

const testDims = 8

// fakeEmbedder hashes words into testDims buckets. Texts containing
// failOn return an error.
type fakeEmbedder struct {
	failOn   string
	calls    atomic.Int64
	docCalls atomic.Int64
}

func (f *fakeEmbedder) Embed(_ context.Context, text string, mode embed.Mode) ([]float32, error) {
	f.calls.Add(1)
	if mode == embed.ModeDocument {
		f.docCalls.Add(1)
	}
	if f.failOn != "" && strings.Contains(text, f.failOn) {
		return nil, errors.New("provider rejected input")
	}
	v := make([]float32, testDims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%testDims]++
	}
	return v, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string, mode embed.Mode) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t, mode)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int                { return testDims }
func (f *fakeEmbedder) ModelName() string              { return "fake" }
func (f *fakeEmbedder) Available(context.Context) bool { return true }
func (f *fakeEmbedder) Close() error                   { return nil }

func testPolicy(t *testing.T) *access.Policy {
	t.Helper()
	p, err := access.NewPolicy(config.NewConfig().Access)
	require.NoError(t, err)
	return p
}

func openTestStore(t *testing.T) *store.Local {
	t.Helper()
	s, err := store.OpenLocal(context.Background(), store.LocalConfig{
		Dimensions:     testDims,
		EmbeddingModel: "fake",
		LexicalBackend: store.LexicalSQLite,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestPipeline(t *testing.T, sink Sink, emb embed.Embedder, opts Options) *Pipeline {
	t.Helper()
	p, err := New(sink, emb, testPolicy(t), opts)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func docRecord(id, content string) Record {
	return Record{ID: id, Content: content, Category: "Kitchen"}
}

func knowledgeRecord(id, docID, content string, personas ...string) Record {
	return Record{
		Kind: store.KindKnowledge, ID: id, Content: content,
		ContentType: "product_faq", DocumentID: docID, PersonaAccess: personas,
	}
}

func ptr[T any](v T) *T { return &v }
