package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/hybridrag/internal/access"
	hrerrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/store"
	"github.com/Aman-CERP/hybridrag/internal/telemetry"
)

func TestPipeline_CommitsInBatches(t *testing.T) {
	// Given: five products and a batch size of two
	s := openTestStore(t)
	emb := &fakeEmbedder{}
	var events []Event
	p := newTestPipeline(t, s, emb, Options{
		BatchSize: 2, Workers: 3,
		Progress: func(e Event) { events = append(events, e) },
	})

	var recs []Record
	for i := 1; i <= 5; i++ {
		recs = append(recs, docRecord(fmt.Sprintf("p%d", i), fmt.Sprintf("product number %d", i)))
	}

	// When: ingesting
	report, err := p.Run(context.Background(), NewSliceReader(recs))

	// Then: three batches commit and every product is embedded
	require.NoError(t, err)
	assert.NotEmpty(t, report.JobID)
	assert.Equal(t, 5, report.Read)
	assert.Equal(t, 5, report.Committed)
	assert.Equal(t, 3, report.Batches)
	assert.Empty(t, report.Rejected)
	assert.Empty(t, report.FailedBatches)
	assert.False(t, report.Cancelled)
	assert.Equal(t, int64(5), emb.docCalls.Load())

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Documents)
	assert.Equal(t, 5, stats.Embedded)
	assert.Equal(t, 5, stats.Vectors)

	require.Len(t, events, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{events[0].Batch, events[1].Batch, events[2].Batch})
	assert.Equal(t, BatchCommitted, events[2].Kind)
	assert.Equal(t, 5, events[2].Committed)
	assert.Equal(t, 1, events[2].Records)
}

func TestPipeline_RejectsInvalidRecordsWithoutFailingTheBatch(t *testing.T) {
	s := openTestStore(t)
	p := newTestPipeline(t, s, &fakeEmbedder{}, Options{BatchSize: 10})

	report, err := p.Run(context.Background(), NewSliceReader([]Record{
		docRecord("p1", "Coffee grinder"),
		{ID: "", Content: "orphan"},
		knowledgeRecord("k1", "p1", "Warranty for everyone"),
		knowledgeRecord("k2", "p1", "Two year warranty", "customer"),
	}))

	require.NoError(t, err)
	assert.Equal(t, 4, report.Read)
	assert.Equal(t, 2, report.Committed)
	require.Len(t, report.Rejected, 2)
	assert.Equal(t, 2, report.Rejected[0].Index)
	assert.Equal(t, 3, report.Rejected[1].Index)
	assert.Equal(t, "k1", report.Rejected[1].ID)
	assert.Contains(t, report.Rejected[1].Reason, "persona_access")
}

func TestPipeline_FailedBatchRollsBackAlone(t *testing.T) {
	// Given: the second batch references a document that does not exist
	s := openTestStore(t)
	p := newTestPipeline(t, s, &fakeEmbedder{}, Options{BatchSize: 2})

	report, err := p.Run(context.Background(), NewSliceReader([]Record{
		docRecord("p1", "Coffee grinder"),
		docRecord("p2", "Espresso machine"),
		knowledgeRecord("k1", "p1", "Grinder warranty", "customer"),
		knowledgeRecord("k2", "nope", "Dangling reference", "customer"),
		docRecord("p3", "Milk frother"),
	}))

	// Then: batches one and three commit and batch two is reported
	require.NoError(t, err)
	assert.Equal(t, 3, report.Committed)
	assert.Equal(t, 2, report.Batches)
	require.Len(t, report.FailedBatches, 1)
	failed := report.FailedBatches[0]
	assert.Equal(t, 2, failed.Index)
	assert.Equal(t, []string{"k1", "k2"}, failed.IDs)
	assert.Equal(t, hrerrors.ErrCodeBatchFailed, failed.Code)
	assert.ErrorIs(t, failed.Err, hrerrors.ErrBatchFailed)

	filter := allFilter(t)
	rows, err := s.Lookup(context.Background(), []string{"p1", "p2", "p3", "k1", "k2"}, filter)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.NotContains(t, rows, "k1")
}

func TestPipeline_EmbeddingFailureKeepsRecordLexical(t *testing.T) {
	// Given: the provider refuses one text
	s := openTestStore(t)
	p := newTestPipeline(t, s, &fakeEmbedder{failOn: "poison"}, Options{BatchSize: 10})

	report, err := p.Run(context.Background(), NewSliceReader([]Record{
		docRecord("p1", "Coffee grinder"),
		docRecord("p2", "poison espresso machine"),
	}))

	// Then: both rows exist, only one has a vector
	require.NoError(t, err)
	assert.Equal(t, 2, report.Committed)
	assert.Equal(t, 1, report.EmbeddingFailures)

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Documents)
	assert.Equal(t, 1, stats.Embedded)

	hits, err := s.SearchLexical(context.Background(), "espresso", 5, allFilter(t))
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "p2", hits[0].ID)
}

func TestPipeline_SuppliedEmbeddingsSkipTheProvider(t *testing.T) {
	s := openTestStore(t)
	emb := &fakeEmbedder{}
	p := newTestPipeline(t, s, emb, Options{})

	rec := docRecord("p1", "Coffee grinder")
	rec.Embedding = []float32{1, 0, 0, 0, 0, 0, 0, 0}
	report, err := p.Run(context.Background(), NewSliceReader([]Record{rec}))

	require.NoError(t, err)
	assert.Equal(t, 1, report.Committed)
	assert.Zero(t, emb.calls.Load())
}

func TestPipeline_WithoutEmbedder(t *testing.T) {
	s := openTestStore(t)
	p := newTestPipeline(t, s, nil, Options{Dimensions: testDims})

	report, err := p.Run(context.Background(), NewSliceReader([]Record{docRecord("p1", "Coffee grinder")}))

	require.NoError(t, err)
	assert.Equal(t, 1, report.Committed)
	assert.Zero(t, report.EmbeddingFailures)
}

func TestPipeline_Idempotent(t *testing.T) {
	s := openTestStore(t)
	p := newTestPipeline(t, s, &fakeEmbedder{}, Options{})
	ctx := context.Background()

	_, err := p.Run(ctx, NewSliceReader([]Record{docRecord("p1", "Coffee grinder")}))
	require.NoError(t, err)
	_, err = p.Run(ctx, NewSliceReader([]Record{docRecord("p1", "Burr coffee grinder")}))
	require.NoError(t, err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, 1, stats.Vectors)

	rows, err := s.Lookup(ctx, []string{"p1"}, allFilter(t))
	require.NoError(t, err)
	assert.Equal(t, "Burr coffee grinder", rows["p1"].Content)
}

func TestPipeline_CancellationKeepsCommittedBatches(t *testing.T) {
	// Given: a stream that stalls after the first batch
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var once sync.Once
	p := newTestPipeline(t, s, &fakeEmbedder{}, Options{
		BatchSize: 2,
		Progress: func(e Event) {
			if e.Kind == BatchCommitted {
				once.Do(cancel)
			}
		},
	})

	ch := make(chan Record, 3)
	ch <- docRecord("p1", "Coffee grinder")
	ch <- docRecord("p2", "Espresso machine")
	ch <- docRecord("p3", "Milk frother")

	// When: the first commit triggers cancellation
	report, err := p.Run(ctx, NewChanReader(ctx, ch))

	// Then: the run reports cancellation and batch one survives
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, report.Cancelled)
	assert.Equal(t, 2, report.Committed)

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Documents)
}

func TestPipeline_SingleWriterLock(t *testing.T) {
	dir := t.TempDir()
	held := NewFileLock(dir)
	require.NoError(t, held.TryLock())
	t.Cleanup(func() { _ = held.Unlock() })

	p := newTestPipeline(t, openTestStore(t), &fakeEmbedder{}, Options{DataDir: dir})

	_, err := p.Run(context.Background(), NewSliceReader([]Record{docRecord("p1", "x")}))

	assert.Equal(t, hrerrors.ErrCodeStoreLocked, hrerrors.GetCode(err))

	require.NoError(t, held.Unlock())
	report, err := p.Run(context.Background(), NewSliceReader([]Record{docRecord("p1", "x")}))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Committed)
}

func TestPipeline_Metrics(t *testing.T) {
	s := openTestStore(t)
	m := telemetry.New()
	p := newTestPipeline(t, s, &fakeEmbedder{failOn: "poison"}, Options{Metrics: m})

	_, err := p.Run(context.Background(), NewSliceReader([]Record{
		docRecord("p1", "poison"),
		{ID: "bad"},
	}))
	require.NoError(t, err)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["hybridrag_ingest_records_total"])
	assert.True(t, names["hybridrag_ingest_batches_total"])
	assert.True(t, names["hybridrag_embedding_failures_total"])
}

func TestNew_RequiresSink(t *testing.T) {
	_, err := New(nil, nil, testPolicy(t), Options{})
	assert.Error(t, err)
}

func allFilter(t *testing.T) access.PersonaFilter {
	t.Helper()
	f, err := testPolicy(t).Filter("product_manager")
	require.NoError(t, err)
	return f
}

var _ Sink = (*store.Local)(nil)
