package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/samber/lo"

	"github.com/Aman-CERP/hybridrag/internal/access"
	"github.com/Aman-CERP/hybridrag/internal/config"
	"github.com/Aman-CERP/hybridrag/internal/embed"
	hrerrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/store"
	"github.com/Aman-CERP/hybridrag/internal/telemetry"
)

// Pipeline defaults.
const (
	DefaultBatchSize = 1000
	DefaultWorkers   = 8
	MaxWorkers       = 64
)

// Sink commits batches. store.Backend satisfies it.
type Sink interface {
	UpsertBatch(ctx context.Context, entries []*store.Entry) error
	Flush(ctx context.Context) error
}

// Options parameterize a Pipeline.
type Options struct {
	BatchSize       int
	Workers         int
	MaxContentChars int
	MaxInputChars   int

	// Dimensions overrides the embedder's dimension for vector checks.
	Dimensions int

	// DataDir holds the ingest lock. Empty disables locking.
	DataDir string

	Progress ProgressFunc
	Metrics  *telemetry.Metrics
}

// OptionsFromConfig reads the ingest and embedding sections of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BatchSize:       cfg.Ingest.BatchSize,
		Workers:         cfg.Ingest.Workers,
		MaxContentChars: cfg.Ingest.MaxContentChars,
		MaxInputChars:   cfg.Embeddings.MaxInputChars,
		DataDir:         cfg.Storage.DataDir,
	}
}

// Pipeline validates, embeds and commits records. One producer goroutine
// prepares batch N+1 while the writer commits batch N.
type Pipeline struct {
	sink      Sink
	embedder  embed.Embedder
	validator *Validator
	pool      *ants.Pool
	dims      int
	opts      Options
}

// New creates a pipeline. embedder may be nil, in which case records
// without a supplied embedding are stored without one.
func New(sink Sink, embedder embed.Embedder, policy *access.Policy, opts Options) (*Pipeline, error) {
	if sink == nil {
		return nil, errors.New("ingest: sink is required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	opts.Workers = min(opts.Workers, MaxWorkers)

	dims := opts.Dimensions
	if dims == 0 && embedder != nil {
		dims = embedder.Dimensions()
	}

	pool, err := ants.NewPool(opts.Workers)
	if err != nil {
		return nil, fmt.Errorf("ingest: create worker pool: %w", err)
	}

	return &Pipeline{
		sink:      sink,
		embedder:  embedder,
		validator: NewValidator(policy, dims, opts.MaxContentChars),
		pool:      pool,
		dims:      dims,
		opts:      opts,
	}, nil
}

// Close releases the worker pool.
func (p *Pipeline) Close() {
	p.pool.Release()
}

type batch struct {
	index         int
	entries       []*store.Entry
	rejected      []Rejection
	read          int
	embedFailures int
}

// Run ingests every record from src. Invalid records and failed batches
// are reported, not returned. The error is non-nil when the input cannot
// be read, the run is cancelled, or the vector index cannot be saved; the
// report is returned in every case.
func (p *Pipeline) Run(ctx context.Context, src Reader) (*Report, error) {
	start := time.Now()
	report := &Report{JobID: uuid.NewString()}

	if p.opts.DataDir != "" {
		lock := NewFileLock(p.opts.DataDir)
		if err := lock.TryLock(); err != nil {
			return report, err
		}
		defer func() {
			if err := lock.Unlock(); err != nil {
				slog.Warn("ingest_unlock_failed", slog.String("error", err.Error()))
			}
		}()
	}

	slog.Info("ingest_started",
		slog.String("job_id", report.JobID),
		slog.Int("batch_size", p.opts.BatchSize),
		slog.Int("workers", p.opts.Workers))

	batches := make(chan *batch, 1)
	var produceErr error
	go func() {
		defer close(batches)
		produceErr = p.produce(ctx, src, batches)
	}()

	for b := range batches {
		if ctx.Err() != nil {
			// Queued batches are dropped once cancelled.
			continue
		}
		report.Read += b.read
		report.Rejected = append(report.Rejected, b.rejected...)
		report.EmbeddingFailures += b.embedFailures
		p.opts.Metrics.ObserveRejected(len(b.rejected))
		if len(b.entries) > 0 {
			p.commit(ctx, b, report)
		}
	}

	flushErr := p.sink.Flush(context.WithoutCancel(ctx))
	report.Duration = time.Since(start)

	attrs := []any{
		slog.String("job_id", report.JobID),
		slog.Int("read", report.Read),
		slog.Int("committed", report.Committed),
		slog.Int("rejected", len(report.Rejected)),
		slog.Int("failed_batches", len(report.FailedBatches)),
		slog.Int("embedding_failures", report.EmbeddingFailures),
		slog.Duration("duration", report.Duration),
	}

	switch {
	case ctx.Err() != nil:
		report.Cancelled = true
		slog.Warn("ingest_cancelled", attrs...)
		return report, fmt.Errorf("ingest %s cancelled: %w", report.JobID, ctx.Err())
	case produceErr != nil:
		slog.Error("ingest_failed", append(attrs, slog.String("error", produceErr.Error()))...)
		return report, produceErr
	case flushErr != nil:
		return report, hrerrors.New(hrerrors.ErrCodeIndexFailed, "failed to save the vector index", flushErr)
	}
	slog.Info("ingest_complete", attrs...)
	return report, nil
}

// commit writes one batch. A started commit finishes even if ctx ends.
func (p *Pipeline) commit(ctx context.Context, b *batch, report *Report) {
	err := p.sink.UpsertBatch(context.WithoutCancel(ctx), b.entries)
	n := len(b.entries)
	p.opts.Metrics.ObserveBatch(err == nil, n)

	ev := Event{Batch: b.index, Records: n, Read: report.Read, Rejected: len(report.Rejected)}
	if err != nil {
		failure := hrerrors.New(hrerrors.ErrCodeBatchFailed, fmt.Sprintf("batch %d rolled back", b.index), err)
		report.FailedBatches = append(report.FailedBatches, FailedBatch{
			Index: b.index,
			IDs:   lo.Map(b.entries, func(e *store.Entry, _ int) string { return e.ID }),
			Code:  hrerrors.ErrCodeBatchFailed,
			Error: err.Error(),
			Err:   failure,
		})
		slog.Warn("ingest_batch_failed",
			slog.String("job_id", report.JobID),
			slog.Int("batch", b.index),
			slog.Int("records", n),
			slog.String("error", err.Error()))
		ev.Kind, ev.Err = BatchFailed, failure
	} else {
		report.Committed += n
		report.Batches++
		slog.Debug("ingest_batch_committed",
			slog.String("job_id", report.JobID),
			slog.Int("batch", b.index),
			slog.Int("records", n))
		ev.Kind = BatchCommitted
	}
	ev.Committed = report.Committed

	if p.opts.Progress != nil {
		p.opts.Progress(ev)
	}
}

// produce reads, validates and embeds batches until src is exhausted.
func (p *Pipeline) produce(ctx context.Context, src Reader, out chan<- *batch) error {
	ordinal := 0
	for index := 1; ; index++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		b := &batch{index: index}
		eof := false
		for len(b.entries) < p.opts.BatchSize {
			rec, err := src.Read()
			if errors.Is(err, io.EOF) {
				eof = true
				break
			}
			var perr *ParseError
			switch {
			case errors.As(err, &perr):
				ordinal++
				b.read++
				b.rejected = append(b.rejected, Rejection{Index: ordinal, ID: perr.ID, Reason: perr.Error()})
				continue
			case err != nil:
				return err
			}

			ordinal++
			b.read++
			e, err := p.validator.Entry(rec)
			if err != nil {
				b.rejected = append(b.rejected, Rejection{Index: ordinal, ID: rec.ID, Reason: reason(err)})
				continue
			}
			b.entries = append(b.entries, e)
		}

		if len(b.entries) > 0 {
			b.embedFailures = p.embed(ctx, b.entries)
		}
		if b.read > 0 {
			select {
			case out <- b:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if eof {
			return nil
		}
	}
}

// embed fills missing embeddings on the worker pool and returns the number
// of entries left without one. A failed entry keeps a nil embedding.
func (p *Pipeline) embed(ctx context.Context, entries []*store.Entry) int {
	if p.embedder == nil {
		return 0
	}

	var wg sync.WaitGroup
	var failures atomic.Int64
	fail := func(e *store.Entry, err error) {
		if ctx.Err() != nil {
			return
		}
		failures.Add(1)
		p.opts.Metrics.ObserveEmbeddingFailure()
		slog.Debug("embedding_failed", slog.String("id", e.ID), slog.String("error", err.Error()))
	}

	for _, e := range entries {
		if e.Embedding != nil {
			continue
		}
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			text := embed.TruncateInput(e.Content, p.opts.MaxInputChars)
			vec, err := p.embedder.Embed(ctx, text, embed.ModeDocument)
			if err == nil && !embed.ValidVector(vec, p.dims) {
				err = fmt.Errorf("unusable vector of length %d", len(vec))
			}
			if err != nil {
				fail(e, err)
				return
			}
			e.Embedding = vec
		})
		if err != nil {
			wg.Done()
			fail(e, err)
		}
	}
	wg.Wait()
	return int(failures.Load())
}

func reason(err error) string {
	var he *hrerrors.Error
	if errors.As(err, &he) {
		return he.Message
	}
	return err.Error()
}
