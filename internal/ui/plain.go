package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer writes one line per event, for CI and pipes.
type PlainRenderer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(context.Context) error { return nil }

// UpdateProgress implements Renderer.
func (r *PlainRenderer) UpdateProgress(ev ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case ev.Total > 0:
		_, _ = fmt.Fprintf(r.out, "[%s] batch %d: %d/%d records", ev.Stage.Icon(), ev.Batch, ev.Current, ev.Total)
	case ev.Batch > 0:
		_, _ = fmt.Fprintf(r.out, "[%s] batch %d: %d records", ev.Stage.Icon(), ev.Batch, ev.Current)
	default:
		_, _ = fmt.Fprintf(r.out, "[%s]", ev.Stage.Icon())
	}
	if ev.Message != "" {
		_, _ = fmt.Fprintf(r.out, " - %s", ev.Message)
	}
	_, _ = fmt.Fprintln(r.out)
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(ev ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := "ERROR"
	if ev.IsWarn {
		prefix = "WARN"
	}
	switch {
	case ev.ID != "":
		_, _ = fmt.Fprintf(r.out, "%s: record %s: %v\n", prefix, ev.ID, ev.Err)
	case ev.Batch > 0:
		_, _ = fmt.Fprintf(r.out, "%s: batch %d: %v\n", prefix, ev.Batch, ev.Err)
	default:
		_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, ev.Err)
	}
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	verb := "Complete"
	if stats.Cancelled {
		verb = "Cancelled"
	}
	_, _ = fmt.Fprintf(r.out, "%s: %d of %d records committed in %d batches (%s)\n",
		verb, stats.Committed, stats.Read, stats.Batches, stats.Duration.Round(100*time.Millisecond))

	if stats.Rejected > 0 || stats.FailedBatches > 0 || stats.EmbeddingFailures > 0 {
		_, _ = fmt.Fprintf(r.out, "  rejected: %d, failed batches: %d, without embedding: %d\n",
			stats.Rejected, stats.FailedBatches, stats.EmbeddingFailures)
	}
	if stats.Embedder.Model != "" {
		_, _ = fmt.Fprintf(r.out, "  embedder: %s (%s, %d dims)\n",
			stats.Embedder.Provider, stats.Embedder.Model, stats.Embedder.Dimensions)
	}
	if stats.JobID != "" {
		_, _ = fmt.Fprintf(r.out, "  job: %s\n", stats.JobID)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error { return nil }

var _ Renderer = (*PlainRenderer)(nil)
