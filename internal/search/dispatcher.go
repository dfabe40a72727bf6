package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/hybridrag/internal/access"
	"github.com/Aman-CERP/hybridrag/internal/embed"
	hrerrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/store"
	"github.com/Aman-CERP/hybridrag/internal/telemetry"
)

// DefaultBackendTimeout bounds each backend when a request sets none.
const DefaultBackendTimeout = 5 * time.Second

// Request is one fan-out.
type Request struct {
	Text string

	// Vector skips query embedding when set.
	Vector []float32

	// Filter is applied by every index before it truncates to
	// CandidateLimit.
	Filter access.PersonaFilter

	Backends       []string
	CandidateLimit int
	FuzzyThreshold float64
	Timeout        time.Duration
}

// Retrieval holds the lists of every backend that completed, in
// AllBackends order, and a warning for each that did not.
type Retrieval struct {
	Lists    []RankedList
	Warnings []Warning
}

// Dispatcher queries the selected indices concurrently.
type Dispatcher struct {
	vector   store.VectorIndex
	lexical  store.LexicalIndex
	fuzzy    store.FuzzyIndex
	embedder embed.Embedder
	metrics  *telemetry.Metrics
}

// NewDispatcher wires the indices. embedder may be nil when callers always
// pass Request.Vector or never select semantic.
func NewDispatcher(vector store.VectorIndex, lexical store.LexicalIndex, fuzzy store.FuzzyIndex,
	embedder embed.Embedder, metrics *telemetry.Metrics) *Dispatcher {
	return &Dispatcher{
		vector:   vector,
		lexical:  lexical,
		fuzzy:    fuzzy,
		embedder: embedder,
		metrics:  metrics,
	}
}

type outcome struct {
	list RankedList
	err  error
}

// Retrieve runs every selected backend under its own timeout. A backend
// that fails becomes a warning. When ctx ends first, backends still
// running are abandoned and only finished lists are used.
func (d *Dispatcher) Retrieve(ctx context.Context, req Request) (*Retrieval, error) {
	backends := req.Backends
	if len(backends) == 0 {
		backends = AllBackends
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultBackendTimeout
	}

	var mu sync.Mutex
	results := make(map[string]outcome, len(backends))

	var g errgroup.Group
	for _, backend := range backends {
		g.Go(func() error {
			bctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			list, err := d.run(bctx, backend, req)
			if err == nil && bctx.Err() != nil {
				err = bctx.Err()
			}
			d.metrics.ObserveBackend(backend, time.Since(start), err != nil)

			mu.Lock()
			results[backend] = outcome{list: list, err: err}
			mu.Unlock()
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	snapshot := make(map[string]outcome, len(results))
	for b, o := range results {
		snapshot[b] = o
	}
	mu.Unlock()

	out := &Retrieval{}
	var errs []error
	for _, backend := range AllBackends {
		if !lo.Contains(backends, backend) {
			continue
		}
		o, finished := snapshot[backend]
		switch {
		case !finished:
			err := fmt.Errorf("%s abandoned: %w", backend, ctx.Err())
			errs = append(errs, err)
			out.Warnings = append(out.Warnings, unavailable(backend, err))
		case o.err != nil:
			errs = append(errs, fmt.Errorf("%s: %w", backend, o.err))
			out.Warnings = append(out.Warnings, unavailable(backend, o.err))
		default:
			out.Lists = append(out.Lists, o.list)
		}
	}

	if len(out.Lists) == 0 {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, hrerrors.New(hrerrors.ErrCodeQueryTimeout,
				"query deadline expired before any backend completed", ctx.Err()).
				WithSuggestion("Retry with a longer deadline or fewer backends")
		}
		cause := errors.Join(errs...)
		if ctx.Err() != nil {
			cause = errors.Join(ctx.Err(), cause)
		}
		return nil, hrerrors.New(hrerrors.ErrCodeRetrievalUnavailable,
			"no retrieval backend is available", cause).
			WithSuggestion("Check the embedding provider and the storage backend")
	}
	return out, nil
}

func unavailable(backend string, err error) Warning {
	slog.Warn("backend_unavailable",
		slog.String("backend", backend),
		slog.String("error", err.Error()))
	return Warning{
		Backend: backend,
		Code:    hrerrors.ErrCodeBackendUnavailable,
		Message: err.Error(),
	}
}

func (d *Dispatcher) run(ctx context.Context, backend string, req Request) (RankedList, error) {
	switch backend {
	case BackendSemantic:
		if d.vector == nil {
			return RankedList{}, errors.New("no vector index configured")
		}
		vec := req.Vector
		if vec == nil {
			if d.embedder == nil {
				return RankedList{}, errors.New("no embedder configured")
			}
			var err error
			vec, err = d.embedder.Embed(ctx, req.Text, embed.ModeQuery)
			if err != nil {
				return RankedList{}, fmt.Errorf("embed query: %w", err)
			}
		}
		rs, err := d.vector.SearchVector(ctx, vec, req.CandidateLimit, req.Filter)
		if err != nil {
			return RankedList{}, err
		}
		return vectorList(rs), nil

	case BackendLexical:
		if d.lexical == nil {
			return RankedList{}, errors.New("no lexical index configured")
		}
		rs, err := d.lexical.SearchLexical(ctx, req.Text, req.CandidateLimit, req.Filter)
		if err != nil {
			return RankedList{}, err
		}
		return lexicalList(rs), nil

	case BackendFuzzy:
		if d.fuzzy == nil {
			return RankedList{}, errors.New("no fuzzy index configured")
		}
		rs, err := d.fuzzy.SearchFuzzy(ctx, req.Text, req.FuzzyThreshold, req.CandidateLimit, req.Filter)
		if err != nil {
			return RankedList{}, err
		}
		return fuzzyList(rs), nil
	}
	return RankedList{}, fmt.Errorf("unknown backend %q", backend)
}
