package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"

	"github.com/Aman-CERP/hybridrag/internal/access"
	"github.com/Aman-CERP/hybridrag/internal/config"
	"github.com/Aman-CERP/hybridrag/internal/embed"
	hrerrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/store"
	"github.com/Aman-CERP/hybridrag/internal/telemetry"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// Engine is the single query entry point for every surface.
type Engine struct {
	catalog    store.Catalog
	dispatcher *Dispatcher
	assembler  *Assembler
	policy     *access.Policy
	config     config.SearchConfig
	metrics    *telemetry.Metrics
	reranker   Reranker
}

// LookupTimeout bounds the catalog read after retrieval. It runs detached
// from the caller's deadline so lists that finished in time still fuse.
const LookupTimeout = 2 * time.Second

// EngineOption configures the search engine.
type EngineOption func(*Engine)

// WithMetrics records search and backend metrics.
func WithMetrics(m *telemetry.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
		e.dispatcher.metrics = m
	}
}

// WithClock replaces the wall clock used for time windows.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.assembler.Now = now
	}
}

// WithReranker reorders fused results with r before assembly. Without it
// results keep the RRF order. A reranker failure falls back to that order.
func WithReranker(r Reranker) EngineOption {
	return func(e *Engine) {
		e.reranker = r
	}
}

// NewEngine wires a backend, an embedder and the access policy.
func NewEngine(backend store.Backend, embedder embed.Embedder, policy *access.Policy,
	cfg config.SearchConfig, opts ...EngineOption) (*Engine, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: backend", ErrNilDependency)
	}
	if policy == nil {
		return nil, fmt.Errorf("%w: access policy", ErrNilDependency)
	}

	e := &Engine{
		catalog:    backend,
		dispatcher: NewDispatcher(backend, backend, backend, embedder, nil),
		assembler:  NewAssembler(cfg.DisplayChars),
		policy:     policy,
		config:     cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Policy returns the access policy queries are checked against.
func (e *Engine) Policy() *access.Policy { return e.policy }

// plan is a validated Query with defaults applied.
type plan struct {
	text      string
	window    time.Duration
	limit     int
	rrfK      int
	threshold float64
	backends  []string
	cands     int
}

func (e *Engine) plan(q Query) (*plan, error) {
	p := &plan{text: strings.TrimSpace(q.Text)}

	if p.text == "" {
		return nil, hrerrors.New(hrerrors.ErrCodeQueryEmpty, "query text is empty", nil)
	}
	maxChars := e.config.MaxQueryChars
	if maxChars <= 0 {
		maxChars = 1000
	}
	if n := utf8.RuneCountInString(p.text); n > maxChars {
		return nil, hrerrors.New(hrerrors.ErrCodeQueryTooLong,
			fmt.Sprintf("query is %d characters; the maximum is %d", n, maxChars), nil)
	}

	switch {
	case q.Limit < 0:
		return nil, hrerrors.InvalidQuery("limit must not be negative")
	case q.Limit == 0:
		p.limit = e.config.DefaultLimit
	default:
		p.limit = q.Limit
	}
	if e.config.MaxLimit > 0 && p.limit > e.config.MaxLimit {
		p.limit = e.config.MaxLimit
	}

	switch {
	case q.RRFK < 0:
		return nil, hrerrors.InvalidQuery("rrf_k must not be negative")
	case q.RRFK == 0:
		p.rrfK = e.config.RRFK
	default:
		p.rrfK = q.RRFK
	}

	p.threshold = e.config.FuzzyThreshold
	if q.FuzzyThreshold != nil {
		p.threshold = *q.FuzzyThreshold
	}
	if p.threshold < 0 || p.threshold > 1 {
		return nil, hrerrors.InvalidQuery(fmt.Sprintf("fuzzy_threshold %.3g is outside [0,1]", p.threshold))
	}

	if q.TimeWindow < 0 {
		return nil, hrerrors.InvalidQuery("time window must not be negative")
	}
	p.window = q.TimeWindow

	switch {
	case q.CandidateLimit < 0:
		return nil, hrerrors.InvalidQuery("candidate limit must not be negative")
	case q.CandidateLimit == 0:
		p.cands = e.config.CandidateLimit
	default:
		p.cands = q.CandidateLimit
	}
	if p.cands <= 0 {
		p.cands = 20
	}

	backends := q.Backends
	if len(backends) == 0 {
		backends = e.config.Backends
	}
	if len(backends) == 0 {
		backends = AllBackends
	}
	for _, b := range backends {
		if !lo.Contains(AllBackends, b) {
			return nil, hrerrors.InvalidQuery(fmt.Sprintf("unknown backend %q", b)).
				WithSuggestion("Use semantic, lexical or fuzzy")
		}
	}
	p.backends = lo.Uniq(backends)
	return p, nil
}

// Search validates q, retrieves candidates from each backend, drops rows
// the persona may not see, fuses and assembles the response.
func (e *Engine) Search(ctx context.Context, q Query) (resp *Response, err error) {
	start := time.Now()
	defer func() {
		outcome, n := "ok", 0
		if err != nil {
			outcome = hrerrors.GetCode(err)
		} else {
			n = len(resp.Results)
		}
		persona := q.Persona
		if !e.policy.Known(persona) {
			persona = "unknown"
		}
		e.metrics.ObserveSearch(persona, outcome, time.Since(start), n)
	}()

	p, err := e.plan(q)
	if err != nil {
		return nil, err
	}
	filter, err := e.policy.Filter(q.Persona)
	if err != nil {
		return nil, err
	}

	retrieval, err := e.dispatcher.Retrieve(ctx, Request{
		Text:           p.text,
		Filter:         filter,
		Backends:       p.backends,
		CandidateLimit: p.cands,
		FuzzyThreshold: p.threshold,
		Timeout:        e.config.BackendTimeout,
	})
	if err != nil {
		return nil, err
	}

	candidates := lo.Uniq(lo.FlatMap(retrieval.Lists, func(l RankedList, _ int) []string { return l.IDs }))
	lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), LookupTimeout)
	defer cancel()
	rows, err := e.catalog.Lookup(lookupCtx, candidates, filter)
	if err != nil {
		return nil, hrerrors.New(hrerrors.ErrCodeRetrievalUnavailable, "catalog lookup failed", err)
	}

	// Invisible ids leave every list before ranks are assigned.
	lists := make([]RankedList, len(retrieval.Lists))
	for i, l := range retrieval.Lists {
		lists[i] = l.filter(func(id string) bool {
			_, ok := rows[id]
			return ok
		})
	}

	fused := NewRRFFusionWithK(p.rrfK).Fuse(lists...)
	fused = e.rerank(ctx, p.text, fused, rows)
	results := e.assembler.Assemble(fused, rows, AssembleOptions{Window: p.window, Limit: p.limit})

	resp = &Response{
		Results:  results,
		Warnings: retrieval.Warnings,
		Backends: contributions(lists, results),
	}

	slog.Info("search",
		slog.String("persona", filter.Persona()),
		slog.Any("backends", p.backends),
		slog.Int("results", len(results)),
		slog.Int("warnings", len(resp.Warnings)),
		slog.Duration("latency", time.Since(start)))
	return resp, nil
}

// rerank reorders fused by the reranker's scores. Every fused id has a row
// in rows. Any failure keeps the fused order.
func (e *Engine) rerank(ctx context.Context, query string, fused []*FusedResult, rows map[string]*store.Entry) []*FusedResult {
	if e.reranker == nil || len(fused) < 2 {
		return fused
	}
	if ctx.Err() != nil || !e.reranker.Available(ctx) {
		slog.Debug("rerank_skipped", slog.Int("candidates", len(fused)))
		return fused
	}

	docs := make([]string, len(fused))
	for i, f := range fused {
		docs[i] = rows[f.ID].Content
	}
	start := time.Now()
	reranked, err := e.reranker.Rerank(ctx, query, docs, 0)
	if err != nil {
		slog.Warn("rerank_failed", slog.String("error", err.Error()))
		return fused
	}

	out := make([]*FusedResult, 0, len(fused))
	seen := make(map[int]bool, len(reranked))
	for _, rr := range reranked {
		if rr.Index < 0 || rr.Index >= len(fused) || seen[rr.Index] {
			continue
		}
		seen[rr.Index] = true
		f := fused[rr.Index]
		score := rr.Score
		f.RerankScore = &score
		out = append(out, f)
	}
	// Ids the reranker dropped follow in fused order.
	for i, f := range fused {
		if !seen[i] {
			out = append(out, f)
		}
	}
	slog.Debug("rerank",
		slog.Int("candidates", len(fused)),
		slog.Duration("latency", time.Since(start)))
	return out
}

// contributions counts, per completed backend, how many returned results
// it ranked.
func contributions(lists []RankedList, results []ResultRecord) map[string]int {
	out := make(map[string]int, len(lists))
	for _, l := range lists {
		out[l.Backend] = 0
	}
	for _, r := range results {
		for b := range r.Ranks {
			out[b]++
		}
	}
	return out
}
