package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	hrerrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

// ResilientConfig configures ResilientEmbedder.
type ResilientConfig struct {
	// RequestsPerSecond limits calls shared by every caller. 0 disables it.
	RequestsPerSecond float64
	Burst             int

	// Retry is the per-call retry budget.
	Retry hrerrors.RetryConfig

	// MaxFailures consecutive failures open the circuit for ResetTimeout.
	MaxFailures  int
	ResetTimeout time.Duration

	// Fallback is tried once the primary is exhausted. It must share the
	// primary's dimension; a mismatched fallback is ignored.
	Fallback Embedder
}

// DefaultResilientConfig returns a 20 rps limiter, the default retry budget
// and a 5-failure circuit breaker.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		RequestsPerSecond: 20,
		Burst:             10,
		Retry:             hrerrors.DefaultRetryConfig(),
		MaxFailures:       5,
		ResetTimeout:      30 * time.Second,
	}
}

// ResilientEmbedder wraps a provider with rate limiting, retries, a circuit
// breaker and an optional fallback model. Every vector it returns has been
// checked with ValidVector; a zero or wrong-sized vector counts as a failure.
type ResilientEmbedder struct {
	primary  Embedder
	fallback Embedder
	limiter  *rate.Limiter
	breaker  *hrerrors.CircuitBreaker
	retry    hrerrors.RetryConfig
}

var _ Embedder = (*ResilientEmbedder)(nil)

// NewResilientEmbedder wraps primary.
func NewResilientEmbedder(primary Embedder, cfg ResilientConfig) *ResilientEmbedder {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	fallback := cfg.Fallback
	if fallback != nil && fallback.Dimensions() != primary.Dimensions() {
		slog.Warn("embedding fallback ignored: dimension mismatch",
			slog.String("fallback", fallback.ModelName()),
			slog.Int("fallback_dims", fallback.Dimensions()),
			slog.Int("primary_dims", primary.Dimensions()))
		fallback = nil
	}

	retry := cfg.Retry
	retry.ShouldRetry = shouldRetryEmbed

	return &ResilientEmbedder{
		primary:  primary,
		fallback: fallback,
		limiter:  rate.NewLimiter(limit, burst),
		breaker: hrerrors.NewCircuitBreaker("embed:"+primary.ModelName(),
			hrerrors.WithMaxFailures(cfg.MaxFailures),
			hrerrors.WithResetTimeout(cfg.ResetTimeout)),
		retry: retry,
	}
}

// shouldRetryEmbed stops retrying on errors another attempt cannot fix.
func shouldRetryEmbed(err error) bool {
	switch {
	case errors.Is(err, ErrEmptyInput),
		errors.Is(err, ErrClosed),
		errors.Is(err, hrerrors.ErrCircuitOpen),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// Embed returns a valid vector or an ERR_502_EMBEDDING_FAILED error.
func (r *ResilientEmbedder) Embed(ctx context.Context, text string, mode Mode) ([]float32, error) {
	vec, err := r.embedWith(ctx, r.primary, text, mode, true)
	if err == nil {
		return vec, nil
	}
	if errors.Is(err, ErrEmptyInput) || ctx.Err() != nil {
		return nil, err
	}

	if r.fallback != nil {
		slog.Debug("embedding primary exhausted, trying fallback",
			slog.String("primary", r.primary.ModelName()),
			slog.String("fallback", r.fallback.ModelName()),
			slog.String("error", err.Error()))
		if vec, ferr := r.embedWith(ctx, r.fallback, text, mode, false); ferr == nil {
			return vec, nil
		}
	}

	return nil, hrerrors.New(hrerrors.ErrCodeEmbeddingFailed, "embedding failed", err).
		WithDetail("model", r.primary.ModelName())
}

func (r *ResilientEmbedder) embedWith(ctx context.Context, e Embedder, text string, mode Mode, guarded bool) ([]float32, error) {
	call := func() ([]float32, error) {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		vec, err := e.Embed(ctx, text, mode)
		if err != nil {
			return nil, err
		}
		if !ValidVector(vec, r.primary.Dimensions()) {
			return nil, fmt.Errorf("%s returned an unusable vector (len %d, want %d)", e.ModelName(), len(vec), r.primary.Dimensions())
		}
		return vec, nil
	}

	return hrerrors.RetryWithResult(ctx, r.retry, func() ([]float32, error) {
		if !guarded {
			return call()
		}
		return hrerrors.Guard(r.breaker, call)
	})
}

// EmbedBatch embeds each text independently through Embed. Entries that
// cannot be embedded are nil; the error reports the first failure and is
// returned alongside the partial result.
func (r *ResilientEmbedder) EmbedBatch(ctx context.Context, texts []string, mode Mode) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var firstErr error
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		vec, err := r.Embed(ctx, t, mode)
		if err != nil {
			if firstErr == nil && !errors.Is(err, ErrEmptyInput) {
				firstErr = err
			}
			continue
		}
		out[i] = vec
	}
	return out, firstErr
}

// Dimensions returns the primary dimension.
func (r *ResilientEmbedder) Dimensions() int { return r.primary.Dimensions() }

// ModelName returns the primary model.
func (r *ResilientEmbedder) ModelName() string { return r.primary.ModelName() }

// Available reports whether the primary or fallback can serve.
func (r *ResilientEmbedder) Available(ctx context.Context) bool {
	if r.primary.Available(ctx) {
		return true
	}
	return r.fallback != nil && r.fallback.Available(ctx)
}

// Close closes both embedders.
func (r *ResilientEmbedder) Close() error {
	err := r.primary.Close()
	if r.fallback != nil {
		err = errors.Join(err, r.fallback.Close())
	}
	return err
}

// BreakerState exposes the circuit state for stats output.
func (r *ResilientEmbedder) BreakerState() hrerrors.State {
	return r.breaker.State()
}
