package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Aman-CERP/hybridrag/internal/config"
	hrerrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

// ProviderType names an embedding provider.
type ProviderType string

const (
	// ProviderAuto tries Ollama and falls back to static.
	ProviderAuto ProviderType = ""

	ProviderOllama ProviderType = "ollama"
	ProviderOpenAI ProviderType = "openai"

	// ProviderStatic uses hash-based embeddings; offline and deterministic.
	ProviderStatic ProviderType = "static"
)

// New builds the embedder described by cfg: the provider client, wrapped in
// a ResilientEmbedder (rate limit, retryBudget retries, circuit breaker,
// fallback model) and, when cfg.CacheSize > 0, a query cache.
func New(ctx context.Context, cfg config.EmbeddingsConfig, retryBudget int) (Embedder, error) {
	primary, err := newProvider(ctx, cfg, cfg.Model)
	if err != nil {
		return nil, err
	}

	rc := DefaultResilientConfig()
	rc.RequestsPerSecond = cfg.RequestsPerSecond
	rc.Burst = cfg.Burst
	rc.Retry.MaxRetries = retryBudget

	if cfg.FallbackModel != "" && primary.ModelName() != "static" {
		fb, err := newProvider(ctx, cfg, cfg.FallbackModel)
		if err != nil {
			slog.Warn("embedding fallback model unavailable",
				slog.String("model", cfg.FallbackModel),
				slog.String("error", err.Error()))
		} else {
			rc.Fallback = fb
		}
	}

	var e Embedder = NewResilientEmbedder(primary, rc)
	if cfg.CacheSize > 0 {
		e = NewCachedEmbedder(e, cfg.CacheSize)
	}

	slog.Info("embedder ready",
		slog.String("provider", providerName(cfg.Provider, primary)),
		slog.String("model", e.ModelName()),
		slog.Int("dimensions", e.Dimensions()))
	return e, nil
}

func providerName(configured string, e Embedder) string {
	if configured != "" {
		return configured
	}
	if e.ModelName() == "static" {
		return string(ProviderStatic)
	}
	return string(ProviderOllama)
}

func newProvider(ctx context.Context, cfg config.EmbeddingsConfig, model string) (Embedder, error) {
	switch ProviderType(strings.ToLower(cfg.Provider)) {
	case ProviderOllama:
		e, err := newOllama(ctx, cfg, model)
		if err != nil {
			return nil, hrerrors.New(hrerrors.ErrCodeEmbeddingUnavailable, "ollama unavailable", err).
				WithSuggestion("Start Ollama (ollama serve) and pull the model, or set embeddings.provider: static")
		}
		return e, nil

	case ProviderOpenAI:
		e, err := NewOpenAIEmbedder(OpenAIConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.Endpoint,
			Model:      model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		})
		if err != nil {
			return nil, hrerrors.New(hrerrors.ErrCodeEmbeddingUnavailable, "openai provider misconfigured", err).
				WithSuggestion("Set embeddings.api_key or OPENAI_API_KEY")
		}
		return e, nil

	case ProviderStatic:
		return NewStaticEmbedder(cfg.Dimensions), nil

	case ProviderAuto:
		e, err := newOllama(ctx, cfg, model)
		if err == nil {
			return e, nil
		}
		slog.Warn("ollama not reachable, using static embeddings",
			slog.String("error", err.Error()))
		return NewStaticEmbedder(cfg.Dimensions), nil

	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Provider)
	}
}

func newOllama(ctx context.Context, cfg config.EmbeddingsConfig, model string) (*OllamaEmbedder, error) {
	oc := DefaultOllamaConfig()
	if cfg.Endpoint != "" {
		oc.Host = cfg.Endpoint
	}
	if model != "" {
		oc.Model = model
	}
	oc.Dimensions = cfg.Dimensions
	if cfg.Timeout > 0 {
		oc.Timeout = cfg.Timeout
	}
	return NewOllamaEmbedder(ctx, oc)
}
