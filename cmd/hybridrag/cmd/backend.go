package cmd

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/Aman-CERP/hybridrag/internal/access"
	"github.com/Aman-CERP/hybridrag/internal/config"
	"github.com/Aman-CERP/hybridrag/internal/embed"
	hrerrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/search"
	"github.com/Aman-CERP/hybridrag/internal/store"
	"github.com/Aman-CERP/hybridrag/internal/store/postgres"
)

// runtime bundles what a command needs to reach the catalog.
type runtime struct {
	cfg      *config.Config
	backend  store.Backend
	embedder embed.Embedder // nil for commands that never embed
	policy   *access.Policy
}

// embedderMode says whether a command builds the embedding provider.
type embedderMode int

const (
	embedderNone embedderMode = iota
	embedderRequired
	// embedderOptional degrades to lexical and fuzzy retrieval when the
	// provider cannot be built.
	embedderOptional
)

// openRuntime loads the access policy and opens the configured backend.
// When an embedder is built its dimensionality is pinned in the catalog.
func openRuntime(ctx context.Context, cfg *config.Config, mode embedderMode) (*runtime, error) {
	policy, err := access.NewPolicy(cfg.Access)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, policy: policy}

	dims, model := cfg.Embeddings.Dimensions, ""
	if mode != embedderNone {
		e, err := embed.New(ctx, cfg.Embeddings, cfg.Ingest.RetryBudget)
		switch {
		case err == nil:
			rt.embedder = e
			dims, model = e.Dimensions(), e.ModelName()
		case mode == embedderOptional:
			slog.Warn("embedder unavailable, semantic search disabled", slog.String("error", err.Error()))
		default:
			return nil, err
		}
	}

	backend, err := openBackend(ctx, cfg, dims, model)
	if err != nil {
		if rt.embedder != nil {
			_ = rt.embedder.Close()
		}
		return nil, err
	}
	rt.backend = backend
	return rt, nil
}

// Close flushes derived indices and releases the backend and embedder.
func (rt *runtime) Close() error {
	var errs []error
	if rt.backend != nil {
		errs = append(errs, rt.backend.Close())
	}
	if rt.embedder != nil {
		errs = append(errs, rt.embedder.Close())
	}
	return errors.Join(errs...)
}

// openBackend opens the embedded SQLite backend or PostgreSQL. dims of 0
// adopts whatever the local catalog has pinned.
func openBackend(ctx context.Context, cfg *config.Config, dims int, model string) (store.Backend, error) {
	switch strings.ToLower(cfg.Storage.Backend) {
	case "postgres":
		if cfg.Storage.PostgresDSN == "" {
			return nil, hrerrors.ConfigError("storage.postgres_dsn is required for the postgres backend", nil).
				WithSuggestion("Set storage.postgres_dsn or HYBRIDRAG_POSTGRES_DSN")
		}
		slog.Debug("opening postgres backend", slog.Int("dimensions", dims))
		return postgres.Open(ctx, cfg.Storage.PostgresDSN, dims, model)
	default:
		slog.Debug("opening local backend",
			slog.String("data_dir", cfg.Storage.DataDir),
			slog.String("lexical", cfg.Storage.LexicalBackend),
			slog.Int("dimensions", dims))
		return store.OpenLocal(ctx, store.LocalConfig{
			CatalogPath:    cfg.CatalogPath(),
			VectorPath:     cfg.VectorPath(),
			BlevePath:      cfg.BlevePath(),
			LexicalBackend: strings.ToLower(cfg.Storage.LexicalBackend),
			Dimensions:     dims,
			EmbeddingModel: model,
			CacheMB:        cfg.Storage.SQLiteCacheMB,
		})
	}
}

// engineOptions adds the reranker when search.rerank is on and an
// embedder is available to score with.
func (rt *runtime) engineOptions(opts ...search.EngineOption) []search.EngineOption {
	if rt.cfg.Search.Rerank {
		if rt.embedder == nil {
			slog.Warn("rerank_disabled", slog.String("reason", "no embedder"))
		} else {
			opts = append(opts, search.WithReranker(
				search.NewEmbeddingReranker(rt.embedder, rt.cfg.Embeddings.MaxInputChars)))
		}
	}
	return opts
}
