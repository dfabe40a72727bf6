package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/samber/lo"

	"github.com/Aman-CERP/hybridrag/internal/access"
	hrerrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

// Lexical backend names.
const (
	LexicalSQLite = "sqlite"
	LexicalBleve  = "bleve"
)

// LocalConfig locates the files of a local backend. Empty paths keep the
// corresponding component in memory.
type LocalConfig struct {
	CatalogPath string
	VectorPath  string
	BlevePath   string

	LexicalBackend string

	// Dimensions of the active embedder. Zero adopts whatever the catalog
	// has pinned, for commands that never embed.
	Dimensions     int
	EmbeddingModel string

	CacheMB int
}

// Local is the embedded backend: a SQLite catalog carrying the FTS5 and
// trigram indices, an HNSW graph for vectors, and optionally Bleve for
// lexical search.
type Local struct {
	catalog *SQLiteStore
	vectors *HNSWStore // nil when no dimensionality is known
	bleve   *BleveIndex

	cfg   LocalConfig
	dirty atomic.Bool
}

var _ Backend = (*Local)(nil)

// OpenLocal opens every component and rebuilds derived indices that are
// missing or out of step with the catalog.
func OpenLocal(ctx context.Context, cfg LocalConfig) (*Local, error) {
	catalog, err := NewSQLiteStore(cfg.CatalogPath, cfg.CacheMB)
	if err != nil {
		return nil, err
	}
	l := &Local{catalog: catalog, cfg: cfg}

	if cfg.Dimensions > 0 {
		if err := catalog.EnsureDimensions(ctx, cfg.Dimensions, cfg.EmbeddingModel); err != nil {
			_ = catalog.Close()
			return nil, err
		}
	} else {
		dims, err := catalog.Dimensions(ctx)
		if err != nil {
			_ = catalog.Close()
			return nil, err
		}
		l.cfg.Dimensions = dims
	}

	if l.cfg.Dimensions > 0 {
		if err := l.openVectors(ctx); err != nil {
			_ = catalog.Close()
			return nil, err
		}
	}

	if cfg.LexicalBackend == LexicalBleve {
		if err := l.openBleve(ctx); err != nil {
			_ = l.Close()
			return nil, err
		}
	}
	return l, nil
}

func (l *Local) openVectors(ctx context.Context) error {
	vectors, err := NewHNSWStore(HNSWConfig{Dimensions: l.cfg.Dimensions})
	if err != nil {
		return err
	}
	l.vectors = vectors

	stats, err := l.catalog.Stats(ctx)
	if err != nil {
		return err
	}

	if l.cfg.VectorPath != "" {
		if _, statErr := os.Stat(l.cfg.VectorPath); statErr == nil {
			loadErr := vectors.Load(l.cfg.VectorPath)
			if loadErr == nil && vectors.Count() == stats.Embedded {
				return nil
			}
			slog.Warn("vector_index_stale",
				slog.String("path", l.cfg.VectorPath),
				slog.Int("vectors", vectors.Count()),
				slog.Int("embedded", stats.Embedded),
				slog.Any("error", loadErr))
			vectors.Reset()
		}
	}
	if stats.Embedded == 0 {
		return nil
	}

	slog.Info("rebuilding_vector_index", slog.Int("embedded", stats.Embedded))
	err = l.catalog.EachEmbedding(ctx, func(id string, vec []float32) error {
		return vectors.Add(ctx, []string{id}, [][]float32{vec})
	})
	if err != nil {
		return fmt.Errorf("rebuild vector index: %w", err)
	}
	l.dirty.Store(true)
	return nil
}

func (l *Local) openBleve(ctx context.Context) error {
	idx, created, err := NewBleveIndex(l.cfg.BlevePath)
	if err != nil {
		return err
	}
	l.bleve = idx

	stats, err := l.catalog.Stats(ctx)
	if err != nil {
		return err
	}
	total := stats.Documents + stats.KnowledgeItems
	if !created && idx.Count() == total {
		return nil
	}
	if !created {
		if err := idx.Reset(); err != nil {
			return err
		}
	}
	if total == 0 {
		return nil
	}

	slog.Info("rebuilding_lexical_index", slog.Int("entries", total))
	batch := make([]*Entry, 0, 500)
	err = l.catalog.EachContent(ctx, func(id, content string) error {
		batch = append(batch, &Entry{ID: id, Content: content})
		if len(batch) == cap(batch) {
			if err := idx.Index(ctx, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuild lexical index: %w", err)
	}
	return idx.Index(ctx, batch)
}

// Dimensions returns the vector dimensionality, or 0 when unknown.
func (l *Local) Dimensions() int { return l.cfg.Dimensions }

// UpsertBatch commits entries to the catalog, then mirrors them into the
// derived indices.
func (l *Local) UpsertBatch(ctx context.Context, entries []*Entry) error {
	for _, e := range entries {
		if e.Embedding != nil && len(e.Embedding) != l.cfg.Dimensions {
			return dimensionMismatch(l.cfg.Dimensions, len(e.Embedding))
		}
	}
	if err := l.catalog.UpsertBatch(ctx, entries); err != nil {
		return err
	}

	// From here the catalog is authoritative; index failures are logged
	// and repaired by the rebuild on next open.
	// The last occurrence of an id is what the catalog now holds.
	var ids, stale []string
	var vecs [][]float32
	for _, e := range lastByID(entries) {
		if e.Embedding != nil {
			ids = append(ids, e.ID)
			vecs = append(vecs, e.Embedding)
		} else {
			stale = append(stale, e.ID)
		}
	}
	if l.vectors != nil {
		if err := l.vectors.Delete(ctx, stale); err != nil {
			slog.Error("vector_index_delete_failed", slog.String("error", err.Error()))
		}
		if err := l.vectors.Add(ctx, ids, vecs); err != nil {
			slog.Error("vector_index_add_failed", slog.String("error", err.Error()))
		}
		l.dirty.Store(true)
	}
	if l.bleve != nil {
		if err := l.bleve.Index(ctx, entries); err != nil {
			slog.Error("lexical_index_add_failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

func lastByID(entries []*Entry) []*Entry {
	last := make(map[string]int, len(entries))
	for i, e := range entries {
		last[e.ID] = i
	}
	return lo.Filter(entries, func(e *Entry, i int) bool { return last[e.ID] == i })
}

// Lookup delegates to the catalog.
func (l *Local) Lookup(ctx context.Context, ids []string, filter access.PersonaFilter) (map[string]*Entry, error) {
	return l.catalog.Lookup(ctx, ids, filter)
}

// Delete removes id and its dependent knowledge items everywhere.
func (l *Local) Delete(ctx context.Context, id string) ([]string, error) {
	removed, err := l.catalog.Delete(ctx, id)
	if err != nil || len(removed) == 0 {
		return removed, err
	}
	if l.vectors != nil {
		if err := l.vectors.Delete(ctx, removed); err != nil {
			slog.Error("vector_index_delete_failed", slog.String("error", err.Error()))
		}
		l.dirty.Store(true)
	}
	if l.bleve != nil {
		if err := l.bleve.Delete(ctx, removed); err != nil {
			slog.Error("lexical_index_delete_failed", slog.String("error", err.Error()))
		}
	}
	return removed, nil
}

// Reset empties the catalog and every index.
func (l *Local) Reset(ctx context.Context) error {
	if err := l.catalog.Reset(ctx); err != nil {
		return err
	}
	if l.vectors != nil {
		l.vectors.Reset()
		l.dirty.Store(true)
	}
	if l.bleve != nil {
		return l.bleve.Reset()
	}
	return nil
}

// Stats reports catalog counts plus the live vector count.
func (l *Local) Stats(ctx context.Context) (*Stats, error) {
	st, err := l.catalog.Stats(ctx)
	if err != nil {
		return nil, err
	}
	if l.vectors != nil {
		st.Vectors = l.vectors.Count()
	}
	return st, nil
}

// SearchVector searches the HNSW graph for entries visible to filter.
func (l *Local) SearchVector(ctx context.Context, vector []float32, k int, filter access.PersonaFilter) ([]VectorResult, error) {
	if l.vectors == nil {
		return nil, hrerrors.New(hrerrors.ErrCodeBackendUnavailable, "vector index has no dimensionality", nil)
	}
	return visibleTopK(ctx, l.catalog, filter, k,
		func(r VectorResult) string { return r.ID },
		func(n int) ([]VectorResult, error) { return l.vectors.SearchVector(ctx, vector, n) })
}

// SearchLexical searches FTS5, or Bleve when configured.
func (l *Local) SearchLexical(ctx context.Context, text string, k int, filter access.PersonaFilter) ([]LexicalResult, error) {
	if l.bleve != nil {
		return visibleTopK(ctx, l.catalog, filter, k,
			func(r LexicalResult) string { return r.ID },
			func(n int) ([]LexicalResult, error) { return l.bleve.SearchLexical(ctx, text, n) })
	}
	return l.catalog.SearchLexical(ctx, text, k, filter)
}

// SearchFuzzy searches the trigram index.
func (l *Local) SearchFuzzy(ctx context.Context, text string, threshold float64, k int, filter access.PersonaFilter) ([]FuzzyResult, error) {
	return l.catalog.SearchFuzzy(ctx, text, threshold, k, filter)
}

// visibleTopK serves an index that knows nothing about personas. It asks
// search for ever larger candidate lists, best first, until k of them are
// visible to filter or the index returns fewer than requested.
func visibleTopK[T any](ctx context.Context, catalog *SQLiteStore, filter access.PersonaFilter, k int,
	idOf func(T) string, search func(n int) ([]T, error)) ([]T, error) {
	if k <= 0 {
		return nil, nil
	}
	if filter.Privileged() {
		return search(k)
	}
	for n := k; ; n *= 2 {
		res, err := search(n)
		if err != nil {
			return nil, err
		}
		visible, err := catalog.VisibleIDs(ctx, lo.Map(res, func(r T, _ int) string { return idOf(r) }), filter)
		if err != nil {
			return nil, err
		}
		out := lo.Filter(res, func(r T, _ int) bool { return visible[idOf(r)] })
		if len(out) >= k || len(res) < n {
			if len(out) > k {
				out = out[:k]
			}
			return out, nil
		}
	}
}

// Flush saves the vector graph when it changed.
func (l *Local) Flush(ctx context.Context) error {
	if l.vectors == nil || l.cfg.VectorPath == "" || !l.dirty.Load() {
		return nil
	}
	if err := l.vectors.Save(l.cfg.VectorPath); err != nil {
		return hrerrors.New(hrerrors.ErrCodeIndexFailed, "failed to save vector index", err)
	}
	l.dirty.Store(false)
	return nil
}

// Close flushes and closes every component.
func (l *Local) Close() error {
	var errs []error
	if err := l.Flush(context.Background()); err != nil {
		errs = append(errs, err)
	}
	if l.vectors != nil {
		errs = append(errs, l.vectors.Close())
	}
	if l.bleve != nil {
		errs = append(errs, l.bleve.Close())
	}
	errs = append(errs, l.catalog.Close())
	return errors.Join(errs...)
}
