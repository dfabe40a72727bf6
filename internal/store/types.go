// Package store persists catalog entries and serves the three retrieval
// indices: vector (HNSW), lexical (SQLite FTS5 or Bleve) and fuzzy
// (trigram). The catalog is the single source of truth; every index can be
// rebuilt from it.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Aman-CERP/hybridrag/internal/access"
	hrerrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

// Kind distinguishes the two entry types sharing one id space.
type Kind string

const (
	KindDocument  Kind = "document"
	KindKnowledge Kind = "knowledge"
)

// Severity labels for knowledge items.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// ValidSeverity reports whether s is empty or a known label.
func ValidSeverity(s string) bool {
	switch s {
	case "", SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// Entry is one catalog row: a product document or a knowledge item.
type Entry struct {
	ID      string
	Kind    Kind
	Content string

	// Category applies to documents; ContentType to knowledge items.
	Category    string
	ContentType string

	Severity   string
	DocumentID string

	// PersonaAccess is empty for documents and non-empty for knowledge.
	PersonaAccess []string

	Price           *float64
	Rating          *float64
	Reviews         *int
	BoughtLastMonth *int
	Bestseller      bool
	ImageURL        string
	ProductURL      string

	// Embedding is nil when no valid vector exists. Never a zero vector.
	Embedding []float32

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DisplayType is the label rendered as a result's content type.
func (e *Entry) DisplayType() string {
	if e.Kind == KindKnowledge {
		return e.ContentType
	}
	return e.Category
}

// Visible reports whether filter admits e. Documents are unscoped; a
// knowledge item needs a non-empty scope the filter allows.
func Visible(e *Entry, filter access.PersonaFilter) bool {
	if e.Kind == KindDocument {
		return true
	}
	return len(e.PersonaAccess) > 0 && filter.Allows(e.PersonaAccess)
}

// scopeOf returns the persona labels stored for e. Documents carry none.
func scopeOf(e *Entry) []string {
	if e.Kind == KindDocument {
		return nil
	}
	return e.PersonaAccess
}

// VectorResult is one nearest-neighbour hit.
type VectorResult struct {
	ID string
	// Distance is cosine distance in [0,2]; smaller is closer.
	Distance float32
	// Similarity is 1 - Distance.
	Similarity float32
}

// LexicalResult is one full-text hit. Score is unbounded; larger is better.
type LexicalResult struct {
	ID    string
	Score float64
}

// FuzzyResult is one trigram hit with Similarity in [0,1].
type FuzzyResult struct {
	ID         string
	Similarity float64
}

// The search indices return only rows visible to filter, and apply it
// before truncating to k so hidden rows never take a candidate slot.

// VectorIndex serves approximate nearest-neighbour search.
type VectorIndex interface {
	SearchVector(ctx context.Context, vector []float32, k int, filter access.PersonaFilter) ([]VectorResult, error)
}

// LexicalIndex serves ranked full-text search. Terms are OR-ed.
type LexicalIndex interface {
	SearchLexical(ctx context.Context, text string, k int, filter access.PersonaFilter) ([]LexicalResult, error)
}

// FuzzyIndex serves trigram similarity search. Rows below threshold never
// appear.
type FuzzyIndex interface {
	SearchFuzzy(ctx context.Context, text string, threshold float64, k int, filter access.PersonaFilter) ([]FuzzyResult, error)
}

// Catalog is the transactional row store. Lookup is the only read path for
// entry contents and always applies a PersonaFilter.
type Catalog interface {
	// UpsertBatch writes entries in one transaction. On error nothing from
	// the batch is visible.
	UpsertBatch(ctx context.Context, entries []*Entry) error

	// Lookup returns the visible entries among ids, keyed by id. Ids that
	// are missing or filtered out are simply absent.
	Lookup(ctx context.Context, ids []string, filter access.PersonaFilter) (map[string]*Entry, error)

	// Delete removes id and the knowledge items referencing it. It returns
	// every removed id; none when id does not exist.
	Delete(ctx context.Context, id string) ([]string, error)

	// Reset removes every entry.
	Reset(ctx context.Context) error

	Stats(ctx context.Context) (*Stats, error)
}

// Backend is a complete storage implementation: catalog plus the three
// indices. Flush persists anything held in memory.
type Backend interface {
	Catalog
	VectorIndex
	LexicalIndex
	FuzzyIndex

	Dimensions() int
	Flush(ctx context.Context) error
	Close() error
}

// Stats summarizes catalog contents.
type Stats struct {
	Documents      int `json:"documents"`
	KnowledgeItems int `json:"knowledge_items"`
	Embedded       int `json:"embedded"`
	Vectors        int `json:"vectors"`

	Dimensions     int    `json:"dimensions"`
	EmbeddingModel string `json:"embedding_model,omitempty"`
}

// Meta keys recorded in the catalog.
const (
	MetaKeyDimensions = "embedding_dimensions"
	MetaKeyModel      = "embedding_model"
	MetaKeySchema     = "schema_version"
)

// CurrentSchemaVersion is the catalog schema version.
const CurrentSchemaVersion = 1

// dimensionMismatch builds an ERR_402 error.
func dimensionMismatch(expected, got int) error {
	return hrerrors.New(hrerrors.ErrCodeDimensionMismatch,
		fmt.Sprintf("dimension mismatch: expected %d, got %d", expected, got), nil).
		WithDetail("expected", fmt.Sprint(expected)).
		WithDetail("got", fmt.Sprint(got)).
		WithSuggestion("Run 'hybridrag reset --yes' and re-ingest after changing embedding models")
}
