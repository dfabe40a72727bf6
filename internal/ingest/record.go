// Package ingest loads catalog records from JSON Lines or CSV, validates
// and embeds them, and commits them to the catalog in batches.
package ingest

import (
	"time"

	"github.com/Aman-CERP/hybridrag/internal/store"
)

// Record is one input row before validation.
type Record struct {
	Kind    store.Kind `json:"kind,omitempty"`
	ID      string     `json:"id"`
	Content string     `json:"content"`

	Category    string `json:"category,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Severity    string `json:"severity,omitempty"`
	DocumentID  string `json:"document_id,omitempty"`

	PersonaAccess []string `json:"persona_access,omitempty"`

	Price           *float64 `json:"price,omitempty"`
	Rating          *float64 `json:"rating,omitempty"`
	Reviews         *int     `json:"reviews,omitempty"`
	BoughtLastMonth *int     `json:"bought_last_month,omitempty"`
	Bestseller      bool     `json:"bestseller,omitempty"`
	ImageURL        string   `json:"image_url,omitempty"`
	ProductURL      string   `json:"product_url,omitempty"`

	Embedding []float32  `json:"embedding,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// Rejection is a record skipped by validation or parsing.
type Rejection struct {
	// Index is the 1-based position of the record in its input.
	Index  int    `json:"index"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason"`
}

// FailedBatch is a batch whose transaction rolled back.
type FailedBatch struct {
	Index int      `json:"index"`
	IDs   []string `json:"ids"`
	Code  string   `json:"code"`
	Error string   `json:"error"`

	Err error `json:"-"`
}

// Report summarizes one run.
type Report struct {
	JobID string `json:"job_id"`

	Read      int `json:"read"`
	Committed int `json:"committed"`
	Batches   int `json:"batches"`

	Rejected          []Rejection   `json:"rejected,omitempty"`
	FailedBatches     []FailedBatch `json:"failed_batches,omitempty"`
	EmbeddingFailures int           `json:"embedding_failures"`

	Cancelled bool          `json:"cancelled"`
	Duration  time.Duration `json:"duration"`
}

// EventKind identifies a progress event.
type EventKind int

const (
	BatchCommitted EventKind = iota
	BatchFailed
)

func (k EventKind) String() string {
	if k == BatchFailed {
		return "batch_failed"
	}
	return "batch_committed"
}

// Event is emitted by the writer after each batch.
type Event struct {
	Kind  EventKind
	Batch int

	// Records in this batch; Committed and Read are running totals.
	Records   int
	Committed int
	Read      int
	Rejected  int

	Err error
}

// ProgressFunc receives events on the writer goroutine. It must not block.
type ProgressFunc func(Event)
