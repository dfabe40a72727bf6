package search

import (
	"time"

	"github.com/Aman-CERP/hybridrag/internal/store"
)

// DefaultDisplayChars is the rendered content length before "...".
const DefaultDisplayChars = 200

// truncationMarker is appended to shortened content.
const truncationMarker = "..."

// AssembleOptions bound and render one response.
type AssembleOptions struct {
	// Window drops rows created before Now - Window. Zero disables it.
	Window time.Duration
	Limit  int
}

// Assembler turns fused ids into result records.
type Assembler struct {
	// DisplayChars caps rendered content in runes; 0 disables truncation.
	DisplayChars int

	// Now is the clock used for time windows.
	Now func() time.Time
}

// NewAssembler creates an assembler with the wall clock.
func NewAssembler(displayChars int) *Assembler {
	return &Assembler{DisplayChars: displayChars, Now: time.Now}
}

// Assemble applies the window, then the limit, keeping fused order. Ids
// with no row in rows are skipped. The result is never nil.
func (a *Assembler) Assemble(fused []*FusedResult, rows map[string]*store.Entry, opts AssembleOptions) []ResultRecord {
	out := make([]ResultRecord, 0, min(len(fused), max(opts.Limit, 0)))
	if opts.Limit <= 0 {
		return out
	}

	var cutoff time.Time
	if opts.Window > 0 {
		cutoff = a.Now().Add(-opts.Window)
	}

	for _, f := range fused {
		row, ok := rows[f.ID]
		if !ok {
			continue
		}
		if !cutoff.IsZero() && row.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, a.render(f, row))
		if len(out) == opts.Limit {
			break
		}
	}
	return out
}

func (a *Assembler) render(f *FusedResult, row *store.Entry) ResultRecord {
	rec := ResultRecord{
		ID:          row.ID,
		Kind:        row.Kind,
		Content:     Truncate(row.Content, a.DisplayChars),
		ContentType: row.DisplayType(),
		Severity:    row.Severity,
		DocumentID:  row.DocumentID,
		Score:       f.RRFScore,
		RerankScore: f.RerankScore,
		Ranks:       f.Ranks,
	}
	if row.Kind == store.KindDocument {
		rec.Category = row.Category
	}
	if !row.CreatedAt.IsZero() {
		ts := row.CreatedAt
		rec.CreatedAt = &ts
	}
	return rec
}

// Truncate shortens s to n runes plus "..." when it is longer than n.
// n <= 0 returns s unchanged.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + truncationMarker
}
