package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/Aman-CERP/hybridrag/internal/search"
)

// ResultsRenderer prints search responses.
type ResultsRenderer struct {
	out    io.Writer
	styles Styles
}

// NewResultsRenderer creates a results renderer.
func NewResultsRenderer(out io.Writer, noColor bool) *ResultsRenderer {
	return &ResultsRenderer{out: out, styles: GetStyles(noColor)}
}

// Render prints resp as a numbered list with scores and backend ranks.
func (r *ResultsRenderer) Render(query string, resp *search.Response) error {
	for _, w := range resp.Warnings {
		_, _ = fmt.Fprintf(r.out, "%s\n", r.styles.Warning.Render(fmt.Sprintf("⚠ %s backend unavailable: %s", w.Backend, w.Message)))
	}

	if len(resp.Results) == 0 {
		_, _ = fmt.Fprintf(r.out, "No results for %q\n", query)
		return nil
	}

	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render(fmt.Sprintf("%d results for %q", len(resp.Results), query)))
	for i, rec := range resp.Results {
		tags := []string{string(rec.Kind), rec.ContentType}
		if rec.Category != "" {
			tags = append(tags, rec.Category)
		}
		if rec.Severity != "" {
			tags = append(tags, rec.Severity)
		}

		_, _ = fmt.Fprintf(r.out, "%2d. %s  %s  %s\n", i+1,
			r.styles.Active.Render(rec.ID),
			r.styles.Score.Render(fmt.Sprintf("%.4f", rec.Score)),
			r.styles.Tag.Render("["+strings.Join(tags, ", ")+"]"))
		_, _ = fmt.Fprintf(r.out, "    %s\n", rec.Content)
		if ranks := formatRanks(rec.Ranks); ranks != "" {
			_, _ = fmt.Fprintf(r.out, "    %s\n", r.styles.Dim.Render(ranks))
		}
	}
	return nil
}

// RenderJSON prints resp as indented JSON.
func (r *ResultsRenderer) RenderJSON(resp *search.Response) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// formatRanks lists ranks in backend order, e.g. "semantic #1 · lexical #3".
func formatRanks(ranks map[string]int) string {
	var parts []string
	for _, b := range search.AllBackends {
		if rank, ok := ranks[b]; ok {
			parts = append(parts, fmt.Sprintf("%s #%d", b, rank))
		}
	}
	return strings.Join(parts, " · ")
}
