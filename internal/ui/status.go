package ui

import (
	"encoding/json"
	"fmt"
	"io"
)

// StatsInfo describes the catalog for the stats command.
type StatsInfo struct {
	DataDir string `json:"data_dir"`
	Backend string `json:"backend"`
	Lexical string `json:"lexical_backend,omitempty"`

	Documents      int    `json:"documents"`
	KnowledgeItems int    `json:"knowledge_items"`
	Embedded       int    `json:"embedded"`
	Vectors        int    `json:"vectors"`
	Dimensions     int    `json:"dimensions"`
	EmbeddingModel string `json:"embedding_model,omitempty"`

	// File sizes in bytes; zero for the postgres backend.
	CatalogSize int64 `json:"catalog_size,omitempty"`
	VectorSize  int64 `json:"vector_size,omitempty"`
	LexicalSize int64 `json:"lexical_size,omitempty"`

	// EmbedderStatus is "ready", "offline" or "error".
	EmbedderStatus string `json:"embedder_status,omitempty"`
}

// StatsRenderer prints StatsInfo.
type StatsRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatsRenderer creates a stats renderer.
func NewStatsRenderer(out io.Writer, noColor bool) *StatsRenderer {
	return &StatsRenderer{out: out, styles: GetStyles(noColor)}
}

// Render prints info as aligned text.
func (r *StatsRenderer) Render(info StatsInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Catalog: "+info.DataDir))

	_, _ = fmt.Fprintf(r.out, "  Documents:       %d\n", info.Documents)
	_, _ = fmt.Fprintf(r.out, "  Knowledge items: %d\n", info.KnowledgeItems)
	_, _ = fmt.Fprintf(r.out, "  Embedded:        %d\n", info.Embedded)
	_, _ = fmt.Fprintf(r.out, "  Vectors:         %d\n", info.Vectors)
	if missing := info.Documents + info.KnowledgeItems - info.Embedded; missing > 0 {
		_, _ = fmt.Fprintf(r.out, "  %s\n", r.styles.Warning.Render(fmt.Sprintf("%d entries without an embedding", missing)))
	}
	_, _ = fmt.Fprintln(r.out)

	backend := info.Backend
	if info.Lexical != "" {
		backend += " (lexical: " + info.Lexical + ")"
	}
	_, _ = fmt.Fprintf(r.out, "  Backend: %s\n", backend)
	if info.CatalogSize > 0 || info.VectorSize > 0 || info.LexicalSize > 0 {
		_, _ = fmt.Fprintf(r.out, "    Catalog: %s\n", FormatBytes(info.CatalogSize))
		_, _ = fmt.Fprintf(r.out, "    Vectors: %s\n", FormatBytes(info.VectorSize))
		if info.LexicalSize > 0 {
			_, _ = fmt.Fprintf(r.out, "    Lexical: %s\n", FormatBytes(info.LexicalSize))
		}
	}
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Embeddings:")
	model := info.EmbeddingModel
	if model == "" {
		model = "none"
	}
	_, _ = fmt.Fprintf(r.out, "    Model:      %s\n", model)
	_, _ = fmt.Fprintf(r.out, "    Dimensions: %d\n", info.Dimensions)
	if info.EmbedderStatus != "" {
		_, _ = fmt.Fprintf(r.out, "    Status:     %s\n", r.renderStatus(info.EmbedderStatus))
	}
	return nil
}

// RenderJSON prints info as indented JSON.
func (r *StatsRenderer) RenderJSON(info StatsInfo) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

func (r *StatsRenderer) renderStatus(status string) string {
	switch status {
	case "ready":
		return r.styles.Success.Render(status)
	case "offline":
		return r.styles.Warning.Render(status)
	case "error":
		return r.styles.Error.Render(status)
	}
	return status
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	}
	return fmt.Sprintf("%d B", bytes)
}
