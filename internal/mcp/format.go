package mcp

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/hybridrag/internal/search"
	"github.com/Aman-CERP/hybridrag/internal/store"
)

// FormatSearchResults formats a response as markdown for the agent.
func FormatSearchResults(query, persona string, resp *search.Response) string {
	var sb strings.Builder

	for _, w := range resp.Warnings {
		fmt.Fprintf(&sb, "> **Warning:** %s search unavailable (%s)\n", w.Backend, w.Message)
	}
	if len(resp.Warnings) > 0 {
		sb.WriteString("\n")
	}

	if len(resp.Results) == 0 {
		fmt.Fprintf(&sb, "No results found for \"%s\" (persona: %s)", query, persona)
		return sb.String()
	}

	fmt.Fprintf(&sb, "## Search Results for \"%s\"\n\n", query)
	fmt.Fprintf(&sb, "Found %d result", len(resp.Results))
	if len(resp.Results) != 1 {
		sb.WriteString("s")
	}
	fmt.Fprintf(&sb, " visible to `%s`\n\n", persona)

	for i, r := range resp.Results {
		formatResult(&sb, i+1, r)
	}
	return sb.String()
}

// formatResult formats a single result.
func formatResult(sb *strings.Builder, num int, r search.ResultRecord) {
	fmt.Fprintf(sb, "### %d. %s (score: %.4f)\n", num, r.ID, r.Score)

	meta := []string{fmt.Sprintf("**Type:** %s", r.ContentType)}
	if r.Category != "" {
		meta = append(meta, fmt.Sprintf("**Category:** %s", r.Category))
	}
	if r.Kind == store.KindKnowledge {
		if r.Severity != "" {
			meta = append(meta, fmt.Sprintf("**Severity:** %s", r.Severity))
		}
		if r.DocumentID != "" {
			meta = append(meta, fmt.Sprintf("**About:** %s", r.DocumentID))
		}
	}
	if r.CreatedAt != nil {
		meta = append(meta, fmt.Sprintf("**Created:** %s", r.CreatedAt.Format("2006-01-02")))
	}
	sb.WriteString(strings.Join(meta, " | "))
	sb.WriteString("\n\n")

	sb.WriteString(r.Content)
	sb.WriteString("\n\n")
	fmt.Fprintf(sb, "_%s_\n\n", matchReason(r))
}

// matchReason explains which backends ranked a result.
func matchReason(r search.ResultRecord) string {
	var parts []string
	for _, b := range search.AllBackends {
		if rank, ok := r.Ranks[b]; ok {
			parts = append(parts, fmt.Sprintf("%s #%d", b, rank))
		}
	}
	switch len(parts) {
	case 0:
		return "matched content"
	case 1:
		return "ranked " + parts[0]
	}
	return fmt.Sprintf("ranked %s; found by %d backends", strings.Join(parts, ", "), len(parts))
}

// clampLimit ensures limit is within bounds.
func clampLimit(limit, defaultVal, min, max int) int {
	if limit <= 0 {
		return defaultVal
	}
	if limit < min {
		return min
	}
	if limit > max {
		return max
	}
	return limit
}
