package mcp

import (
	"time"

	"github.com/Aman-CERP/hybridrag/internal/search"
)

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Query          string   `json:"query" jsonschema:"the search query to execute"`
	Persona        string   `json:"persona" jsonschema:"the persona the caller acts as, e.g. customer or support_agent"`
	TimeWindow     string   `json:"time_window,omitempty" jsonschema:"only return entries created within this window: 24h, 7d or 30d"`
	Limit          int      `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
	RRFK           int      `json:"rrf_k,omitempty" jsonschema:"reciprocal rank fusion constant, default 60"`
	FuzzyThreshold *float64 `json:"fuzzy_threshold,omitempty" jsonschema:"minimum trigram similarity for fuzzy matches, between 0 and 1"`
	Backends       []string `json:"backends,omitempty" jsonschema:"subset of semantic, lexical and fuzzy; default all"`
}

// SearchOutput defines the output schema for the search tool.
type SearchOutput struct {
	Results  []ResultOutput   `json:"results" jsonschema:"fused results, best first"`
	Warnings []search.Warning `json:"warnings,omitempty" jsonschema:"backends that did not contribute"`
}

// ResultOutput is one search result.
type ResultOutput struct {
	ID          string         `json:"id"`
	Kind        string         `json:"kind" jsonschema:"document or knowledge"`
	Content     string         `json:"content"`
	ContentType string         `json:"content_type"`
	Category    string         `json:"category,omitempty"`
	Severity    string         `json:"severity,omitempty"`
	DocumentID  string         `json:"document_id,omitempty" jsonschema:"the document a knowledge item is about"`
	CreatedAt   string         `json:"created_at,omitempty" jsonschema:"RFC 3339 creation time"`
	Score       float64        `json:"score" jsonschema:"fused reciprocal rank score"`
	RerankScore *float64       `json:"rerank_score,omitempty" jsonschema:"relevance score when reranking is enabled"`
	Ranks       map[string]int `json:"ranks,omitempty" jsonschema:"1-based rank per backend that found the result"`
}

// ToResultOutput converts an engine result.
func ToResultOutput(r search.ResultRecord) ResultOutput {
	out := ResultOutput{
		ID:          r.ID,
		Kind:        string(r.Kind),
		Content:     r.Content,
		ContentType: r.ContentType,
		Category:    r.Category,
		Severity:    r.Severity,
		DocumentID:  r.DocumentID,
		Score:       r.Score,
		RerankScore: r.RerankScore,
		Ranks:       r.Ranks,
	}
	if r.CreatedAt != nil {
		out.CreatedAt = r.CreatedAt.Format(time.RFC3339)
	}
	return out
}

// ListPersonasInput defines the input schema for the list_personas tool (no parameters).
type ListPersonasInput struct{}

// ListPersonasOutput defines the output schema for the list_personas tool.
type ListPersonasOutput struct {
	Personas   []string            `json:"personas" jsonschema:"every known persona"`
	Privileged []string            `json:"privileged" jsonschema:"personas that see every knowledge item"`
	Inherits   map[string][]string `json:"inherits,omitempty" jsonschema:"personas that also see the scopes of others"`
}

// CatalogStatsInput defines the input schema for the catalog_stats tool (no parameters).
type CatalogStatsInput struct{}

// CatalogStatsOutput defines the output schema for the catalog_stats tool.
type CatalogStatsOutput struct {
	Documents      int `json:"documents"`
	KnowledgeItems int `json:"knowledge_items"`
	Embedded       int `json:"embedded"`
	Vectors        int `json:"vectors"`

	Dimensions     int    `json:"dimensions"`
	EmbeddingModel string `json:"embedding_model,omitempty"`

	// EmbedderStatus is "ready", "unavailable" or "none".
	EmbedderStatus string `json:"embedder_status"`
}
