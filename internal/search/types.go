// Package search answers queries: it fans out to the vector, lexical and
// fuzzy indices, drops rows the caller may not see, fuses the surviving
// lists with Reciprocal Rank Fusion and assembles the final records.
package search

import (
	"time"

	"github.com/Aman-CERP/hybridrag/internal/config"
	"github.com/Aman-CERP/hybridrag/internal/store"
)

// Backend names, also used as metric labels and warning sources.
const (
	BackendSemantic = config.BackendSemantic
	BackendLexical  = config.BackendLexical
	BackendFuzzy    = config.BackendFuzzy
)

// AllBackends in dispatch and rank-reporting order.
var AllBackends = []string{BackendSemantic, BackendLexical, BackendFuzzy}

// Query is one search request. Zero values take configured defaults.
type Query struct {
	Text    string
	Persona string

	// TimeWindow drops rows created before now - TimeWindow. Zero means
	// no window.
	TimeWindow time.Duration

	Limit          int
	RRFK           int
	FuzzyThreshold *float64

	// Backends selects a subset; empty means all configured backends.
	Backends []string

	// CandidateLimit is the per-backend list length.
	CandidateLimit int
}

// Response is the answer to a Query.
type Response struct {
	Results  []ResultRecord `json:"results"`
	Warnings []Warning      `json:"warnings,omitempty"`

	// Backends maps each completed backend to the number of returned
	// results it ranked.
	Backends map[string]int `json:"backends,omitempty"`
}

// Warning reports a backend that did not contribute.
type Warning struct {
	Backend string `json:"backend"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResultRecord is one rendered result.
type ResultRecord struct {
	ID          string         `json:"id"`
	Kind        store.Kind     `json:"kind"`
	Content     string         `json:"content"`
	ContentType string         `json:"content_type"`
	Category    string         `json:"category,omitempty"`
	Severity    string         `json:"severity,omitempty"`
	DocumentID  string         `json:"document_id,omitempty"`
	CreatedAt   *time.Time     `json:"created_at,omitempty"`
	Score       float64        `json:"score"`
	RerankScore *float64       `json:"rerank_score,omitempty"`
	Ranks       map[string]int `json:"ranks,omitempty"`
}

// RankedList is one backend's ordered candidate ids with native scores.
type RankedList struct {
	Backend string
	IDs     []string
	Scores  []float64
}

// Len returns the number of candidates.
func (l RankedList) Len() int { return len(l.IDs) }

// filter keeps ids for which keep returns true, preserving order.
func (l RankedList) filter(keep func(id string) bool) RankedList {
	out := RankedList{Backend: l.Backend}
	for i, id := range l.IDs {
		if !keep(id) {
			continue
		}
		out.IDs = append(out.IDs, id)
		if i < len(l.Scores) {
			out.Scores = append(out.Scores, l.Scores[i])
		}
	}
	return out
}

func vectorList(rs []store.VectorResult) RankedList {
	l := RankedList{Backend: BackendSemantic, IDs: make([]string, len(rs)), Scores: make([]float64, len(rs))}
	for i, r := range rs {
		l.IDs[i], l.Scores[i] = r.ID, float64(r.Similarity)
	}
	return l
}

func lexicalList(rs []store.LexicalResult) RankedList {
	l := RankedList{Backend: BackendLexical, IDs: make([]string, len(rs)), Scores: make([]float64, len(rs))}
	for i, r := range rs {
		l.IDs[i], l.Scores[i] = r.ID, r.Score
	}
	return l
}

func fuzzyList(rs []store.FuzzyResult) RankedList {
	l := RankedList{Backend: BackendFuzzy, IDs: make([]string, len(rs)), Scores: make([]float64, len(rs))}
	for i, r := range rs {
		l.IDs[i], l.Scores[i] = r.ID, r.Similarity
	}
	return l
}
