package search

import (
	"sort"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
const DefaultRRFConstant = 60

// FusedResult is one id after fusion.
type FusedResult struct {
	ID       string
	RRFScore float64

	// Ranks and Scores are keyed by backend; absent backends are missing.
	Ranks  map[string]int
	Scores map[string]float64

	// RerankScore is set when a Reranker reordered the fused list.
	RerankScore *float64
}

// RRFFusion merges ranked lists with Reciprocal Rank Fusion:
//
//	score(d) = Σ 1 / (k + rank_i(d))
//
// over every list containing d, ranks 1-based. A list without d adds
// nothing. Scores are not normalized and nothing is truncated.
type RRFFusion struct {
	K int
}

// NewRRFFusion creates a fusion with k=60.
func NewRRFFusion() *RRFFusion {
	return &RRFFusion{K: DefaultRRFConstant}
}

// NewRRFFusionWithK creates a fusion with a custom k. k <= 0 gives 60.
func NewRRFFusionWithK(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse returns the union of ids across lists, best first, ties by
// ascending id. Within one list only an id's first occurrence counts.
func (f *RRFFusion) Fuse(lists ...RankedList) []*FusedResult {
	k := f.K
	if k <= 0 {
		k = DefaultRRFConstant
	}

	byID := make(map[string]*FusedResult)
	for _, l := range lists {
		rank := 0
		for i, id := range l.IDs {
			rank++
			r, ok := byID[id]
			if !ok {
				r = &FusedResult{ID: id, Ranks: map[string]int{}, Scores: map[string]float64{}}
				byID[id] = r
			}
			if _, seen := r.Ranks[l.Backend]; seen {
				continue
			}
			r.Ranks[l.Backend] = rank
			if i < len(l.Scores) {
				r.Scores[l.Backend] = l.Scores[i]
			}
		}
	}

	results := make([]*FusedResult, 0, len(byID))
	for _, r := range byID {
		r.RRFScore = rrfScore(k, r.Ranks)
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].RRFScore != results[j].RRFScore {
			return results[i].RRFScore > results[j].RRFScore
		}
		return results[i].ID < results[j].ID
	})
	return results
}

// rrfScore sums contributions in ascending rank order so that equal rank
// multisets produce bit-identical scores regardless of list order.
func rrfScore(k int, ranks map[string]int) float64 {
	rs := make([]int, 0, len(ranks))
	for _, r := range ranks {
		rs = append(rs, r)
	}
	sort.Ints(rs)
	var score float64
	for _, r := range rs {
		score += 1.0 / float64(k+r)
	}
	return score
}
