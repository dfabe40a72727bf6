package store

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/Aman-CERP/hybridrag/internal/access"
)

// SearchFuzzy ranks entries visible to filter by trigram Jaccard
// similarity between text and their content. Only entries sharing at least
// one trigram and scoring at least threshold are returned, best first, ties
// by id.
func (s *SQLiteStore) SearchFuzzy(ctx context.Context, text string, threshold float64, k int, filter access.PersonaFilter) ([]FuzzyResult, error) {
	if k <= 0 {
		return nil, nil
	}
	grams := Trigrams(text)
	if len(grams) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}

	// |A∩B| / (|A| + |B| - |A∩B|); trigram_count is |B| per entry.
	matches := sq.Select("t.entry_id AS entry_id").
		Column(sq.Expr("CAST(COUNT(*) AS REAL) / (? + e.trigram_count - COUNT(*)) AS sim", len(grams))).
		From("entry_trigrams t").
		Join("entries e ON e.id = t.entry_id").
		Where(sq.Eq{"t.trigram": grams}).
		Where(personaPredicate(filter)).
		GroupBy("t.entry_id")

	query, args, err := sq.Select("entry_id", "sim").
		FromSelect(matches, "m").
		Where(sq.GtOrEq{"sim": threshold}).
		OrderBy("sim DESC", "entry_id ASC").
		Limit(uint64(k)).
		ToSql()
	if err != nil {
		return nil, err
	}

	var rows []struct {
		EntryID string  `db:"entry_id"`
		Sim     float64 `db:"sim"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("fuzzy search failed: %w", err)
	}

	results := make([]FuzzyResult, len(rows))
	for i, r := range rows {
		results[i] = FuzzyResult{ID: r.EntryID, Similarity: r.Sim}
	}
	return results, nil
}
