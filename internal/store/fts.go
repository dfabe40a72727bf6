package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/samber/lo"

	"github.com/Aman-CERP/hybridrag/internal/access"
)

// BuildFTSQuery turns free text into an FTS5 MATCH expression: every
// significant term quoted and OR-ed. Returns "" when text has no terms.
func BuildFTSQuery(text string) string {
	terms := QueryTerms(text)
	quoted := lo.Map(terms, func(t string, _ int) string {
		return `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	})
	return strings.Join(quoted, " OR ")
}

// SearchLexical ranks entries visible to filter by BM25 over their
// content. A query with no usable terms, or one FTS5 cannot parse, yields
// no results.
func (s *SQLiteStore) SearchLexical(ctx context.Context, text string, k int, filter access.PersonaFilter) ([]LexicalResult, error) {
	if k <= 0 {
		return nil, nil
	}
	match := BuildFTSQuery(text)
	if match == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}

	// bm25() is negative with lower meaning better; negate so larger wins.
	query, args, err := sq.Select("entry_fts.entry_id AS entry_id", "-bm25(entry_fts) AS score").
		From("entry_fts").
		Join("entries e ON e.id = entry_fts.entry_id").
		Where(sq.Expr("entry_fts MATCH ?", match)).
		Where(personaPredicate(filter)).
		OrderBy("bm25(entry_fts) ASC", "entry_fts.entry_id ASC").
		Limit(uint64(k)).
		ToSql()
	if err != nil {
		return nil, err
	}

	var rows []struct {
		EntryID string  `db:"entry_id"`
		Score   float64 `db:"score"`
	}
	err = s.db.SelectContext(ctx, &rows, query, args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isFTSSyntaxError(err) {
			slog.Debug("fts_query_rejected",
				slog.String("match", match),
				slog.String("error", err.Error()))
			return nil, nil
		}
		return nil, fmt.Errorf("lexical search failed: %w", err)
	}

	results := make([]LexicalResult, len(rows))
	for i, r := range rows {
		results[i] = LexicalResult{ID: r.EntryID, Score: r.Score}
	}
	return results, nil
}

func isFTSSyntaxError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "fts5: syntax error") ||
		strings.Contains(msg, "no such column") ||
		strings.Contains(msg, "unterminated string")
}
