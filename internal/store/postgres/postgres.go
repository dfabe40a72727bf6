// Package postgres is the server backend: one Postgres table with pgvector
// for semantic search, a tsvector column for lexical search and pg_trgm for
// fuzzy search.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/Aman-CERP/hybridrag/internal/access"
	hrerrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/store"
)

const (
	entriesTable = "hr_entries"
	metaTable    = "hr_meta"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var entryColumns = []string{
	"e.id", "e.kind", "e.content", "e.category", "e.content_type", "e.severity",
	"e.document_id", "e.persona_access", "e.price", "e.rating", "e.reviews",
	"e.bought_last_month", "e.bestseller", "e.image_url", "e.product_url",
	"e.created_at", "e.updated_at",
}

// Store implements store.Backend on Postgres.
type Store struct {
	db   *sqlx.DB
	dims int
}

var _ store.Backend = (*Store)(nil)

// Open connects, installs the extensions and schema, and pins the
// embedding dimensionality.
func Open(ctx context.Context, dsn string, dims int, model string) (*Store, error) {
	if dims <= 0 {
		return nil, hrerrors.ConfigError("postgres backend needs known embedding dimensions", nil)
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, hrerrors.New(hrerrors.ErrCodeStoreOpen, "failed to connect to postgres", err).
			WithSuggestion("Check storage.postgres_dsn and that the server is reachable")
	}
	s := &Store{db: db, dims: dims}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, hrerrors.New(hrerrors.ErrCodeStoreOpen, "failed to initialize schema", err)
	}
	if err := s.ensureDimensions(ctx, model); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func schemaStatements(dims int) []string {
	return []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		"CREATE EXTENSION IF NOT EXISTS pg_trgm",
		`CREATE TABLE IF NOT EXISTS ` + metaTable + ` (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id                TEXT PRIMARY KEY,
			kind              TEXT NOT NULL CHECK (kind IN ('document', 'knowledge')),
			content           TEXT NOT NULL,
			category          TEXT NOT NULL DEFAULT '',
			content_type      TEXT NOT NULL DEFAULT '',
			severity          TEXT NOT NULL DEFAULT '',
			document_id       TEXT REFERENCES %s(id) ON DELETE CASCADE DEFERRABLE INITIALLY DEFERRED,
			persona_access    TEXT[] NOT NULL DEFAULT '{}',
			price             DOUBLE PRECISION,
			rating            DOUBLE PRECISION,
			reviews           INTEGER,
			bought_last_month INTEGER,
			bestseller        BOOLEAN NOT NULL DEFAULT FALSE,
			image_url         TEXT NOT NULL DEFAULT '',
			product_url       TEXT NOT NULL DEFAULT '',
			embedding         vector(%d),
			content_tsv       tsvector GENERATED ALWAYS AS (to_tsvector('english', content)) STORED,
			created_at        TIMESTAMPTZ NOT NULL,
			updated_at        TIMESTAMPTZ NOT NULL
		)`, entriesTable, entriesTable, dims),
		`CREATE INDEX IF NOT EXISTS hr_entries_embedding_idx ON ` + entriesTable + ` USING hnsw (embedding vector_cosine_ops)`,
		`CREATE INDEX IF NOT EXISTS hr_entries_tsv_idx ON ` + entriesTable + ` USING gin (content_tsv)`,
		`CREATE INDEX IF NOT EXISTS hr_entries_trgm_idx ON ` + entriesTable + ` USING gin (lower(content) gin_trgm_ops)`,
		`CREATE INDEX IF NOT EXISTS hr_entries_access_idx ON ` + entriesTable + ` USING gin (persona_access)`,
		`CREATE INDEX IF NOT EXISTS hr_entries_document_idx ON ` + entriesTable + ` (document_id)`,
	}
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements(s.dims) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w\nSQL: %s", err, stmt)
		}
	}
	return nil
}

func (s *Store) ensureDimensions(ctx context.Context, model string) error {
	var stored string
	err := s.db.GetContext(ctx, &stored, `SELECT value FROM `+metaTable+` WHERE key = $1`, store.MetaKeyDimensions)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return err
	default:
		if n, convErr := strconv.Atoi(stored); convErr == nil && n != s.dims {
			return hrerrors.New(hrerrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("dimension mismatch: expected %d, got %d", n, s.dims), nil).
				WithSuggestion("Run 'hybridrag reset --yes' and re-ingest after changing embedding models")
		}
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO `+metaTable+` (key, value) VALUES ($1, $2), ($3, $4)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		store.MetaKeyDimensions, strconv.Itoa(s.dims), store.MetaKeyModel, model)
	return err
}

// Dimensions returns the pinned dimensionality.
func (s *Store) Dimensions() int { return s.dims }

func vectorArg(v []float32) any {
	if v == nil {
		return nil
	}
	return pgvector.NewVector(v)
}

func upsertQuery(e *store.Entry, now time.Time) sq.InsertBuilder {
	var docID any
	if e.Kind == store.KindKnowledge && e.DocumentID != "" {
		docID = e.DocumentID
	}
	scope := e.PersonaAccess
	if e.Kind == store.KindDocument || scope == nil {
		scope = []string{}
	}
	created := now
	if !e.CreatedAt.IsZero() {
		created = e.CreatedAt
	}
	return psql.Insert(entriesTable).
		Columns("id", "kind", "content", "category", "content_type", "severity", "document_id",
			"persona_access", "price", "rating", "reviews", "bought_last_month", "bestseller",
			"image_url", "product_url", "embedding", "created_at", "updated_at").
		Values(e.ID, string(e.Kind), e.Content, e.Category, e.ContentType, e.Severity, docID,
			pq.Array(scope), e.Price, e.Rating, e.Reviews, e.BoughtLastMonth, e.Bestseller,
			e.ImageURL, e.ProductURL, vectorArg(e.Embedding), created, now).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind,
			content = EXCLUDED.content,
			category = EXCLUDED.category,
			content_type = EXCLUDED.content_type,
			severity = EXCLUDED.severity,
			document_id = EXCLUDED.document_id,
			persona_access = EXCLUDED.persona_access,
			price = EXCLUDED.price,
			rating = EXCLUDED.rating,
			reviews = EXCLUDED.reviews,
			bought_last_month = EXCLUDED.bought_last_month,
			bestseller = EXCLUDED.bestseller,
			image_url = EXCLUDED.image_url,
			product_url = EXCLUDED.product_url,
			embedding = EXCLUDED.embedding,
			updated_at = EXCLUDED.updated_at`)
}

// UpsertBatch writes entries in one transaction.
func (s *Store) UpsertBatch(ctx context.Context, entries []*store.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if e.Embedding != nil && len(e.Embedding) != s.dims {
			return hrerrors.New(hrerrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("dimension mismatch: expected %d, got %d", s.dims, len(e.Embedding)), nil)
		}
		if e.Kind == store.KindKnowledge && len(e.PersonaAccess) == 0 {
			return hrerrors.New(hrerrors.ErrCodeInvalidRecord,
				fmt.Sprintf("knowledge item %s has no persona_access", e.ID), nil)
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		query, args, err := upsertQuery(e, now).ToSql()
		if err != nil {
			return fmt.Errorf("failed to build sql query, %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to upsert %s: %w", e.ID, err)
		}
		ids = append(ids, e.ID)
	}

	query, args, err := badReferenceQuery(ids).ToSql()
	if err != nil {
		return err
	}
	var bad []string
	if err := tx.SelectContext(ctx, &bad, query, args...); err != nil {
		return fmt.Errorf("failed to verify document references: %w", err)
	}
	if len(bad) > 0 {
		return hrerrors.New(hrerrors.ErrCodeInvalidRecord,
			fmt.Sprintf("knowledge item %s references unknown document", bad[0]), nil).
			WithDetail("id", bad[0])
	}

	return tx.Commit()
}

func badReferenceQuery(ids []string) sq.SelectBuilder {
	return psql.Select("k.id").
		From(entriesTable + " k").
		LeftJoin(entriesTable + " d ON d.id = k.document_id").
		Where(sq.Eq{"k.id": ids}).
		Where("k.document_id IS NOT NULL").
		Where("(d.id IS NULL OR d.kind <> 'document')").
		Limit(1)
}

// personaPredicate mirrors store.Visible in SQL.
func personaPredicate(filter access.PersonaFilter) sq.Sqlizer {
	if filter.Privileged() {
		return sq.Expr("TRUE")
	}
	document := sq.Eq{"e.kind": string(store.KindDocument)}
	labels := filter.Labels()
	if len(labels) == 0 {
		return document
	}
	return sq.Or{document, sq.Expr("e.persona_access && ?", pq.Array(labels))}
}

func lookupQuery(ids []string, filter access.PersonaFilter) sq.SelectBuilder {
	return psql.Select(entryColumns...).
		From(entriesTable + " e").
		Where(sq.Eq{"e.id": ids}).
		Where(personaPredicate(filter))
}

type entryRow struct {
	ID              string          `db:"id"`
	Kind            string          `db:"kind"`
	Content         string          `db:"content"`
	Category        string          `db:"category"`
	ContentType     string          `db:"content_type"`
	Severity        string          `db:"severity"`
	DocumentID      sql.NullString  `db:"document_id"`
	PersonaAccess   pq.StringArray  `db:"persona_access"`
	Price           sql.NullFloat64 `db:"price"`
	Rating          sql.NullFloat64 `db:"rating"`
	Reviews         sql.NullInt64   `db:"reviews"`
	BoughtLastMonth sql.NullInt64   `db:"bought_last_month"`
	Bestseller      bool            `db:"bestseller"`
	ImageURL        string          `db:"image_url"`
	ProductURL      string          `db:"product_url"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

func (r *entryRow) toEntry() *store.Entry {
	e := &store.Entry{
		ID:            r.ID,
		Kind:          store.Kind(r.Kind),
		Content:       r.Content,
		Category:      r.Category,
		ContentType:   r.ContentType,
		Severity:      r.Severity,
		DocumentID:    r.DocumentID.String,
		PersonaAccess: []string(r.PersonaAccess),
		Bestseller:    r.Bestseller,
		ImageURL:      r.ImageURL,
		ProductURL:    r.ProductURL,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
	if len(e.PersonaAccess) == 0 {
		e.PersonaAccess = nil
	}
	if r.Price.Valid {
		e.Price = &r.Price.Float64
	}
	if r.Rating.Valid {
		e.Rating = &r.Rating.Float64
	}
	if r.Reviews.Valid {
		n := int(r.Reviews.Int64)
		e.Reviews = &n
	}
	if r.BoughtLastMonth.Valid {
		n := int(r.BoughtLastMonth.Int64)
		e.BoughtLastMonth = &n
	}
	return e
}

// Lookup loads the visible entries among ids.
func (s *Store) Lookup(ctx context.Context, ids []string, filter access.PersonaFilter) (map[string]*store.Entry, error) {
	out := make(map[string]*store.Entry, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := lookupQuery(ids, filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build sql query, %w", err)
	}
	var rows []entryRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("lookup failed: %w", err)
	}
	for i := range rows {
		e := rows[i].toEntry()
		if store.Visible(e, filter) {
			out[e.ID] = e
		}
	}
	return out, nil
}

// Delete removes id and the knowledge items referencing it.
func (s *Store) Delete(ctx context.Context, id string) ([]string, error) {
	var removed []string
	err := s.db.SelectContext(ctx, &removed,
		`DELETE FROM `+entriesTable+` WHERE id = $1 OR document_id = $1 RETURNING id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete %s: %w", id, err)
	}
	return removed, nil
}

// Reset truncates the catalog.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `TRUNCATE `+entriesTable); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM `+metaTable+` WHERE key = ANY($1)`,
		pq.Array([]string{store.MetaKeyDimensions, store.MetaKeyModel}))
	return err
}

// Stats counts rows.
func (s *Store) Stats(ctx context.Context) (*store.Stats, error) {
	var counts struct {
		Documents int `db:"documents"`
		Knowledge int `db:"knowledge"`
		Embedded  int `db:"embedded"`
	}
	err := s.db.GetContext(ctx, &counts, `SELECT
		COUNT(*) FILTER (WHERE kind = 'document') AS documents,
		COUNT(*) FILTER (WHERE kind = 'knowledge') AS knowledge,
		COUNT(*) FILTER (WHERE embedding IS NOT NULL) AS embedded
		FROM `+entriesTable)
	if err != nil {
		return nil, fmt.Errorf("stats failed: %w", err)
	}
	st := &store.Stats{
		Documents:      counts.Documents,
		KnowledgeItems: counts.Knowledge,
		Embedded:       counts.Embedded,
		Vectors:        counts.Embedded,
		Dimensions:     s.dims,
	}
	_ = s.db.GetContext(ctx, &st.EmbeddingModel, `SELECT value FROM `+metaTable+` WHERE key = $1`, store.MetaKeyModel)
	return st, nil
}

// The search queries apply personaPredicate before LIMIT so rows the
// caller cannot see never take a candidate slot.
func vectorQuery(vec []float32, k int, filter access.PersonaFilter) sq.SelectBuilder {
	// <=> is cosine distance.
	return psql.Select("e.id").
		Column(sq.Expr("(e.embedding <=> ?) AS distance", pgvector.NewVector(vec))).
		From(entriesTable+" e").
		Where("e.embedding IS NOT NULL").
		Where(personaPredicate(filter)).
		OrderBy("distance ASC", "e.id ASC").
		Limit(uint64(k))
}

// SearchVector ranks embedded rows visible to filter by cosine distance.
func (s *Store) SearchVector(ctx context.Context, vec []float32, k int, filter access.PersonaFilter) ([]store.VectorResult, error) {
	if len(vec) != s.dims {
		return nil, hrerrors.New(hrerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("dimension mismatch: expected %d, got %d", s.dims, len(vec)), nil)
	}
	if k <= 0 {
		return nil, nil
	}
	query, args, err := vectorQuery(vec, k, filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build sql query, %w", err)
	}
	var rows []struct {
		ID       string  `db:"id"`
		Distance float64 `db:"distance"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	out := make([]store.VectorResult, len(rows))
	for i, r := range rows {
		out[i] = store.VectorResult{ID: r.ID, Distance: float32(r.Distance), Similarity: float32(1 - r.Distance)}
	}
	return out, nil
}

// lexicalQuery ORs the query terms into a tsquery. ok is false when the
// text has no terms.
func lexicalQuery(text string, k int, filter access.PersonaFilter) (sq.SelectBuilder, bool) {
	terms := store.QueryTerms(text)
	if len(terms) == 0 {
		return sq.SelectBuilder{}, false
	}
	tsq := strings.Join(terms, " | ")
	return psql.Select("e.id").
		Column(sq.Expr("ts_rank_cd(e.content_tsv, to_tsquery('english', ?)) AS score", tsq)).
		From(entriesTable+" e").
		Where(sq.Expr("e.content_tsv @@ to_tsquery('english', ?)", tsq)).
		Where(personaPredicate(filter)).
		OrderBy("score DESC", "e.id ASC").
		Limit(uint64(k)), true
}

// SearchLexical ranks rows visible to filter by ts_rank_cd.
func (s *Store) SearchLexical(ctx context.Context, text string, k int, filter access.PersonaFilter) ([]store.LexicalResult, error) {
	builder, ok := lexicalQuery(text, k, filter)
	if !ok || k <= 0 {
		return nil, nil
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build sql query, %w", err)
	}
	var rows []struct {
		ID    string  `db:"id"`
		Score float64 `db:"score"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("lexical search failed: %w", err)
	}
	out := make([]store.LexicalResult, len(rows))
	for i, r := range rows {
		out[i] = store.LexicalResult{ID: r.ID, Score: r.Score}
	}
	return out, nil
}

func fuzzyQuery(text string, threshold float64, k int, filter access.PersonaFilter) sq.SelectBuilder {
	return psql.Select("e.id").
		Column(sq.Expr("similarity(lower(e.content), lower(?)) AS sim", text)).
		From(entriesTable+" e").
		Where(sq.Expr("similarity(lower(e.content), lower(?)) >= ?", text, threshold)).
		Where(personaPredicate(filter)).
		OrderBy("sim DESC", "e.id ASC").
		Limit(uint64(k))
}

// SearchFuzzy ranks rows visible to filter by pg_trgm similarity.
func (s *Store) SearchFuzzy(ctx context.Context, text string, threshold float64, k int, filter access.PersonaFilter) ([]store.FuzzyResult, error) {
	if k <= 0 || strings.TrimSpace(text) == "" {
		return nil, nil
	}
	query, args, err := fuzzyQuery(text, threshold, k, filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build sql query, %w", err)
	}
	var rows []struct {
		ID  string  `db:"id"`
		Sim float64 `db:"sim"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("fuzzy search failed: %w", err)
	}
	out := make([]store.FuzzyResult, len(rows))
	for i, r := range rows {
		out[i] = store.FuzzyResult{ID: r.ID, Similarity: r.Sim}
	}
	return out, nil
}

// Flush is a no-op; Postgres persists on commit.
func (s *Store) Flush(ctx context.Context) error { return nil }

// Close closes the pool.
func (s *Store) Close() error {
	slog.Debug("postgres_store_closed")
	return s.db.Close()
}
