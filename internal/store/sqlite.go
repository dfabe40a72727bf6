package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/Aman-CERP/hybridrag/internal/access"
	hrerrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

// SQLiteStore is the catalog. Entries, persona scopes, the FTS5 lexical
// index and the trigram index live in one database so a batch commits or
// rolls back as a unit.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sqlx.DB
	path   string
	closed bool

	// now is swapped in tests.
	now func() time.Time
}

var (
	_ Catalog      = (*SQLiteStore)(nil)
	_ LexicalIndex = (*SQLiteStore)(nil)
	_ FuzzyIndex   = (*SQLiteStore)(nil)
)

const entryColumns = `e.id, e.kind, e.content, e.category, e.content_type, e.severity,
	e.document_id, e.price, e.rating, e.reviews, e.bought_last_month, e.bestseller,
	e.image_url, e.product_url, e.created_at, e.updated_at`

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS entries (
	id                TEXT PRIMARY KEY,
	kind              TEXT NOT NULL CHECK (kind IN ('document', 'knowledge')),
	content           TEXT NOT NULL,
	category          TEXT NOT NULL DEFAULT '',
	content_type      TEXT NOT NULL DEFAULT '',
	severity          TEXT NOT NULL DEFAULT '',
	document_id       TEXT REFERENCES entries(id) ON DELETE CASCADE DEFERRABLE INITIALLY DEFERRED,
	price             REAL,
	rating            REAL,
	reviews           INTEGER,
	bought_last_month INTEGER,
	bestseller        INTEGER NOT NULL DEFAULT 0,
	image_url         TEXT NOT NULL DEFAULT '',
	product_url       TEXT NOT NULL DEFAULT '',
	embedding         BLOB,
	trigram_count     INTEGER NOT NULL DEFAULT 0,
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_document ON entries(document_id);

CREATE TABLE IF NOT EXISTS entry_access (
	entry_id TEXT NOT NULL REFERENCES entries(id) ON DELETE CASCADE,
	persona  TEXT NOT NULL,
	PRIMARY KEY (entry_id, persona)
) WITHOUT ROWID;

-- Virtual tables cannot carry foreign keys; rows are removed explicitly.
CREATE VIRTUAL TABLE IF NOT EXISTS entry_fts USING fts5(
	entry_id UNINDEXED,
	content,
	tokenize='unicode61 remove_diacritics 2'
);

CREATE TABLE IF NOT EXISTS entry_trigrams (
	trigram  TEXT NOT NULL,
	entry_id TEXT NOT NULL REFERENCES entries(id) ON DELETE CASCADE,
	PRIMARY KEY (trigram, entry_id)
) WITHOUT ROWID;
CREATE INDEX IF NOT EXISTS idx_trigrams_entry ON entry_trigrams(entry_id);
`

// entryRow mirrors the entries table.
type entryRow struct {
	ID              string          `db:"id"`
	Kind            string          `db:"kind"`
	Content         string          `db:"content"`
	Category        string          `db:"category"`
	ContentType     string          `db:"content_type"`
	Severity        string          `db:"severity"`
	DocumentID      sql.NullString  `db:"document_id"`
	Price           sql.NullFloat64 `db:"price"`
	Rating          sql.NullFloat64 `db:"rating"`
	Reviews         sql.NullInt64   `db:"reviews"`
	BoughtLastMonth sql.NullInt64   `db:"bought_last_month"`
	Bestseller      bool            `db:"bestseller"`
	ImageURL        string          `db:"image_url"`
	ProductURL      string          `db:"product_url"`
	CreatedAt       int64           `db:"created_at"`
	UpdatedAt       int64           `db:"updated_at"`
}

func (r *entryRow) toEntry() *Entry {
	e := &Entry{
		ID:          r.ID,
		Kind:        Kind(r.Kind),
		Content:     r.Content,
		Category:    r.Category,
		ContentType: r.ContentType,
		Severity:    r.Severity,
		DocumentID:  r.DocumentID.String,
		Bestseller:  r.Bestseller,
		ImageURL:    r.ImageURL,
		ProductURL:  r.ProductURL,
		CreatedAt:   time.Unix(0, r.CreatedAt).UTC(),
		UpdatedAt:   time.Unix(0, r.UpdatedAt).UTC(),
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

// validateSQLiteIntegrity checks an existing catalog before opening.
// Returns nil if valid or absent.
func validateSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// NewSQLiteStore opens (or creates) the catalog at path. An empty path
// opens an in-memory catalog for tests.
func NewSQLiteStore(path string, cacheMB int) (*SQLiteStore, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		// A corrupt catalog is not auto-cleared: it is the only copy of
		// the data. The caller decides whether to reset.
		if err := validateSQLiteIntegrity(path); err != nil {
			return nil, hrerrors.New(hrerrors.ErrCodeStoreCorrupt, "catalog failed integrity check", err).
				WithDetail("path", path).
				WithSuggestion("Run 'hybridrag reset --yes' and re-ingest")
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, hrerrors.New(hrerrors.ErrCodeStoreOpen, "failed to open catalog", err)
	}

	// Single writer; also keeps an in-memory database alive on one conn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if cacheMB <= 0 {
		cacheMB = 64
	}
	// DSN params may be ignored by modernc.org/sqlite, so set them again.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA cache_size = -%d", cacheMB*1024),
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, hrerrors.New(hrerrors.ErrCodeStoreOpen, "failed to set pragma", err).
				WithDetail("pragma", pragma)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, hrerrors.New(hrerrors.ErrCodeStoreOpen, "failed to initialize schema", err)
	}
	if _, err := db.Exec(`INSERT OR IGNORE INTO meta (key, value) VALUES (?, ?)`,
		MetaKeySchema, strconv.Itoa(CurrentSchemaVersion)); err != nil {
		_ = db.Close()
		return nil, hrerrors.New(hrerrors.ErrCodeStoreOpen, "failed to record schema version", err)
	}

	return &SQLiteStore{db: db, path: path, now: time.Now}, nil
}

// EnsureDimensions pins the embedding dimensionality and model of the
// catalog on first use and rejects a different dimensionality afterwards.
// A model change with equal dimensions is logged and recorded.
func (s *SQLiteStore) EnsureDimensions(ctx context.Context, dims int, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}

	stored, err := s.metaLocked(ctx, MetaKeyDimensions)
	if err != nil {
		return err
	}
	if stored != "" {
		n, convErr := strconv.Atoi(stored)
		if convErr == nil && n != dims {
			return dimensionMismatch(n, dims)
		}
	}

	prevModel, err := s.metaLocked(ctx, MetaKeyModel)
	if err != nil {
		return err
	}
	if prevModel != "" && prevModel != model {
		slog.Warn("embedding_model_changed",
			slog.String("previous", prevModel),
			slog.String("current", model))
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES (?, ?), (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		MetaKeyDimensions, strconv.Itoa(dims), MetaKeyModel, model)
	return err
}

// Dimensions returns the pinned dimensionality, or 0 when none is set.
func (s *SQLiteStore) Dimensions(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, err := s.metaLocked(ctx, MetaKeyDimensions)
	if err != nil || v == "" {
		return 0, err
	}
	return strconv.Atoi(v)
}

func (s *SQLiteStore) metaLocked(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.GetContext(ctx, &v, `SELECT value FROM meta WHERE key = ?`, key)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return v, err
}

// UpsertBatch inserts or updates entries in one transaction. created_at is
// kept for rows that already exist. Knowledge items must reference an
// existing document, either already stored or in the same batch.
func (s *SQLiteStore) UpsertBatch(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	upsert, err := tx.PreparexContext(ctx, `
		INSERT INTO entries (id, kind, content, category, content_type, severity, document_id,
			price, rating, reviews, bought_last_month, bestseller, image_url, product_url,
			embedding, trigram_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			content = excluded.content,
			category = excluded.category,
			content_type = excluded.content_type,
			severity = excluded.severity,
			document_id = excluded.document_id,
			price = excluded.price,
			rating = excluded.rating,
			reviews = excluded.reviews,
			bought_last_month = excluded.bought_last_month,
			bestseller = excluded.bestseller,
			image_url = excluded.image_url,
			product_url = excluded.product_url,
			embedding = excluded.embedding,
			trigram_count = excluded.trigram_count,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer upsert.Close()

	clearFTS, err := tx.PreparexContext(ctx, `DELETE FROM entry_fts WHERE entry_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare fts delete: %w", err)
	}
	defer clearFTS.Close()

	insertFTS, err := tx.PreparexContext(ctx, `INSERT INTO entry_fts (entry_id, content) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare fts insert: %w", err)
	}
	defer insertFTS.Close()

	clearTrigrams, err := tx.PreparexContext(ctx, `DELETE FROM entry_trigrams WHERE entry_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare trigram delete: %w", err)
	}
	defer clearTrigrams.Close()

	insertTrigram, err := tx.PreparexContext(ctx, `INSERT INTO entry_trigrams (trigram, entry_id) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare trigram insert: %w", err)
	}
	defer insertTrigram.Close()

	clearAccess, err := tx.PreparexContext(ctx, `DELETE FROM entry_access WHERE entry_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare access delete: %w", err)
	}
	defer clearAccess.Close()

	insertAccess, err := tx.PreparexContext(ctx, `INSERT OR IGNORE INTO entry_access (entry_id, persona) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare access insert: %w", err)
	}
	defer insertAccess.Close()

	for _, e := range entries {
		if e.Kind == KindKnowledge && len(e.PersonaAccess) == 0 {
			return hrerrors.New(hrerrors.ErrCodeInvalidRecord,
				fmt.Sprintf("knowledge item %s has no persona_access", e.ID), nil).
				WithDetail("id", e.ID)
		}
	}

	now := s.now().UnixNano()
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		grams := Trigrams(e.Content)
		created := now
		if !e.CreatedAt.IsZero() {
			created = e.CreatedAt.UnixNano()
		}

		var docID any
		if e.Kind == KindKnowledge && e.DocumentID != "" {
			docID = e.DocumentID
		}

		if _, err := upsert.ExecContext(ctx,
			e.ID, string(e.Kind), e.Content, e.Category, e.ContentType, e.Severity, docID,
			e.Price, e.Rating, e.Reviews, e.BoughtLastMonth, e.Bestseller, e.ImageURL, e.ProductURL,
			encodeVector(e.Embedding), len(grams), created, now,
		); err != nil {
			return fmt.Errorf("failed to upsert %s: %w", e.ID, err)
		}

		if _, err := clearFTS.ExecContext(ctx, e.ID); err != nil {
			return fmt.Errorf("failed to clear fts for %s: %w", e.ID, err)
		}
		if _, err := insertFTS.ExecContext(ctx, e.ID, e.Content); err != nil {
			return fmt.Errorf("failed to index %s: %w", e.ID, err)
		}

		if _, err := clearTrigrams.ExecContext(ctx, e.ID); err != nil {
			return fmt.Errorf("failed to clear trigrams for %s: %w", e.ID, err)
		}
		for _, g := range grams {
			if _, err := insertTrigram.ExecContext(ctx, g, e.ID); err != nil {
				return fmt.Errorf("failed to index trigram for %s: %w", e.ID, err)
			}
		}

		if _, err := clearAccess.ExecContext(ctx, e.ID); err != nil {
			return fmt.Errorf("failed to clear access for %s: %w", e.ID, err)
		}
		for _, p := range scopeOf(e) {
			if _, err := insertAccess.ExecContext(ctx, e.ID, p); err != nil {
				return fmt.Errorf("failed to scope %s: %w", e.ID, err)
			}
		}
		ids = append(ids, e.ID)
	}

	if err := checkDocumentRefs(ctx, tx, ids); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// checkDocumentRefs fails when any knowledge item in ids points at a
// missing row or at a row that is not a document.
func checkDocumentRefs(ctx context.Context, tx *sqlx.Tx, ids []string) error {
	query, args, err := sq.Select("k.id", "k.document_id").
		From("entries k").
		LeftJoin("entries d ON d.id = k.document_id").
		Where(sq.Eq{"k.id": ids}).
		Where("k.document_id IS NOT NULL").
		Where("(d.id IS NULL OR d.kind <> 'document')").
		Limit(1).
		ToSql()
	if err != nil {
		return err
	}

	var bad struct {
		ID         string `db:"id"`
		DocumentID string `db:"document_id"`
	}
	err = tx.GetContext(ctx, &bad, query, args...)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to verify document references: %w", err)
	}
	return hrerrors.New(hrerrors.ErrCodeInvalidRecord,
		fmt.Sprintf("knowledge item %s references unknown document %s", bad.ID, bad.DocumentID), nil).
		WithDetail("id", bad.ID).
		WithDetail("document_id", bad.DocumentID)
}

// personaPredicate restricts e.* rows to those the filter may see.
// Documents are never scoped; knowledge items need a matching label.
func personaPredicate(filter access.PersonaFilter) sq.Sqlizer {
	if filter.Privileged() {
		return sq.Expr("1 = 1")
	}
	public := sq.Eq{"e.kind": string(KindDocument)}
	labels := filter.Labels()
	if len(labels) == 0 {
		return public
	}
	sub, args, _ := sq.Select("1").From("entry_access a").
		Where("a.entry_id = e.id").
		Where(sq.Eq{"a.persona": labels}).
		ToSql()
	return sq.Or{public, sq.Expr("EXISTS ("+sub+")", args...)}
}

// Lookup loads the entries among ids that filter admits.
func (s *SQLiteStore) Lookup(ctx context.Context, ids []string, filter access.PersonaFilter) (map[string]*Entry, error) {
	out := make(map[string]*Entry, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}

	query, args, err := sq.Select(entryColumns).
		From("entries e").
		Where(sq.Eq{"e.id": ids}).
		Where(personaPredicate(filter)).
		ToSql()
	if err != nil {
		return nil, err
	}

	var rows []entryRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("lookup failed: %w", err)
	}
	if len(rows) == 0 {
		return out, nil
	}

	found := make([]string, 0, len(rows))
	for i := range rows {
		out[rows[i].ID] = rows[i].toEntry()
		found = append(found, rows[i].ID)
	}

	scopes, err := s.scopesLocked(ctx, found)
	if err != nil {
		return nil, err
	}
	for id, e := range out {
		e.PersonaAccess = scopes[id]
		// The SQL predicate already filtered; this is the same rule
		// evaluated in Go so a predicate bug cannot leak a row.
		if !Visible(e, filter) {
			delete(out, id)
		}
	}
	return out, nil
}

// VisibleIDs reports which of ids exist and are visible to filter.
func (s *SQLiteStore) VisibleIDs(ctx context.Context, ids []string, filter access.PersonaFilter) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}

	query, args, err := sq.Select("e.id").
		From("entries e").
		Where(sq.Eq{"e.id": ids}).
		Where(personaPredicate(filter)).
		ToSql()
	if err != nil {
		return nil, err
	}
	var found []string
	if err := s.db.SelectContext(ctx, &found, query, args...); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("visibility check failed: %w", err)
	}
	for _, id := range found {
		out[id] = true
	}
	return out, nil
}

func (s *SQLiteStore) scopesLocked(ctx context.Context, ids []string) (map[string][]string, error) {
	query, args, err := sq.Select("entry_id", "persona").
		From("entry_access").
		Where(sq.Eq{"entry_id": ids}).
		OrderBy("entry_id", "persona").
		ToSql()
	if err != nil {
		return nil, err
	}
	var rows []struct {
		EntryID string `db:"entry_id"`
		Persona string `db:"persona"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("scope lookup failed: %w", err)
	}
	out := make(map[string][]string)
	for _, r := range rows {
		out[r.EntryID] = append(out[r.EntryID], r.Persona)
	}
	return out, nil
}

// Delete removes id and every knowledge item referencing it.
func (s *SQLiteStore) Delete(ctx context.Context, id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var removed []string
	if err := tx.SelectContext(ctx, &removed,
		`SELECT id FROM entries WHERE id = ? OR document_id = ? ORDER BY id`, id, id); err != nil {
		return nil, fmt.Errorf("failed to collect %s: %w", id, err)
	}
	if len(removed) == 0 {
		return nil, nil
	}

	query, args, err := sq.Delete("entry_fts").Where(sq.Eq{"entry_id": removed}).ToSql()
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to clear fts: %w", err)
	}
	// Access and trigram rows, and referencing knowledge items, cascade.
	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to delete %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return removed, nil
}

// Reset removes every entry and the pinned embedding settings.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM entry_fts`,
		`DELETE FROM entry_trigrams`,
		`DELETE FROM entry_access`,
		`DELETE FROM entries`,
		`DELETE FROM meta WHERE key IN ('` + MetaKeyDimensions + `', '` + MetaKeyModel + `')`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("reset failed: %w", err)
		}
	}
	return tx.Commit()
}

// Stats counts catalog rows.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}

	var counts struct {
		Documents int `db:"documents"`
		Knowledge int `db:"knowledge"`
		Embedded  int `db:"embedded"`
	}
	err := s.db.GetContext(ctx, &counts, `SELECT
		COALESCE(SUM(kind = 'document'), 0) AS documents,
		COALESCE(SUM(kind = 'knowledge'), 0) AS knowledge,
		COALESCE(SUM(embedding IS NOT NULL), 0) AS embedded
		FROM entries`)
	if err != nil {
		return nil, fmt.Errorf("stats failed: %w", err)
	}

	st := &Stats{
		Documents:      counts.Documents,
		KnowledgeItems: counts.Knowledge,
		Embedded:       counts.Embedded,
	}
	if v, err := s.metaLocked(ctx, MetaKeyDimensions); err == nil && v != "" {
		st.Dimensions, _ = strconv.Atoi(v)
	}
	st.EmbeddingModel, _ = s.metaLocked(ctx, MetaKeyModel)
	return st, nil
}

// EachEmbedding streams every stored vector. Used to rebuild the HNSW graph.
func (s *SQLiteStore) EachEmbedding(ctx context.Context, fn func(id string, vec []float32) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}

	rows, err := s.db.QueryxContext(ctx, `SELECT id, embedding FROM entries WHERE embedding IS NOT NULL ORDER BY id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return err
		}
		if err := fn(id, decodeVector(blob)); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Close checkpoints the WAL and closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.path != "" {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return s.db.Close()
}

var errClosed = fmt.Errorf("store is closed")

// encodeVector stores float32s little-endian. nil stays NULL.
func encodeVector(v []float32) any {
	if v == nil {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// EachContent streams every entry's id and content. Used to rebuild the
// Bleve index.
func (s *SQLiteStore) EachContent(ctx context.Context, fn func(id, content string) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}

	rows, err := s.db.QueryxContext(ctx, `SELECT id, content FROM entries ORDER BY id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id, content string
		if err := rows.Scan(&id, &content); err != nil {
			return err
		}
		if err := fn(id, content); err != nil {
			return err
		}
	}
	return rows.Err()
}
