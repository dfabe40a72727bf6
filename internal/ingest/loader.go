package ingest

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	hrerrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

// Input formats.
const (
	FormatJSONL = "jsonl"
	FormatCSV   = "csv"
)

// maxLineBytes bounds one JSON Lines record, embeddings included.
const maxLineBytes = 16 << 20

// Reader yields records in input order. Read returns io.EOF at the end.
// A *ParseError rejects one row; reading continues after it. Any other
// error ends the run.
type Reader interface {
	Read() (Record, error)
}

// ParseError is a row that could not be decoded.
type ParseError struct {
	Line int
	ID   string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// FileReader is a Reader over an open file.
type FileReader struct {
	Reader
	f      *os.File
	Format string
}

// Close closes the underlying file.
func (r *FileReader) Close() error { return r.f.Close() }

// DetectFormat picks a format from the file extension.
func DetectFormat(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson", ".json":
		return FormatJSONL, nil
	case ".csv":
		return FormatCSV, nil
	}
	return "", hrerrors.ValidationError(fmt.Sprintf("cannot infer the format of %s", path), nil).
		WithSuggestion("Pass --format jsonl or --format csv")
}

// LoadFile opens path as format, or detects the format when it is empty.
func LoadFile(path, format string) (*FileReader, error) {
	if format == "" {
		var err error
		if format, err = DetectFormat(path); err != nil {
			return nil, err
		}
	}
	if format != FormatJSONL && format != FormatCSV {
		return nil, hrerrors.ValidationError(fmt.Sprintf("unknown format %q", format), nil).
			WithSuggestion("Use jsonl or csv")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, hrerrors.New(hrerrors.ErrCodeInputRead, "cannot open input", err).
			WithDetail("path", path)
	}

	fr := &FileReader{f: f, Format: format}
	if format == FormatCSV {
		cr, err := NewCSVReader(f)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		fr.Reader = cr
	} else {
		fr.Reader = NewJSONLReader(f)
	}
	return fr, nil
}

// JSONLReader decodes one JSON object per line. Blank lines are skipped.
type JSONLReader struct {
	scanner *bufio.Scanner
	line    int
}

// NewJSONLReader reads from r.
func NewJSONLReader(r io.Reader) *JSONLReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &JSONLReader{scanner: s}
}

// Read returns the next record.
func (r *JSONLReader) Read() (Record, error) {
	for r.scanner.Scan() {
		r.line++
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return Record{}, &ParseError{Line: r.line, Err: err}
		}
		return rec, nil
	}
	if err := r.scanner.Err(); err != nil {
		return Record{}, hrerrors.New(hrerrors.ErrCodeInputRead,
			fmt.Sprintf("read failed after line %d", r.line), err)
	}
	return Record{}, io.EOF
}

// Product catalog CSV columns.
const (
	colProductID       = "productid"
	colDescription     = "product_description"
	colImageURL        = "imgurl"
	colProductURL      = "producturl"
	colStars           = "stars"
	colReviews         = "reviews"
	colPrice           = "price"
	colCategoryID      = "category_id"
	colBestseller      = "isbestseller"
	colBoughtLastMonth = "boughtinlastmonth"
	colCategoryName    = "category_name"
	colQuantity        = "quantity"
)

// CSVReader maps product catalog rows to document records. Headers match
// case-insensitively; category_id, quantity and unknown columns are read
// but not stored.
type CSVReader struct {
	r       *csv.Reader
	columns map[string]int
	line    int
}

// NewCSVReader reads the header row from r.
func NewCSVReader(r io.Reader) (*CSVReader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, hrerrors.New(hrerrors.ErrCodeInputRead, "cannot read CSV header", err)
	}
	columns := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := columns[name]; !dup {
			columns[name] = i
		}
	}
	for _, required := range []string{colProductID, colDescription} {
		if _, ok := columns[required]; !ok {
			return nil, hrerrors.ValidationError(fmt.Sprintf("CSV header lacks %q", required), nil)
		}
	}
	return &CSVReader{r: cr, columns: columns, line: 1}, nil
}

// Read returns the next record.
func (r *CSVReader) Read() (Record, error) {
	row, err := r.r.Read()
	if errors.Is(err, io.EOF) {
		return Record{}, io.EOF
	}
	var perr *csv.ParseError
	if errors.As(err, &perr) {
		r.line = perr.Line
		return Record{}, &ParseError{Line: perr.Line, Err: perr.Err}
	}
	if err != nil {
		return Record{}, hrerrors.New(hrerrors.ErrCodeInputRead,
			fmt.Sprintf("read failed after line %d", r.line), err)
	}
	r.line, _ = r.r.FieldPos(0)

	get := func(col string) string {
		i, ok := r.columns[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	rec := Record{
		ID:         get(colProductID),
		Content:    get(colDescription),
		Category:   get(colCategoryName),
		ImageURL:   get(colImageURL),
		ProductURL: get(colProductURL),
	}
	fail := func(col string, err error) (Record, error) {
		return Record{}, &ParseError{Line: r.line, ID: rec.ID, Err: fmt.Errorf("%s: %w", col, err)}
	}

	if rec.Rating, err = parseFloat(get(colStars)); err != nil {
		return fail(colStars, err)
	}
	if rec.Price, err = parseFloat(get(colPrice)); err != nil {
		return fail(colPrice, err)
	}
	if rec.Reviews, err = parseInt(get(colReviews)); err != nil {
		return fail(colReviews, err)
	}
	if rec.BoughtLastMonth, err = parseInt(get(colBoughtLastMonth)); err != nil {
		return fail(colBoughtLastMonth, err)
	}
	if v := get(colBestseller); v != "" {
		b, err := strconv.ParseBool(strings.ToLower(v))
		if err != nil {
			return fail(colBestseller, err)
		}
		rec.Bestseller = b
	}
	return rec, nil
}

func parseFloat(s string) (*float64, error) {
	s = strings.ReplaceAll(strings.TrimPrefix(s, "$"), ",", "")
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func parseInt(s string) (*int, error) {
	f, err := parseFloat(s)
	if f == nil || err != nil {
		return nil, err
	}
	n := int(*f)
	return &n, nil
}

// SliceReader reads records from memory.
type SliceReader struct {
	records []Record
	next    int
}

// NewSliceReader reads records in order.
func NewSliceReader(records []Record) *SliceReader {
	return &SliceReader{records: records}
}

// Read returns the next record.
func (r *SliceReader) Read() (Record, error) {
	if r.next >= len(r.records) {
		return Record{}, io.EOF
	}
	rec := r.records[r.next]
	r.next++
	return rec, nil
}

// ChanReader reads records until ch is closed or ctx ends.
type ChanReader struct {
	ctx context.Context
	ch  <-chan Record
}

// NewChanReader reads from ch.
func NewChanReader(ctx context.Context, ch <-chan Record) *ChanReader {
	return &ChanReader{ctx: ctx, ch: ch}
}

// Read returns the next record.
func (r *ChanReader) Read() (Record, error) {
	select {
	case rec, ok := <-r.ch:
		if !ok {
			return Record{}, io.EOF
		}
		return rec, nil
	case <-r.ctx.Done():
		return Record{}, r.ctx.Err()
	}
}
