package embed

import (
	"context"
	"errors"
	"math"
	"time"
	"unicode/utf8"
)

const (
	// DefaultBatchSize is the number of texts sent per provider request.
	DefaultBatchSize = 32

	// MaxBatchSize caps a single provider request.
	MaxBatchSize = 256

	// DefaultTimeout bounds a single provider request.
	DefaultTimeout = 30 * time.Second

	// DefaultDimensions is the size used by remote providers when none is configured.
	DefaultDimensions = 1024

	// StaticDimensions is the embedding dimension for the static embedder.
	StaticDimensions = 256

	// DefaultMaxInputChars truncates text before it reaches the provider.
	DefaultMaxInputChars = 2000
)

// Mode selects the encoding used for a text. Asymmetric models embed
// questions and passages with different prefixes or heads.
type Mode int

const (
	ModeDocument Mode = iota
	ModeQuery
)

func (m Mode) String() string {
	if m == ModeQuery {
		return "query"
	}
	return "document"
}

// ErrEmptyInput is returned for blank text. A blank text has no meaningful
// embedding and must not be stored as a zero vector.
var ErrEmptyInput = errors.New("embed: empty input")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("embed: embedder is closed")

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string, mode Mode) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in order.
	EmbedBatch(ctx context.Context, texts []string, mode Mode) ([][]float32, error)

	// Dimensions returns the embedding dimension D.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the embedder is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// ValidVector reports whether v is usable as a stored embedding: exactly
// dims components, all finite, and not all zero.
func ValidVector(v []float32, dims int) bool {
	if len(v) != dims || dims == 0 {
		return false
	}
	nonZero := false
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
		if x != 0 {
			nonZero = true
		}
	}
	return nonZero
}

// TruncateInput cuts text to at most maxChars runes. maxChars <= 0 disables it.
func TruncateInput(text string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxChars])
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}

// fitDimensions truncates a Matryoshka-style vector to dims and renormalizes.
// Vectors shorter than dims are returned unchanged and fail ValidVector.
func fitDimensions(v []float32, dims int) []float32 {
	if dims <= 0 || len(v) <= dims {
		return v
	}
	return normalizeVector(v[:dims])
}
