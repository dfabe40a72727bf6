package search

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/hybridrag/internal/access"
	"github.com/Aman-CERP/hybridrag/internal/config"
	"github.com/Aman-CERP/hybridrag/internal/embed"
	"github.com/Aman-CERP/hybridrag/internal/store"
)

// fakeIndex serves all three index interfaces from canned functions and
// records the persona filter each call received.
type fakeIndex struct {
	vector  func(ctx context.Context, v []float32, k int) ([]store.VectorResult, error)
	lexical func(ctx context.Context, text string, k int) ([]store.LexicalResult, error)
	fuzzy   func(ctx context.Context, text string, threshold float64, k int) ([]store.FuzzyResult, error)

	mu      sync.Mutex
	filters []access.PersonaFilter
}

func (f *fakeIndex) record(filter access.PersonaFilter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, filter)
}

func (f *fakeIndex) seen() []access.PersonaFilter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]access.PersonaFilter(nil), f.filters...)
}

func (f *fakeIndex) SearchVector(ctx context.Context, v []float32, k int, filter access.PersonaFilter) ([]store.VectorResult, error) {
	f.record(filter)
	if f.vector == nil {
		return nil, nil
	}
	return f.vector(ctx, v, k)
}

func (f *fakeIndex) SearchLexical(ctx context.Context, text string, k int, filter access.PersonaFilter) ([]store.LexicalResult, error) {
	f.record(filter)
	if f.lexical == nil {
		return nil, nil
	}
	return f.lexical(ctx, text, k)
}

func (f *fakeIndex) SearchFuzzy(ctx context.Context, text string, threshold float64, k int, filter access.PersonaFilter) ([]store.FuzzyResult, error) {
	f.record(filter)
	if f.fuzzy == nil {
		return nil, nil
	}
	return f.fuzzy(ctx, text, threshold, k)
}

func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

var errBackendDown = errors.New("backend down")

// conceptEmbedder maps vocabulary onto a handful of concept axes so that
// related words land near each other without a real model.
type conceptEmbedder struct {
	mu    sync.Mutex
	modes []embed.Mode
}

var conceptAxes = map[string]int{
	"coffee": 0, "espresso": 0, "grinder": 0, "beans": 0, "brew": 0, "barista": 0, "latte": 0,
	"headphones": 1, "wireless": 1, "bluetooth": 1, "audio": 1, "earbuds": 1,
	"gift": 2, "present": 2,
	"warranty": 3, "repair": 3, "returns": 3,
}

const conceptDims = 5

func (c *conceptEmbedder) vector(text string) []float32 {
	v := make([]float32, conceptDims)
	v[conceptDims-1] = 0.05
	for _, tok := range store.Tokenize(text) {
		axis, ok := conceptAxes[tok]
		if !ok {
			axis, ok = conceptAxes[strings.TrimSuffix(tok, "s")]
		}
		if ok {
			v[axis]++
		}
	}
	return v
}

func (c *conceptEmbedder) Embed(_ context.Context, text string, mode embed.Mode) ([]float32, error) {
	c.mu.Lock()
	c.modes = append(c.modes, mode)
	c.mu.Unlock()
	return c.vector(text), nil
}

func (c *conceptEmbedder) EmbedBatch(ctx context.Context, texts []string, mode embed.Mode) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := c.Embed(ctx, t, mode)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (c *conceptEmbedder) Dimensions() int                { return conceptDims }
func (c *conceptEmbedder) ModelName() string              { return "concept-test" }
func (c *conceptEmbedder) Available(context.Context) bool { return true }
func (c *conceptEmbedder) Close() error                   { return nil }

func defaultPolicy(t *testing.T) *access.Policy {
	t.Helper()
	p, err := access.NewPolicy(config.NewConfig().Access)
	require.NoError(t, err)
	return p
}
