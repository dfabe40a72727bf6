package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"noise", "cancelling", "usb", "c"}, Tokenize("Noise-Cancelling (USB-C)!"))
	assert.Empty(t, Tokenize("  ...  "))
}

func TestQueryTerms(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"drops stop words", "gift for a coffee lover", []string{"gift", "coffee", "lover"}},
		{"dedupes", "usb USB usb-c", []string{"usb", "c"}},
		{"keeps stop words when nothing else", "the", []string{"the"}},
		{"strips query syntax", `"warranty" OR NEAR(x`, []string{"warranty", "near", "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, QueryTerms(tt.query))
		})
	}
}

func TestTrigrams_PaddedPerWord(t *testing.T) {
	// Given: a single short word
	// When: extracting trigrams
	got := Trigrams("Cat")

	// Then: two leading spaces and one trailing space are padded
	assert.Equal(t, []string{"  c", " ca", "cat", "at "}, got)
}

func TestTrigrams_Distinct(t *testing.T) {
	got := Trigrams("aaa aaa")
	assert.Equal(t, []string{"  a", " aa", "aaa", "aa "}, got)
}

func TestTrigramSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, TrigramSimilarity("headphones", "HEADPHONES"), 1e-9)
	assert.Zero(t, TrigramSimilarity("coffee", "zzz"))
	assert.Zero(t, TrigramSimilarity("", "coffee"))

	// 15 shared of 17 query and 51 content trigrams.
	sim := TrigramSimilarity("wireles hedphones", "Wireless Bluetooth Headphones with noise cancellation")
	assert.InDelta(t, 15.0/53.0, sim, 1e-9)
}

func TestBuildFTSQuery(t *testing.T) {
	assert.Equal(t, `"gift" OR "coffee" OR "lover"`, BuildFTSQuery("gift for coffee lover"))
	assert.Equal(t, "", BuildFTSQuery("   "))
	assert.Equal(t, `"x" OR "y"`, BuildFTSQuery(`x* "y`))
}
