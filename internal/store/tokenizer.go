package store

import (
	"strings"
	"unicode"
)

// DefaultStopWords are dropped from lexical queries. FTS5 and Bleve index
// them, but OR-ing "the" into a query matches nearly every row.
var DefaultStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "by", "for", "from", "how",
	"i", "in", "is", "it", "me", "my", "of", "on", "or", "that", "the",
	"this", "to", "what", "when", "where", "which", "with", "you", "your",
}

var defaultStopWordMap = BuildStopWordMap(DefaultStopWords)

// Tokenize lowercases text and splits it on anything that is not a letter
// or digit. Punctuation that a query syntax might interpret is gone after
// this step.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// QueryTerms tokenizes a query, drops stop words and duplicates, and keeps
// first-seen order. If only stop words remain they are kept so that a query
// such as "the" still has terms.
func QueryTerms(text string) []string {
	tokens := Tokenize(text)
	seen := make(map[string]struct{}, len(tokens))
	var kept, all []string
	for _, t := range tokens {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		all = append(all, t)
		if _, stop := defaultStopWordMap[t]; !stop {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		return all
	}
	return kept
}

// Trigrams returns the distinct trigrams of text the way pg_trgm computes
// them: lowercase, split into words on non-alphanumerics, pad each word
// with two leading spaces and one trailing space, take every 3-rune window.
func Trigrams(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, word := range Tokenize(text) {
		padded := []rune("  " + word + " ")
		for i := 0; i+3 <= len(padded); i++ {
			g := string(padded[i : i+3])
			if _, dup := seen[g]; dup {
				continue
			}
			seen[g] = struct{}{}
			out = append(out, g)
		}
	}
	return out
}

// TrigramSimilarity is |A∩B| / |A∪B| over the trigram sets of a and b.
func TrigramSimilarity(a, b string) float64 {
	ta, tb := Trigrams(a), Trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(ta))
	for _, g := range ta {
		set[g] = struct{}{}
	}
	shared := 0
	for _, g := range tb {
		if _, ok := set[g]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(ta)+len(tb)-shared)
}

// BuildStopWordMap converts a slice of stop words to a map for lookup.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}
