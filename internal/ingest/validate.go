package ingest

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"

	"github.com/Aman-CERP/hybridrag/internal/access"
	"github.com/Aman-CERP/hybridrag/internal/embed"
	hrerrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/store"
)

// Field bounds applied during normalization.
const (
	DefaultMaxContentChars = 5000
	MaxCategoryChars       = 255
	MaxURLChars            = 500
	MinRating              = 1.0
	MaxRating              = 5.0
)

// Validator turns Records into catalog entries.
type Validator struct {
	policy     *access.Policy
	dims       int
	maxContent int
}

// NewValidator checks persona labels against policy and supplied
// embeddings against dims. dims 0 skips the length check.
func NewValidator(policy *access.Policy, dims, maxContent int) *Validator {
	if maxContent <= 0 {
		maxContent = DefaultMaxContentChars
	}
	return &Validator{policy: policy, dims: dims, maxContent: maxContent}
}

// Entry validates and normalizes r. Errors are ERR_407_INVALID_RECORD.
func (v *Validator) Entry(r Record) (*store.Entry, error) {
	e := &store.Entry{
		ID:          strings.TrimSpace(r.ID),
		Kind:        r.Kind,
		Content:     truncate(strings.TrimSpace(r.Content), v.maxContent),
		Category:    truncate(strings.TrimSpace(r.Category), MaxCategoryChars),
		ContentType: strings.TrimSpace(r.ContentType),
		Severity:    strings.ToLower(strings.TrimSpace(r.Severity)),
		DocumentID:  strings.TrimSpace(r.DocumentID),
		Bestseller:  r.Bestseller,
		ImageURL:    truncate(strings.TrimSpace(r.ImageURL), MaxURLChars),
		ProductURL:  truncate(strings.TrimSpace(r.ProductURL), MaxURLChars),
	}
	if e.Kind == "" {
		e.Kind = store.KindDocument
	}
	if r.CreatedAt != nil {
		e.CreatedAt = r.CreatedAt.UTC()
	}

	switch {
	case e.ID == "":
		return nil, invalid("id is required")
	case e.Content == "":
		return nil, invalid("content is required")
	case e.Kind != store.KindDocument && e.Kind != store.KindKnowledge:
		return nil, invalid(fmt.Sprintf("unknown kind %q", e.Kind))
	}

	if e.Kind == store.KindKnowledge {
		if err := v.knowledge(e, r); err != nil {
			return nil, err
		}
	} else {
		if len(r.PersonaAccess) > 0 {
			return nil, invalid("documents carry no persona_access; use a knowledge item")
		}
		if e.DocumentID != "" {
			return nil, invalid("document_id applies to knowledge items only")
		}
	}

	if !store.ValidSeverity(e.Severity) {
		return nil, invalid(fmt.Sprintf("unknown severity %q", r.Severity))
	}

	e.Price = clampFloat(r.Price, 0, math.Inf(1))
	e.Rating = clampFloat(r.Rating, MinRating, MaxRating)
	e.Reviews = clampInt(r.Reviews)
	e.BoughtLastMonth = clampInt(r.BoughtLastMonth)

	if len(r.Embedding) > 0 {
		if v.dims > 0 && len(r.Embedding) != v.dims {
			return nil, invalid(fmt.Sprintf("embedding has %d dimensions, expected %d", len(r.Embedding), v.dims))
		}
		// A zero or non-finite vector is discarded and recomputed.
		if embed.ValidVector(r.Embedding, len(r.Embedding)) {
			e.Embedding = slices.Clone(r.Embedding)
		}
	}
	return e, nil
}

func (v *Validator) knowledge(e *store.Entry, r Record) error {
	if e.ContentType == "" {
		return invalid("content_type is required for knowledge items")
	}
	scope := lo.Uniq(lo.FilterMap(r.PersonaAccess, func(p string, _ int) (string, bool) {
		p = strings.TrimSpace(p)
		return p, p != ""
	}))
	if len(scope) == 0 {
		return invalid("persona_access must name at least one persona")
	}
	for _, p := range scope {
		if v.policy != nil && !v.policy.Known(p) {
			return invalid(fmt.Sprintf("unknown persona %q in persona_access", p))
		}
	}
	slices.Sort(scope)
	e.PersonaAccess = scope
	e.Category = ""
	return nil
}

func invalid(msg string) error {
	return hrerrors.New(hrerrors.ErrCodeInvalidRecord, msg, nil)
}

func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func clampFloat(p *float64, floor, ceil float64) *float64 {
	if p == nil || math.IsNaN(*p) {
		return nil
	}
	v := math.Min(math.Max(*p, floor), ceil)
	return &v
}

func clampInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := max(*p, 0)
	return &v
}
