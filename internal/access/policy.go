// Package access decides which catalog rows a persona may see.
//
// Personas form a closed set. Each persona is a gorbac role holding the
// permission view:<persona>; inheritance is role parentage, so a child role
// is granted every view permission of its ancestors. Privileged personas see
// everything.
package access

import (
	"fmt"
	"slices"
	"sort"

	"github.com/mikespook/gorbac/v2"

	"github.com/Aman-CERP/hybridrag/internal/config"
	hrerrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

const viewPrefix = "view:"

// Policy is an immutable persona model built from configuration.
type Policy struct {
	rbac       *gorbac.RBAC
	personas   []string
	privileged map[string]bool
	inherits   map[string][]string

	// visible caches, per persona, the labels whose rows it may read.
	visible map[string][]string
}

// NewPolicy builds a Policy. It rejects unknown personas in privileged or
// inherits and inheritance cycles.
func NewPolicy(cfg config.AccessConfig) (*Policy, error) {
	if len(cfg.Personas) == 0 {
		return nil, fmt.Errorf("access: no personas configured")
	}

	rbac := gorbac.New()
	for _, p := range cfg.Personas {
		role := gorbac.NewStdRole(p)
		if err := role.Assign(gorbac.NewStdPermission(viewPrefix + p)); err != nil {
			return nil, fmt.Errorf("access: assign %s: %w", p, err)
		}
		if err := rbac.Add(role); err != nil {
			return nil, fmt.Errorf("access: add persona %s: %w", p, err)
		}
	}

	inherits := make(map[string][]string, len(cfg.Inherits))
	for child, parents := range cfg.Inherits {
		for _, parent := range parents {
			if err := rbac.SetParent(child, parent); err != nil {
				return nil, fmt.Errorf("access: %s inherits %s: %w", child, parent, err)
			}
		}
		inherits[child] = slices.Clone(parents)
	}
	if err := gorbac.InherCircle(rbac); err != nil {
		return nil, fmt.Errorf("access: inheritance cycle: %w", err)
	}

	privileged := make(map[string]bool, len(cfg.Privileged))
	for _, p := range cfg.Privileged {
		if _, _, err := rbac.Get(p); err != nil {
			return nil, fmt.Errorf("access: privileged persona %s: %w", p, err)
		}
		privileged[p] = true
	}

	pol := &Policy{
		rbac:       rbac,
		personas:   slices.Clone(cfg.Personas),
		privileged: privileged,
		inherits:   inherits,
		visible:    make(map[string][]string, len(cfg.Personas)),
	}
	for _, p := range cfg.Personas {
		var labels []string
		for _, q := range cfg.Personas {
			if rbac.IsGranted(p, gorbac.NewStdPermission(viewPrefix+q), nil) {
				labels = append(labels, q)
			}
		}
		sort.Strings(labels)
		pol.visible[p] = labels
	}
	return pol, nil
}

// Filter returns the PersonaFilter for persona. An unknown persona is an
// ERR_406_INVALID_PERSONA error.
func (p *Policy) Filter(persona string) (PersonaFilter, error) {
	labels, ok := p.visible[persona]
	if !ok {
		return PersonaFilter{}, hrerrors.New(hrerrors.ErrCodeInvalidPersona,
			fmt.Sprintf("unknown persona %q", persona), nil).
			WithSuggestion(fmt.Sprintf("Use one of: %v", p.personas))
	}
	return PersonaFilter{
		persona:    persona,
		privileged: p.privileged[persona],
		labels:     labels,
	}, nil
}

// Known reports whether persona is configured.
func (p *Policy) Known(persona string) bool {
	_, ok := p.visible[persona]
	return ok
}

// Personas returns the configured personas in configuration order.
func (p *Policy) Personas() []string {
	return slices.Clone(p.personas)
}

// Privileged returns the privileged personas, sorted.
func (p *Policy) Privileged() []string {
	out := make([]string, 0, len(p.privileged))
	for name := range p.privileged {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Inherits returns a copy of the direct inheritance edges.
func (p *Policy) Inherits() map[string][]string {
	out := make(map[string][]string, len(p.inherits))
	for k, v := range p.inherits {
		out[k] = slices.Clone(v)
	}
	return out
}
