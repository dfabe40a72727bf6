package access

import "slices"

// PersonaFilter is the row-visibility predicate for one caller. It is
// immutable once built by Policy.Filter. The zero value admits only
// unscoped rows (documents).
type PersonaFilter struct {
	persona    string
	privileged bool
	labels     []string // sorted
}

// Persona returns the caller persona.
func (f PersonaFilter) Persona() string { return f.persona }

// Privileged reports whether the filter admits every row.
func (f PersonaFilter) Privileged() bool { return f.privileged }

// Labels returns the persona_access labels this caller may read, sorted.
func (f PersonaFilter) Labels() []string { return slices.Clone(f.labels) }

// Allows reports whether a row with the given persona_access scope is
// visible. An empty scope is public.
func (f PersonaFilter) Allows(scope []string) bool {
	if len(scope) == 0 || f.privileged {
		return true
	}
	for _, s := range scope {
		if _, ok := slices.BinarySearch(f.labels, s); ok {
			return true
		}
	}
	return false
}
