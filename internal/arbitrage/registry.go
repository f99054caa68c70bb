package arbitrage

import (
	"fmt"
	"slices"
	"strings"
)

// Registry maps configured strategy names to Strategy values. It is filled
// once at startup and read-only afterwards.
type Registry struct {
	byName map[string]Strategy
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Strategy)}
}

// DefaultRegistry registers the direct and triangular strategies built from p.
func DefaultRegistry(p Params) *Registry {
	r := NewRegistry()
	r.Register(NewDirect(p))
	r.Register(NewTriangular(p))
	return r
}

// Register adds s under s.Name(), replacing any earlier entry.
func (r *Registry) Register(s Strategy) {
	r.byName[s.Name()] = s
}

// Select resolves names in the given order. An empty list selects every
// registered strategy sorted by name.
func (r *Registry) Select(names []string) ([]Strategy, error) {
	if len(names) == 0 {
		names = r.List()
	}
	out := make([]Strategy, 0, len(names))
	picked := make(map[string]bool, len(names))
	for _, n := range names {
		s, ok := r.byName[n]
		if !ok {
			return nil, fmt.Errorf("arbitrage: unknown strategy %q (have %s)", n, strings.Join(r.List(), ", "))
		}
		if picked[n] {
			return nil, fmt.Errorf("arbitrage: strategy %q selected twice", n)
		}
		picked[n] = true
		out = append(out, s)
	}
	return out, nil
}

// List returns the registered names, sorted.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
