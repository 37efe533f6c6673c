package tools

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// MaxToolNameLength is the longest tool name the registry will look up.
const MaxToolNameLength = 256

// Registry is the read-only catalog of tool definitions, keyed by name.
// It is safe for concurrent use because it is never mutated after construction.
type Registry struct {
	defs map[ToolName]Definition
}

// NewRegistry builds a registry from the given definitions.
// Names must be non-empty and unique.
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{defs: make(map[ToolName]Definition, len(defs))}
	for _, def := range defs {
		if strings.TrimSpace(string(def.Name)) == "" {
			return nil, errors.New("tools: definition name is required")
		}
		if _, exists := r.defs[def.Name]; exists {
			return nil, fmt.Errorf("tools: duplicate definition %q", def.Name)
		}
		r.defs[def.Name] = def
	}
	return r, nil
}

// DefaultRegistry returns a registry holding Catalog().
func DefaultRegistry() *Registry {
	r, err := NewRegistry(Catalog()...)
	if err != nil {
		panic(err)
	}
	return r
}

// Get returns the definition registered under name.
// Unknown names are a normal miss, not an error.
func (r *Registry) Get(name string) (Definition, bool) {
	if r == nil || len(name) > MaxToolNameLength {
		return Definition{}, false
	}
	def, ok := r.defs[ToolName(name)]
	return def, ok
}

// List returns all definitions sorted by name.
func (r *Registry) List() []Definition {
	if r == nil {
		return nil
	}
	out := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.defs)
}
