package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Registry holds the compiled format specs for one process. It is built once
// at startup and is read-only afterwards, so it is safe for concurrent use.
type Registry struct {
	specs map[string]*FormatSpec
}

// NewRegistry indexes specs by lower-cased name.
// Returns a *ConfigError if two specs share a name.
func NewRegistry(specs ...*FormatSpec) (*Registry, error) {
	r := &Registry{specs: make(map[string]*FormatSpec, len(specs))}
	for _, s := range specs {
		if s == nil {
			continue
		}
		key := strings.ToLower(s.Name)
		if _, exists := r.specs[key]; exists {
			return nil, &ConfigError{Format: s.Name, Err: fmt.Errorf("format registered twice")}
		}
		r.specs[key] = s
	}
	return r, nil
}

// Get returns a spec by name, ignoring case.
func (r *Registry) Get(name string) (*FormatSpec, bool) {
	if r == nil {
		return nil, false
	}
	s, ok := r.specs[strings.ToLower(strings.TrimSpace(name))]
	return s, ok
}

// Names returns the registered format names, sorted.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.specs))
	for _, s := range r.specs {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered formats.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.specs)
}
