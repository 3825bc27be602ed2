package endpoint

import (
	"fmt"
	"sort"
)

// DuplicateError reports a second registration under an already-taken name.
// It is a startup-fatal configuration error, not a runtime condition.
type DuplicateError struct {
	Name string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("endpoint: duplicate registration for %q", e.Name)
}

// SealedError reports a registration attempted after Seal.
type SealedError struct {
	Name string
}

func (e *SealedError) Error() string {
	return fmt.Sprintf("endpoint: registry sealed, cannot register %q", e.Name)
}

// Registry is the table of named endpoints. It is built during a startup
// phase and sealed before any traffic is served; after Seal it is
// read-only, so lookups need no synchronization.
type Registry struct {
	endpoints map[string]*Descriptor
	sealed    bool
}

// NewRegistry creates an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{endpoints: make(map[string]*Descriptor)}
}

// Register adds an endpoint. Callers treat any error as fatal: the process
// must not start with a half-built registry.
func (r *Registry) Register(desc *Descriptor) error {
	if r.sealed {
		return &SealedError{Name: desc.Name}
	}
	if desc.Name == "" {
		return fmt.Errorf("endpoint: registration with empty name")
	}
	if !desc.Kind.Valid() {
		return fmt.Errorf("endpoint: %q has invalid kind %q", desc.Name, desc.Kind)
	}
	if desc.Invoker == nil {
		return fmt.Errorf("endpoint: %q registered without invoker", desc.Name)
	}
	if _, exists := r.endpoints[desc.Name]; exists {
		return &DuplicateError{Name: desc.Name}
	}
	r.endpoints[desc.Name] = desc
	return nil
}

// Seal freezes the registry. Further registrations fail; lookups become
// lock-free for the lifetime of the process. Sealing twice is a no-op.
func (r *Registry) Seal() {
	r.sealed = true
}

// Sealed reports whether the registry has been frozen.
func (r *Registry) Sealed() bool {
	return r.sealed
}

// Lookup returns the descriptor registered under name, if any.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	d, ok := r.endpoints[name]
	return d, ok
}

// List returns every registered descriptor, sorted by name so discovery
// output is stable. Ordering carries no semantic weight.
func (r *Registry) List() []*Descriptor {
	out := make([]*Descriptor, 0, len(r.endpoints))
	for _, d := range r.endpoints {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered endpoints.
func (r *Registry) Len() int {
	return len(r.endpoints)
}
