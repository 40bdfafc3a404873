package endpoint

import (
	"fmt"
	"slices"
	"sync"

	"iexcloud/pkg/core"
)

// Registry is a thread-safe set of descriptors keyed by id.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]*Descriptor
}

// NewRegistry creates and returns a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		descriptors: make(map[string]*Descriptor),
	}
}

// Register adds a descriptor. Registering an id twice is an error.
func (r *Registry) Register(d *Descriptor) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("descriptor id is required")
	}
	if d.Path == "" {
		return fmt.Errorf("descriptor %q: path is required", d.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.descriptors[d.ID]; exists {
		return fmt.Errorf("descriptor %q already registered", d.ID)
	}
	if d.Method == "" {
		d.Method = "GET"
	}
	if d.Weight <= 0 {
		d.Weight = 1
	}
	r.descriptors[d.ID] = d
	return nil
}

// Get retrieves a descriptor by id.
func (r *Registry) Get(id string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, exists := r.descriptors[id]
	if !exists {
		return nil, core.NewError(id, core.ErrorTypeQuery, 0, "unknown endpoint").WithCode(core.ErrCodeUnknownEndpoint)
	}
	return d, nil
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.descriptors))
	for id := range r.descriptors {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Exists checks whether a descriptor with the given id is registered.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.descriptors[id]
	return exists
}

var defaultRegistry = func() *Registry {
	r := NewRegistry()
	for _, d := range catalog() {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	return r
}()

// Default returns the registry holding the built-in catalog.
func Default() *Registry {
	return defaultRegistry
}

// MustGet returns a built-in descriptor and panics when id is unknown.
func MustGet(id string) *Descriptor {
	d, err := defaultRegistry.Get(id)
	if err != nil {
		panic(err)
	}
	return d
}
