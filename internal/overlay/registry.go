package overlay

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Registry tracks live overlays by id. It is owned by whoever creates the
// overlays; nothing in this package keeps global state.
type Registry struct {
	mu       sync.RWMutex
	overlays map[string]*Overlay
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{overlays: make(map[string]*Overlay)}
}

// Add registers o under its element id.
func (r *Registry) Add(o *Overlay) error {
	id := o.Element().ID
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrDuplicateID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.overlays[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	r.overlays[id] = o
	return nil
}

// Get returns the overlay registered under id.
func (r *Registry) Get(id string) (*Overlay, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.overlays[id]
	return o, ok
}

// Remove unregisters id and detaches the overlay if it is attached.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	o, ok := r.overlays[id]
	delete(r.overlays, id)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := o.Detach(); err != nil && !errors.Is(err, ErrNotAttached) {
		return err
	}
	return nil
}

// Len returns the number of registered overlays.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.overlays)
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.overlays))
	for id := range r.overlays {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Each calls fn for every overlay in id order. fn runs without the registry
// lock held and may call Remove.
func (r *Registry) Each(fn func(id string, o *Overlay)) {
	for _, id := range r.IDs() {
		if o, ok := r.Get(id); ok {
			fn(id, o)
		}
	}
}

// Close detaches and unregisters every overlay.
func (r *Registry) Close() {
	for _, id := range r.IDs() {
		_ = r.Remove(id)
	}
}
