package mapview

import "sync"

// Registry records the live map in each container and the views holding
// it. A view that mounts on a container with a live map adopts it instead
// of creating a second one; the map is destroyed when its last holder lets
// go.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	m       Map
	holders map[*View]struct{}
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registryEntry)}
}

func (r *Registry) Lookup(container string) (Map, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[container]
	if !ok {
		return nil, false
	}
	return e.m, true
}

// Bind adds holder to the views using m in container. Binding a different
// map replaces the entry.
func (r *Registry) Bind(container string, holder *View, m Map) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[container]
	if !ok || e.m != m {
		e = &registryEntry{m: m, holders: make(map[*View]struct{})}
		r.entries[container] = e
	}
	e.holders[holder] = struct{}{}
}

// Release drops holder and reports whether it was the last one, in which
// case the caller should destroy the map.
func (r *Registry) Release(container string, holder *View) (Map, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[container]
	if !ok {
		return nil, false
	}
	if _, held := e.holders[holder]; !held {
		return nil, false
	}
	delete(e.holders, holder)
	if len(e.holders) > 0 {
		return nil, false
	}
	delete(r.entries, container)
	return e.m, true
}

// Holders reports how many views use the map in container.
func (r *Registry) Holders(container string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[container]; ok {
		return len(e.holders)
	}
	return 0
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
