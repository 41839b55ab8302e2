package session

import (
	"sort"
	"sync"
)

// Registry tracks the live connections of a server so they can be listed and
// stopped together.
type Registry struct {
	mu    sync.RWMutex
	conns map[uint64]*Conn
}

func NewRegistry() *Registry { return &Registry{conns: make(map[uint64]*Conn)} }

// Add registers c under its ID.
func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.ID()] = c
}

// Remove forgets the connection with the given ID.
func (r *Registry) Remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

// Get returns the connection with the given ID (if any).
func (r *Registry) Get(id uint64) *Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[id]
}

// List returns all registered connections ordered by ID.
func (r *Registry) List() []*Conn {
	r.mu.RLock()
	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// StopAll stops every registered connection and waits for their readers to
// exit.
func (r *Registry) StopAll() {
	conns := r.List()
	for _, c := range conns {
		c.Stop()
	}
	for _, c := range conns {
		c.Wait()
	}
}
