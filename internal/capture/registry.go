package capture

import (
	"sync"
	"weak"

	"github.com/bryanchriswhite/wincat/internal/slotmap"
)

// Registry tracks every source's Cell without owning it, so module teardown
// can stop all captures no matter what order the host destroys sources in.
type Registry struct {
	mu    sync.Mutex
	cells *slotmap.Map[weak.Pointer[Cell]]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{cells: slotmap.New[weak.Pointer[Cell]](8)}
}

// Register adds c and returns its key.
func (r *Registry) Register(c *Cell) slotmap.Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cells.Insert(weak.Make(c))
}

// Unregister removes the entry for key. Unknown keys are ignored.
func (r *Registry) Unregister(key slotmap.Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cells.Remove(key)
	return ok
}

// Len returns the number of entries, live or dead.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cells.Len()
}

// Drain empties the registry and clears every cell that is still alive,
// returning how many were. The registry stays usable afterwards.
func (r *Registry) Drain() int {
	r.mu.Lock()
	entries := r.cells.Drain()
	r.mu.Unlock()

	cleared := 0
	for _, wp := range entries {
		if c := wp.Value(); c != nil {
			c.Clear()
			cleared++
		}
	}
	return cleared
}
