package capture

import "sync"

// Cell holds the zero or one Session of a source.
type Cell struct {
	mu      sync.Mutex
	session *Session
}

// NewCell returns an empty cell.
func NewCell() *Cell {
	return &Cell{}
}

// Load returns the current session, or nil.
func (c *Cell) Load() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Take removes and returns the current session without stopping it.
func (c *Cell) Take() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.session
	c.session = nil
	return s
}

// Remove takes s out of the cell only if it is still the current session.
// It does not stop s.
func (c *Cell) Remove(s *Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s == nil || c.session != s {
		return false
	}
	c.session = nil
	return true
}

// Install stores s unless abort reports true, in which case s is stopped
// and false is returned. abort is evaluated under the cell lock so a
// concurrent Clear either sees s or s is never installed. Any previous
// session is stopped.
func (c *Cell) Install(s *Session, abort func() bool) bool {
	c.mu.Lock()
	if abort != nil && abort() {
		c.mu.Unlock()
		s.Stop()
		return false
	}
	prev := c.session
	c.session = s
	c.mu.Unlock()

	if prev != nil && prev != s {
		prev.Stop()
	}
	return true
}

// Clear stops and removes the current session.
func (c *Cell) Clear() {
	c.Take().Stop()
}

// RequestUpdate sets the force-update flag of the current session, if any.
func (c *Cell) RequestUpdate() {
	c.Load().RequestUpdate()
}

// Width returns the current session's frame width, or 0.
func (c *Cell) Width() int { return c.Load().Width() }

// Height returns the current session's frame height, or 0.
func (c *Cell) Height() int { return c.Load().Height() }
