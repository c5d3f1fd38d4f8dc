// Package slotmap is a generational arena. Insert returns a Key made of a slot
// index and a generation; removing a value bumps the slot's generation, so a key
// handed out before the removal never resolves to whatever is stored there later.
//
// A Map is not safe for concurrent use. Callers guard it with their own lock.
package slotmap

import "fmt"

// Key identifies a value stored in a Map. The zero Key is never issued.
type Key struct {
	index uint32
	gen   uint32
}

// IsZero reports whether k is the zero Key.
func (k Key) IsZero() bool {
	return k.gen == 0
}

func (k Key) String() string {
	return fmt.Sprintf("%dv%d", k.index, k.gen)
}

type slot[V any] struct {
	gen      uint32 // odd while occupied
	value    V
	nextFree uint32
}

// Map stores values of type V under stable generational keys.
type Map[V any] struct {
	slots    []slot[V]
	freeHead uint32 // index+1 of first free slot, 0 when the free list is empty
	len      int
}

// New returns an empty Map with room for capacity values.
func New[V any](capacity int) *Map[V] {
	return &Map[V]{slots: make([]slot[V], 0, capacity)}
}

// Insert stores v and returns its key.
func (m *Map[V]) Insert(v V) Key {
	var idx uint32
	if m.freeHead != 0 {
		idx = m.freeHead - 1
		m.freeHead = m.slots[idx].nextFree
	} else {
		m.slots = append(m.slots, slot[V]{})
		idx = uint32(len(m.slots) - 1)
	}

	s := &m.slots[idx]
	s.gen++
	s.value = v
	s.nextFree = 0
	m.len++
	return Key{index: idx, gen: s.gen}
}

func (m *Map[V]) lookup(k Key) *slot[V] {
	if k.gen == 0 || int(k.index) >= len(m.slots) {
		return nil
	}
	s := &m.slots[k.index]
	if s.gen != k.gen {
		return nil
	}
	return s
}

// Get returns the value stored under k.
func (m *Map[V]) Get(k Key) (V, bool) {
	if s := m.lookup(k); s != nil {
		return s.value, true
	}
	var zero V
	return zero, false
}

// Contains reports whether k is live.
func (m *Map[V]) Contains(k Key) bool {
	return m.lookup(k) != nil
}

// Remove deletes the value stored under k and returns it.
func (m *Map[V]) Remove(k Key) (V, bool) {
	var zero V
	s := m.lookup(k)
	if s == nil {
		return zero, false
	}
	v := s.value
	s.value = zero
	s.gen++
	s.nextFree = m.freeHead
	m.freeHead = k.index + 1
	m.len--
	return v, true
}

// Len returns the number of live values.
func (m *Map[V]) Len() int {
	return m.len
}

// Range calls fn for every live value in slot order until fn returns false.
func (m *Map[V]) Range(fn func(Key, V) bool) {
	for i := range m.slots {
		s := &m.slots[i]
		if s.gen%2 == 0 {
			continue
		}
		if !fn(Key{index: uint32(i), gen: s.gen}, s.value) {
			return
		}
	}
}

// Drain removes every live value and returns them in slot order. Keys issued
// before the drain stay invalid afterwards.
func (m *Map[V]) Drain() []V {
	out := make([]V, 0, m.len)
	m.Range(func(k Key, v V) bool {
		out = append(out, v)
		m.Remove(k)
		return true
	})
	return out
}
