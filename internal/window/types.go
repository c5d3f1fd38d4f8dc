package window

import (
	"errors"
	"fmt"
	"time"
)

// Handle is an opaque platform identifier for a top-level window. Handles are
// only valid while the window exists and may be recycled by the platform.
type Handle uintptr

// NoHandle is the zero Handle. As an event trigger it means "no specific window".
const NoHandle Handle = 0

func (h Handle) String() string {
	return fmt.Sprintf("0x%x", uintptr(h))
}

// ErrNotFound is returned when a handle no longer resolves to a live window.
var ErrNotFound = errors.New("window not found")

// Rect is a window's bounding rectangle in screen coordinates.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Record describes one top-level window.
type Record struct {
	Title     string `json:"title"`
	ClassName string `json:"class_name"`
	Handle    Handle `json:"hwnd"`
	Visible   bool   `json:"visible"`
	Rect
}

// Process groups the windows owned by one process.
type Process struct {
	Name    string   `json:"name"`
	PID     uint32   `json:"pid"`
	Main    *Record  `json:"main,omitempty"`
	Windows []Record `json:"windows"`
}

// Snapshot is a complete, immutable view of processes and their windows.
// Published snapshots must never be mutated.
type Snapshot struct {
	Processes []Process `json:"processes"`
	TakenAt   time.Time `json:"taken_at"`
}

// Window looks up a record by handle.
func (s *Snapshot) Window(h Handle) (Record, bool) {
	if s == nil {
		return Record{}, false
	}
	for _, p := range s.Processes {
		for _, w := range p.Windows {
			if w.Handle == h {
				return w, true
			}
		}
	}
	return Record{}, false
}

// WindowCount returns the number of windows across all processes.
func (s *Snapshot) WindowCount() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, p := range s.Processes {
		n += len(p.Windows)
	}
	return n
}
