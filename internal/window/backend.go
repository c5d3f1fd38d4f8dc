package window

// Inspector answers live questions about a window handle. Answers reflect the
// platform state at call time, not the last snapshot.
type Inspector interface {
	// ProcessID resolves the owning process. ok is false if the window is gone.
	ProcessID(h Handle) (pid uint32, ok bool)

	// IsVisible reports whether the window is currently visible.
	IsVisible(h Handle) bool

	// Title returns the window's current title, or "" if it has none or is gone.
	Title(h Handle) string

	// Geometry returns the window's current bounding rectangle.
	Geometry(h Handle) (Rect, error)
}

// WindowInfo is a single window as reported by a backend, before grouping.
type WindowInfo struct {
	Record
	PID         uint32
	ProcessName string
}

// Backend defines the interface for window discovery backends (X11, Win32)
type Backend interface {
	Inspector

	// Connect establishes connection to the display server
	Connect() error

	// Close closes the connection to the display server
	Close() error

	// ListWindows returns every titled top-level window
	ListWindows() ([]WindowInfo, error)

	// Name returns the backend name (e.g., "x11", "win32")
	Name() string
}
