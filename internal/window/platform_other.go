//go:build !windows

package window

// NewPlatformBackend returns the X11 backend.
func NewPlatformBackend() (Backend, error) {
	return NewX11Backend()
}
