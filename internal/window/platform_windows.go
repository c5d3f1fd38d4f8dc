//go:build windows

package window

// NewPlatformBackend returns the Win32 backend.
func NewPlatformBackend() (Backend, error) {
	return NewWindowsBackend()
}
