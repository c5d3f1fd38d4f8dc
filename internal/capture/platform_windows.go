//go:build windows

package capture

import "github.com/bryanchriswhite/wincat/internal/window"

// NewPlatformBackend returns screen-region capture driven by the Win32
// window backend.
func NewPlatformBackend(inspector window.Inspector) Backend {
	return NewRegionBackend(inspector)
}
