//go:build !windows

package capture

import (
	"github.com/bryanchriswhite/wincat/internal/logger"
	"github.com/bryanchriswhite/wincat/internal/window"
)

// NewPlatformBackend prefers per-window X11 capture and falls back to
// screen-region capture.
func NewPlatformBackend(inspector window.Inspector) Backend {
	b, err := NewX11Backend()
	if err != nil {
		logger.WithComponent("capture").Warn().Err(err).Msg("X11 capture unavailable, using region capture")
		return NewRegionBackend(inspector)
	}
	return b
}
