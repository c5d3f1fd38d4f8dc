package capture

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/bryanchriswhite/wincat/internal/window"
	"github.com/vova616/screenshot"
)

// clientGeometer is implemented by window backends that can report the
// client area separately from the outer window rectangle.
type clientGeometer interface {
	ClientGeometry(h window.Handle) (window.Rect, error)
}

// RegionBackend captures the screen rectangle a window currently occupies.
// Overlapping windows show through, but it needs nothing beyond a plain
// screen grab and works where per-window capture is unavailable.
type RegionBackend struct {
	inspector window.Inspector
}

// NewRegionBackend returns a backend that locates windows through inspector.
func NewRegionBackend(inspector window.Inspector) *RegionBackend {
	return &RegionBackend{inspector: inspector}
}

func (b *RegionBackend) Name() string { return "region" }

// Start binds a capture of win. The cursor is not part of screen grabs
// on every platform, so Cursor is best effort; ForceSDR has no effect.
func (b *RegionBackend) Start(win window.Handle, opts Options, sink Sink) (Resource, error) {
	if _, err := b.locate(win, opts.ClientArea); err != nil {
		return nil, err
	}
	grab := func() (*Frame, error) {
		return b.grab(win, opts)
	}
	return startPoller(b.Name(), grab, func() error { return nil }, sink, opts)
}

func (b *RegionBackend) locate(win window.Handle, clientArea bool) (window.Rect, error) {
	var (
		r   window.Rect
		err error
	)
	if cg, ok := b.inspector.(clientGeometer); ok && clientArea {
		r, err = cg.ClientGeometry(win)
	} else {
		r, err = b.inspector.Geometry(win)
	}
	if errors.Is(err, window.ErrNotFound) {
		return r, fmt.Errorf("%w: %v", ErrWindowGone, err)
	}
	return r, err
}

func (b *RegionBackend) grab(win window.Handle, opts Options) (*Frame, error) {
	if !b.inspector.IsVisible(win) {
		if _, ok := b.inspector.ProcessID(win); !ok {
			return nil, ErrWindowGone
		}
		return nil, nil
	}
	r, err := b.locate(win, opts.ClientArea)
	if err != nil {
		return nil, err
	}
	if r.Width <= 0 || r.Height <= 0 {
		return nil, nil
	}

	img, err := screenshot.CaptureRect(image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height))
	if err != nil {
		return nil, fmt.Errorf("failed to capture screen region: %w", err)
	}

	f := rgbaToFrame(img)
	if opts.Borders {
		drawBorder(f)
	}
	return f, nil
}

// rgbaToFrame swaps red and blue into a fresh BGRA buffer.
func rgbaToFrame(img *image.RGBA) *Frame {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	linesize := w * 4
	buf := make([]byte, linesize*h)
	for y := 0; y < h; y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+linesize]
		dst := buf[y*linesize : (y+1)*linesize]
		for i := 0; i < linesize; i += 4 {
			dst[i+0] = src[i+2]
			dst[i+1] = src[i+1]
			dst[i+2] = src[i+0]
			dst[i+3] = 0xff
		}
	}
	return &Frame{
		Data:      buf,
		Width:     w,
		Height:    h,
		Linesize:  linesize,
		Timestamp: time.Now().UnixMilli(),
		Format:    FormatBGRA,
	}
}
