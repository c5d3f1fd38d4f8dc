//go:build !windows

package capture

import (
	"fmt"
	"sync"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/composite"
	"github.com/BurntSushi/xgb/xfixes"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/wincat/internal/logger"
	"github.com/bryanchriswhite/wincat/internal/window"
)

// X11Backend captures individual windows through the Composite extension,
// falling back to reading the window directly when Composite is missing.
type X11Backend struct {
	conn             *xgb.Conn
	root             xproto.Window
	screen           *xproto.ScreenInfo
	compositeEnabled bool
	xfixesEnabled    bool
	mu               sync.Mutex
}

// NewX11Backend connects to the X server and initializes the extensions.
func NewX11Backend() (*X11Backend, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	b := &X11Backend{
		conn:   conn,
		root:   screen.Root,
		screen: screen,
	}

	log := logger.WithComponent("x11-capture")

	if err := composite.Init(conn); err != nil {
		log.Warn().
			Err(err).
			Msg("Composite extension not available - obscured windows will capture incorrectly")
	} else {
		b.compositeEnabled = true
	}

	if err := xfixes.Init(conn); err != nil {
		log.Warn().Err(err).Msg("XFixes extension not available - cursor will not be drawn")
	} else if _, err := xfixes.QueryVersion(conn, 4, 0).Reply(); err != nil {
		log.Warn().Err(err).Msg("XFixes version query failed - cursor will not be drawn")
	} else {
		b.xfixesEnabled = true
	}

	return b, nil
}

// Name returns the backend name
func (b *X11Backend) Name() string {
	return "x11"
}

// Close closes the X11 connection
func (b *X11Backend) Close() error {
	b.conn.Close()
	return nil
}

// Start binds a capture to win. ForceSDR has no effect: X11 surfaces are
// never HDR.
func (b *X11Backend) Start(win window.Handle, opts Options, sink Sink) (Resource, error) {
	target, err := b.resolveTarget(xproto.Window(win), opts.ClientArea)
	if err != nil {
		return nil, err
	}

	g := &x11Grab{backend: b, win: target, opts: opts}
	g.bind()

	return startPoller(b.Name(), g.grab, g.unbind, sink, opts)
}

// resolveTarget picks the drawable to read. EWMH client windows are the
// client area; the whole window includes the frame the window manager
// reparented it into.
func (b *X11Backend) resolveTarget(win xproto.Window, clientArea bool) (xproto.Window, error) {
	attrs, err := xproto.GetWindowAttributes(b.conn, win).Reply()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrWindowGone, err)
	}

	if attrs.Class != xproto.WindowClassInputOutput || attrs.MapState != xproto.MapStateViewable {
		child, err := b.findCapturableChild(win)
		if err != nil {
			return 0, fmt.Errorf("no capturable window found: %w", err)
		}
		win = child
	}

	if clientArea {
		return win, nil
	}
	return b.frameOf(win), nil
}

// frameOf walks up to the top-level ancestor directly below the root.
func (b *X11Backend) frameOf(win xproto.Window) xproto.Window {
	cur := win
	for i := 0; i < 8; i++ {
		tree, err := xproto.QueryTree(b.conn, cur).Reply()
		if err != nil || tree.Parent == 0 {
			return cur
		}
		if tree.Parent == b.root {
			return cur
		}
		cur = tree.Parent
	}
	return cur
}

// findCapturableChild recursively searches for a capturable child window
func (b *X11Backend) findCapturableChild(parent xproto.Window) (xproto.Window, error) {
	tree, err := xproto.QueryTree(b.conn, parent).Reply()
	if err != nil {
		return 0, fmt.Errorf("failed to query tree: %w", err)
	}

	for _, child := range tree.Children {
		attrs, err := xproto.GetWindowAttributes(b.conn, child).Reply()
		if err != nil {
			continue
		}

		geom, err := xproto.GetGeometry(b.conn, xproto.Drawable(child)).Reply()
		if err != nil {
			continue
		}

		if attrs.Class == xproto.WindowClassInputOutput && attrs.MapState == xproto.MapStateViewable {
			if geom.Width > 10 && geom.Height > 10 {
				return child, nil
			}
		}

		if grandchild, err := b.findCapturableChild(child); err == nil {
			return grandchild, nil
		}
	}

	return 0, fmt.Errorf("no capturable child found")
}

// x11Grab is the per-resource state of one window capture.
type x11Grab struct {
	backend    *X11Backend
	win        xproto.Window
	opts       Options
	redirected bool
}

func (g *x11Grab) bind() {
	b := g.backend
	if !b.compositeEnabled {
		return
	}
	err := composite.RedirectWindowChecked(b.conn, g.win, composite.RedirectAutomatic).Check()
	if err != nil {
		logger.WithComponent("x11-capture").Warn().
			Err(err).
			Uint32("window_id", uint32(g.win)).
			Msg("Failed to redirect window via Composite, falling back to direct capture")
		return
	}
	g.redirected = true
}

func (g *x11Grab) unbind() error {
	if !g.redirected {
		return nil
	}
	g.redirected = false
	return composite.UnredirectWindowChecked(g.backend.conn, g.win, composite.RedirectAutomatic).Check()
}

func (g *x11Grab) grab() (*Frame, error) {
	b := g.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	attrs, err := xproto.GetWindowAttributes(b.conn, g.win).Reply()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWindowGone, err)
	}
	if attrs.MapState != xproto.MapStateViewable {
		return nil, nil
	}

	geom, err := xproto.GetGeometry(b.conn, xproto.Drawable(g.win)).Reply()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWindowGone, err)
	}

	drawable := xproto.Drawable(g.win)
	if g.redirected {
		// The named pixmap is invalidated by every resize, so name it per frame.
		if pixmap, err := xproto.NewPixmapId(b.conn); err == nil {
			if err := composite.NameWindowPixmapChecked(b.conn, g.win, pixmap).Check(); err == nil {
				drawable = xproto.Drawable(pixmap)
				defer xproto.FreePixmap(b.conn, pixmap)
			}
		}
	}

	reply, err := xproto.GetImage(
		b.conn,
		xproto.ImageFormatZPixmap,
		drawable,
		0, 0,
		geom.Width, geom.Height,
		0xffffffff,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}

	f := b.toFrame(reply.Data, int(geom.Width), int(geom.Height))
	if f == nil {
		return nil, fmt.Errorf("unsupported root depth %d", b.screen.RootDepth)
	}
	if g.opts.Cursor && b.xfixesEnabled {
		b.drawCursor(f, g.win)
	}
	if g.opts.Borders {
		drawBorder(f)
	}
	return f, nil
}

// toFrame copies ZPixmap data into a BGRA frame. Depth 24/32 ZPixmap is
// already BGRX in memory; only alpha needs filling in.
func (b *X11Backend) toFrame(data []byte, width, height int) *Frame {
	depth := int(b.screen.RootDepth)
	if depth != 24 && depth != 32 {
		return nil
	}

	linesize := width * 4
	buf := make([]byte, linesize*height)
	copy(buf, data)
	for i := 3; i < len(buf); i += 4 {
		buf[i] = 0xff
	}

	return &Frame{
		Data:      buf,
		Width:     width,
		Height:    height,
		Linesize:  linesize,
		Timestamp: time.Now().UnixMilli(),
		Format:    FormatBGRA,
	}
}

// drawCursor blends the current cursor image over f. The XFixes image is
// premultiplied ARGB.
func (b *X11Backend) drawCursor(f *Frame, win xproto.Window) {
	cur, err := xfixes.GetCursorImage(b.conn).Reply()
	if err != nil {
		return
	}
	origin, err := xproto.TranslateCoordinates(b.conn, win, b.root, 0, 0).Reply()
	if err != nil {
		return
	}

	left := int(cur.X) - int(cur.Xhot) - int(origin.DstX)
	top := int(cur.Y) - int(cur.Yhot) - int(origin.DstY)
	cw, ch := int(cur.Width), int(cur.Height)

	for cy := 0; cy < ch; cy++ {
		y := top + cy
		if y < 0 || y >= f.Height {
			continue
		}
		for cx := 0; cx < cw; cx++ {
			x := left + cx
			if x < 0 || x >= f.Width {
				continue
			}
			idx := cy*cw + cx
			if idx >= len(cur.CursorImage) {
				return
			}
			argb := cur.CursorImage[idx]
			a := argb >> 24
			if a == 0 {
				continue
			}
			i := y*f.Linesize + x*4
			inv := 255 - a
			f.Data[i+0] = uint8(argb&0xff + uint32(f.Data[i+0])*inv/255)
			f.Data[i+1] = uint8((argb>>8)&0xff + uint32(f.Data[i+1])*inv/255)
			f.Data[i+2] = uint8((argb>>16)&0xff + uint32(f.Data[i+2])*inv/255)
		}
	}
}
