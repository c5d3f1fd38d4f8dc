package window

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/wincat/internal/logger"
)

// X11Backend implements the Backend interface using X11
type X11Backend struct {
	conn   *xgb.Conn
	root   xproto.Window
	screen *xproto.ScreenInfo

	mu    sync.Mutex
	atoms map[string]xproto.Atom
}

// NewX11Backend creates a new X11 backend
func NewX11Backend() (*X11Backend, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	return &X11Backend{
		conn:   conn,
		root:   screen.Root,
		screen: screen,
		atoms:  make(map[string]xproto.Atom),
	}, nil
}

// Connect establishes connection to X11 (already done in NewX11Backend)
func (b *X11Backend) Connect() error {
	return nil
}

// Close closes the X11 connection
func (b *X11Backend) Close() error {
	b.conn.Close()
	return nil
}

// Name returns the backend name
func (b *X11Backend) Name() string {
	return "x11"
}

// ListWindows returns all titled windows using EWMH _NET_CLIENT_LIST with QueryTree fallback
func (b *X11Backend) ListWindows() ([]WindowInfo, error) {
	log := logger.WithComponent("x11-backend")

	ids, err := b.clientList()
	if err != nil || len(ids) == 0 {
		log.Debug().Err(err).Msg("ListWindows: EWMH unavailable, falling back to QueryTree")
		tree, err := xproto.QueryTree(b.conn, b.root).Reply()
		if err != nil {
			return nil, fmt.Errorf("failed to query window tree: %w", err)
		}
		ids = tree.Children
	}

	names := make(map[uint32]string)
	windows := make([]WindowInfo, 0, len(ids))
	for _, id := range ids {
		info, err := b.windowInfo(id)
		if err != nil {
			log.Debug().Uint32("winID", uint32(id)).Err(err).Msg("ListWindows: failed to get window info")
			continue
		}
		// Skip windows without titles (usually not user windows)
		if info.Title == "" {
			continue
		}
		if info.PID != 0 {
			name, ok := names[info.PID]
			if !ok {
				name = processName(info.PID)
				names[info.PID] = name
			}
			info.ProcessName = name
		}
		windows = append(windows, info)
	}

	log.Debug().Int("count", len(windows)).Msg("ListWindows: done")
	return windows, nil
}

// clientList reads window IDs from _NET_CLIENT_LIST (EWMH standard)
func (b *X11Backend) clientList() ([]xproto.Window, error) {
	atom, err := b.getAtom("_NET_CLIENT_LIST")
	if err != nil {
		return nil, err
	}

	reply, err := xproto.GetProperty(b.conn, false, b.root, atom,
		xproto.GetPropertyTypeAny, 0, (1<<32)-1).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get _NET_CLIENT_LIST property: %w", err)
	}

	ids := make([]xproto.Window, 0, len(reply.Value)/4)
	for i := 0; i+4 <= len(reply.Value); i += 4 {
		ids = append(ids, xproto.Window(le32(reply.Value[i:])))
	}
	return ids, nil
}

// windowInfo retrieves information about a window
func (b *X11Backend) windowInfo(win xproto.Window) (WindowInfo, error) {
	attrs, err := xproto.GetWindowAttributes(b.conn, win).Reply()
	if err != nil {
		return WindowInfo{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	info := WindowInfo{Record: Record{
		Handle:  Handle(win),
		Visible: attrs.MapState == xproto.MapStateViewable,
	}}

	if rect, err := b.geometry(win); err == nil {
		info.Rect = rect
	}

	info.Title = b.title(win)

	// WM_CLASS format is: instance\0class\0 (two null-terminated strings)
	if classRaw, err := b.getProperty(win, "WM_CLASS"); err == nil {
		parts := strings.Split(classRaw, "\x00")
		if len(parts) >= 2 && parts[1] != "" {
			info.ClassName = parts[1]
		} else if len(parts) >= 1 {
			info.ClassName = parts[0]
		}
	}

	if pid, ok := b.pid(win); ok {
		info.PID = pid
	}
	return info, nil
}

// ProcessID resolves _NET_WM_PID. A window without the property does not resolve.
func (b *X11Backend) ProcessID(h Handle) (uint32, bool) {
	win := xproto.Window(h)
	if _, err := xproto.GetWindowAttributes(b.conn, win).Reply(); err != nil {
		return 0, false
	}
	return b.pid(win)
}

// IsVisible reports whether the window is mapped and viewable.
func (b *X11Backend) IsVisible(h Handle) bool {
	attrs, err := xproto.GetWindowAttributes(b.conn, xproto.Window(h)).Reply()
	if err != nil {
		return false
	}
	return attrs.MapState == xproto.MapStateViewable
}

// Title returns the window title, preferring _NET_WM_NAME over WM_NAME.
func (b *X11Backend) Title(h Handle) string {
	return b.title(xproto.Window(h))
}

// Geometry returns the window rectangle in root coordinates.
func (b *X11Backend) Geometry(h Handle) (Rect, error) {
	return b.geometry(xproto.Window(h))
}

func (b *X11Backend) geometry(win xproto.Window) (Rect, error) {
	geom, err := xproto.GetGeometry(b.conn, xproto.Drawable(win)).Reply()
	if err != nil {
		return Rect{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	rect := Rect{X: int(geom.X), Y: int(geom.Y), Width: int(geom.Width), Height: int(geom.Height)}

	// Translate to root coordinates; reparenting WMs put clients inside frames.
	if tr, err := xproto.TranslateCoordinates(b.conn, win, b.root, 0, 0).Reply(); err == nil {
		rect.X = int(tr.DstX)
		rect.Y = int(tr.DstY)
	}
	return rect, nil
}

func (b *X11Backend) title(win xproto.Window) string {
	if title, err := b.getProperty(win, "_NET_WM_NAME"); err == nil && title != "" {
		return strings.TrimSpace(title)
	}
	if title, err := b.getProperty(win, "WM_NAME"); err == nil {
		return strings.TrimSpace(title)
	}
	return ""
}

func (b *X11Backend) pid(win xproto.Window) (uint32, bool) {
	atom, err := b.getAtom("_NET_WM_PID")
	if err != nil {
		return 0, false
	}
	reply, err := xproto.GetProperty(b.conn, false, win, atom, xproto.AtomCardinal, 0, 1).Reply()
	if err != nil || len(reply.Value) < 4 {
		return 0, false
	}
	return le32(reply.Value), true
}

// getAtom gets an atom ID by name, caching the result
func (b *X11Backend) getAtom(name string) (xproto.Atom, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if atom, ok := b.atoms[name]; ok {
		return atom, nil
	}
	reply, err := xproto.InternAtom(b.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	b.atoms[name] = reply.Atom
	return reply.Atom, nil
}

// getProperty gets a property value as a string
func (b *X11Backend) getProperty(win xproto.Window, name string) (string, error) {
	atom, err := b.getAtom(name)
	if err != nil {
		return "", err
	}
	reply, err := xproto.GetProperty(b.conn, false, win, atom,
		xproto.GetPropertyTypeAny, 0, (1<<32)-1).Reply()
	if err != nil {
		return "", err
	}
	if reply.ValueLen == 0 {
		return "", fmt.Errorf("empty property %s", name)
	}
	return string(reply.Value), nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// processName reads the executable name from procfs.
func processName(pid uint32) string {
	data, err := os.ReadFile("/proc/" + strconv.FormatUint(uint64(pid), 10) + "/comm")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
