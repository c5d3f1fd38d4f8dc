//go:build windows

package window

import (
	"fmt"
	"strings"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32              = windows.NewLazySystemDLL("user32.dll")
	procGetWindowTextW  = user32.NewProc("GetWindowTextW")
	procGetWindowRect   = user32.NewProc("GetWindowRect")
	procGetClientRect   = user32.NewProc("GetClientRect")
	procClientToScreen  = user32.NewProc("ClientToScreen")
	enumWindowsCallback = windows.NewCallback(enumWindowsProc)
	enumMu              sync.Mutex
	enumCollected       []windows.HWND
)

// WindowsBackend implements the Backend interface using Win32
type WindowsBackend struct{}

// NewWindowsBackend creates a new Win32 backend
func NewWindowsBackend() (*WindowsBackend, error) {
	return &WindowsBackend{}, nil
}

func (b *WindowsBackend) Connect() error { return nil }
func (b *WindowsBackend) Close() error   { return nil }
func (b *WindowsBackend) Name() string   { return "win32" }

func enumWindowsProc(hwnd windows.HWND, _ uintptr) uintptr {
	enumCollected = append(enumCollected, hwnd)
	return 1 // continue enumeration
}

// ListWindows enumerates top-level windows and tags them with process names.
func (b *WindowsBackend) ListWindows() ([]WindowInfo, error) {
	names, err := processNames()
	if err != nil {
		return nil, err
	}

	enumMu.Lock()
	enumCollected = enumCollected[:0]
	err = windows.EnumWindows(enumWindowsCallback, nil)
	hwnds := append([]windows.HWND(nil), enumCollected...)
	enumMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate windows: %w", err)
	}

	out := make([]WindowInfo, 0, len(hwnds))
	for _, hwnd := range hwnds {
		h := Handle(hwnd)
		pid, ok := b.ProcessID(h)
		if !ok {
			continue
		}
		title := b.Title(h)
		if title == "" {
			continue
		}
		rect, err := windowRect(hwnd)
		if err != nil {
			rect = Rect{X: minInt32, Y: minInt32}
		}
		out = append(out, WindowInfo{
			Record: Record{
				Title:     title,
				ClassName: className(hwnd),
				Handle:    h,
				Visible:   windows.IsWindowVisible(hwnd),
				Rect:      rect,
			},
			PID:         pid,
			ProcessName: names[pid],
		})
	}
	return out, nil
}

const minInt32 = -1 << 31

func (b *WindowsBackend) ProcessID(h Handle) (uint32, bool) {
	var pid uint32
	tid, err := windows.GetWindowThreadProcessId(windows.HWND(h), &pid)
	if err != nil || tid == 0 {
		return 0, false
	}
	return pid, true
}

func (b *WindowsBackend) IsVisible(h Handle) bool {
	return windows.IsWindowVisible(windows.HWND(h))
}

func (b *WindowsBackend) Title(h Handle) string {
	buf := make([]uint16, 256)
	n, _, _ := procGetWindowTextW.Call(uintptr(h), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if n == 0 {
		return ""
	}
	return strings.TrimSpace(windows.UTF16ToString(buf[:n]))
}

func (b *WindowsBackend) Geometry(h Handle) (Rect, error) {
	if !windows.IsWindow(windows.HWND(h)) {
		return Rect{}, ErrNotFound
	}
	return windowRect(windows.HWND(h))
}

// ClientGeometry returns the client area in screen coordinates.
func (b *WindowsBackend) ClientGeometry(h Handle) (Rect, error) {
	var r windows.Rect
	if ok, _, err := procGetClientRect.Call(uintptr(h), uintptr(unsafe.Pointer(&r))); ok == 0 {
		return Rect{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	origin := struct{ X, Y int32 }{}
	if ok, _, err := procClientToScreen.Call(uintptr(h), uintptr(unsafe.Pointer(&origin))); ok == 0 {
		return Rect{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return Rect{X: int(origin.X), Y: int(origin.Y), Width: int(r.Right - r.Left), Height: int(r.Bottom - r.Top)}, nil
}

func windowRect(hwnd windows.HWND) (Rect, error) {
	var r windows.Rect
	if ok, _, err := procGetWindowRect.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&r))); ok == 0 {
		return Rect{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return Rect{X: int(r.Left), Y: int(r.Top), Width: int(r.Right - r.Left), Height: int(r.Bottom - r.Top)}, nil
}

func className(hwnd windows.HWND) string {
	buf := make([]uint16, 256)
	n, err := windows.GetClassName(hwnd, &buf[0], int32(len(buf)))
	if err != nil || n == 0 {
		return ""
	}
	return strings.TrimSpace(windows.UTF16ToString(buf[:n]))
}

func processNames() (map[uint32]string, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create toolhelp32 snapshot: %w", err)
	}
	defer windows.CloseHandle(snap)

	names := make(map[uint32]string, 128)
	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	for err = windows.Process32First(snap, &entry); err == nil; err = windows.Process32Next(snap, &entry) {
		names[entry.ProcessID] = strings.TrimSpace(windows.UTF16ToString(entry.ExeFile[:]))
	}
	return names, nil
}
