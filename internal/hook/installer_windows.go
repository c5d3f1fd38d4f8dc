//go:build windows

package hook

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/bryanchriswhite/wincat/internal/window"
	"golang.org/x/sys/windows"
)

const (
	eventObjectCreate     = 0x8000
	eventObjectDestroy    = 0x8001
	objidWindow           = 0
	childidSelf           = 0
	wineventOutOfContext  = 0x0000
	wineventSkipOwnThread = 0x0001
	wmQuit                = 0x0012
)

var (
	user32                 = windows.NewLazySystemDLL("user32.dll")
	procSetWinEventHook    = user32.NewProc("SetWinEventHook")
	procUnhookWinEvent     = user32.NewProc("UnhookWinEvent")
	procGetMessageW        = user32.NewProc("GetMessageW")
	procTranslateMessage   = user32.NewProc("TranslateMessage")
	procDispatchMessageW   = user32.NewProc("DispatchMessageW")
	procPostThreadMessageW = user32.NewProc("PostThreadMessageW")

	// NewCallback slots are never freed, so one callback serves every install.
	winEventCallback = windows.NewCallback(winEventProc)
	winEventEmit     atomic.Pointer[func(window.Handle)]
)

type msg struct {
	HWnd    uintptr
	Message uint32
	WParam  uintptr
	LParam  uintptr
	Time    uint32
	Pt      struct{ X, Y int32 }
}

func winEventProc(hook windows.Handle, event uint32, hwnd uintptr, idObject int32, idChild int32, thread uint32, eventTime uint32) uintptr {
	if idObject != objidWindow || idChild != childidSelf || hwnd == 0 {
		return 0
	}
	if event != eventObjectCreate && event != eventObjectDestroy {
		return 0
	}
	if emit := winEventEmit.Load(); emit != nil {
		(*emit)(window.Handle(hwnd))
	}
	return 0
}

// WindowsInstaller listens for top-level window create/destroy through
// SetWinEventHook on a dedicated OS thread running a message loop.
type WindowsInstaller struct {
	mu       sync.Mutex
	threadID uint32
	done     chan struct{}
}

// NewPlatformInstaller returns the installer for this OS.
func NewPlatformInstaller() Installer {
	return &WindowsInstaller{}
}

func (w *WindowsInstaller) Name() string { return "win-event" }

func (w *WindowsInstaller) Install(emit func(window.Handle)) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done != nil {
		return errors.New("win event hook already installed")
	}
	winEventEmit.Store(&emit)

	started := make(chan error, 1)
	done := make(chan struct{})
	go w.loop(started, done)

	if err := <-started; err != nil {
		winEventEmit.Store(nil)
		<-done
		return err
	}
	w.done = done
	return nil
}

func (w *WindowsInstaller) loop(started chan<- error, done chan<- struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(done)

	h, _, e1 := procSetWinEventHook.Call(
		eventObjectCreate,
		eventObjectDestroy,
		0,
		winEventCallback,
		0,
		0,
		wineventOutOfContext|wineventSkipOwnThread,
	)
	if h == 0 {
		started <- fmt.Errorf("SetWinEventHook: %w", e1)
		return
	}
	defer procUnhookWinEvent.Call(h)

	atomic.StoreUint32(&w.threadID, windows.GetCurrentThreadId())
	started <- nil

	var m msg
	for {
		r1, _, _ := procGetMessageW.Call(uintptr(unsafe.Pointer(&m)), 0, 0, 0)
		if int32(r1) <= 0 {
			return
		}
		procTranslateMessage.Call(uintptr(unsafe.Pointer(&m)))
		procDispatchMessageW.Call(uintptr(unsafe.Pointer(&m)))
	}
}

func (w *WindowsInstaller) Uninstall() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done == nil {
		return nil
	}
	winEventEmit.Store(nil)

	tid := atomic.LoadUint32(&w.threadID)
	r1, _, e1 := procPostThreadMessageW.Call(uintptr(tid), wmQuit, 0, 0)
	if r1 == 0 {
		return fmt.Errorf("PostThreadMessageW: %w", e1)
	}
	<-w.done
	w.done = nil
	return nil
}
