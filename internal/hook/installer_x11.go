//go:build !windows

package hook

import (
	"errors"
	"fmt"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/wincat/internal/logger"
	"github.com/bryanchriswhite/wincat/internal/window"
)

// X11Installer watches the root window for child create/destroy on its own
// X connection. Uninstall closes the connection, which ends the event loop.
type X11Installer struct {
	mu   sync.Mutex
	conn *xgb.Conn
	done chan struct{}
}

// NewPlatformInstaller returns the installer for this OS.
func NewPlatformInstaller() Installer {
	return &X11Installer{}
}

func (x *X11Installer) Name() string { return "x11-substructure" }

func (x *X11Installer) Install(emit func(window.Handle)) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.conn != nil {
		return errors.New("x11 hook already installed")
	}

	conn, err := xgb.NewConn()
	if err != nil {
		return fmt.Errorf("failed to connect to X server: %w", err)
	}
	root := xproto.Setup(conn).DefaultScreen(conn).Root

	err = xproto.ChangeWindowAttributesChecked(conn, root, xproto.CwEventMask,
		[]uint32{xproto.EventMaskSubstructureNotify}).Check()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to select substructure events: %w", err)
	}

	x.conn = conn
	x.done = make(chan struct{})
	go x.loop(conn, emit, x.done)
	return nil
}

func (x *X11Installer) loop(conn *xgb.Conn, emit func(window.Handle), done chan<- struct{}) {
	defer close(done)
	log := logger.WithComponent("hook")

	for {
		ev, xerr := conn.WaitForEvent()
		if ev == nil && xerr == nil {
			return
		}
		if xerr != nil {
			log.Debug().Str("error", xerr.Error()).Msg("X11 event error")
			continue
		}
		switch e := ev.(type) {
		case xproto.CreateNotifyEvent:
			emit(window.Handle(e.Window))
		case xproto.DestroyNotifyEvent:
			emit(window.Handle(e.Window))
		case xproto.MapNotifyEvent:
			emit(window.Handle(e.Window))
		}
	}
}

func (x *X11Installer) Uninstall() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.conn == nil {
		return nil
	}
	x.conn.Close()
	<-x.done
	x.conn = nil
	x.done = nil
	return nil
}
