package capture

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bryanchriswhite/wincat/internal/logger"
	"github.com/bryanchriswhite/wincat/internal/signal"
	"github.com/bryanchriswhite/wincat/internal/window"
)

// Session is one capture resource bound to one window. The bound process id
// and title are fixed at creation and only ever compared against.
type Session struct {
	resource Resource
	window   window.Handle
	pid      uint32
	title    string

	forceUpdate atomic.Bool
	stopOnce    sync.Once
}

// StartSession binds a new capture of win. title is the window title at
// selection time.
func StartSession(backend Backend, win window.Handle, pid uint32, title string, opts Options, sink Sink) (*Session, error) {
	res, err := backend.Start(win, opts, sink)
	if err != nil {
		return nil, fmt.Errorf("failed to start %s capture of window %v: %w", backend.Name(), win, err)
	}
	return &Session{resource: res, window: win, pid: pid, title: title}, nil
}

// Window returns the bound window.
func (s *Session) Window() window.Handle { return s.window }

// ProcessID returns the pid that owned the window when the session started.
func (s *Session) ProcessID() uint32 { return s.pid }

// Title returns the window title recorded when the session started.
func (s *Session) Title() string { return s.title }

// RequestUpdate asks for the session to be rebuilt on the next selection
// pass. Safe from any goroutine.
func (s *Session) RequestUpdate() {
	if s != nil {
		s.forceUpdate.Store(true)
	}
}

// TakeForceUpdate reports whether an update was requested and clears the request.
func (s *Session) TakeForceUpdate() bool {
	return s.forceUpdate.Swap(false)
}

// Width returns the last delivered frame width, or 0.
func (s *Session) Width() int {
	if s == nil {
		return 0
	}
	return s.resource.Width()
}

// Height returns the last delivered frame height, or 0.
func (s *Session) Height() int {
	if s == nil {
		return 0
	}
	return s.resource.Height()
}

// Done observes the resource without keeping it alive. A nil session is
// already dead.
func (s *Session) Done() signal.Listener {
	if s == nil {
		return signal.Listener{}
	}
	return s.resource.Done()
}

// Stop releases the capture resource. Safe to call more than once and on a
// nil session; failures are logged.
func (s *Session) Stop() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() {
		if err := s.resource.Stop(); err != nil {
			logger.WithComponent("capture").Warn().
				Err(err).
				Stringer("window", s.window).
				Msg("Failed to stop capture")
		}
	})
}
