// Package selection decides which window a source captures. A Worker runs
// one goroutine per active source: every window event or poke triggers a
// selection pass that asks the source's selector for a window and, through
// ShouldRefresh, decides whether the capture session has to be rebuilt.
package selection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/wincat/internal/capture"
	"github.com/bryanchriswhite/wincat/internal/hook"
	"github.com/bryanchriswhite/wincat/internal/logger"
	"github.com/bryanchriswhite/wincat/internal/script"
	"github.com/bryanchriswhite/wincat/internal/signal"
	"github.com/bryanchriswhite/wincat/internal/slotmap"
	"github.com/bryanchriswhite/wincat/internal/window"
	"github.com/rs/zerolog"
)

// Selector picks the window to capture from a snapshot. A nil record means
// no window.
type Selector interface {
	Select(ctx context.Context, snap *window.Snapshot) (*window.Record, error)
}

// Snapshots returns the latest published process/window snapshot.
type Snapshots interface {
	Load() *window.Snapshot
}

// Config wires a Worker to the rest of the system.
type Config struct {
	SourceID  string
	Bus       *hook.Bus
	Snapshots Snapshots
	Selector  Selector
	Inspector window.Inspector
	Backend   capture.Backend
	Cell      *capture.Cell
	Sink      capture.Sink
	// Options is read at every session start so updates apply to the next rebuild.
	Options func() capture.Options
}

// Worker is the selection goroutine of one source.
type Worker struct {
	cfg Config
	log *zerolog.Logger

	key       slotmap.Key
	inbox     *hook.Inbox
	holdsHook bool

	ctx        context.Context
	cancelCtx  context.CancelFunc
	cancelCh   chan struct{}
	cancelOnce sync.Once
	cancelled  atomic.Bool

	done   *signal.Holder
	passes atomic.Uint64
}

// Start registers a worker with the bus and queues its initial pass.
func Start(cfg Config) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		cfg:       cfg,
		log:       logger.WithSource("selection", cfg.SourceID),
		ctx:       ctx,
		cancelCtx: cancel,
		cancelCh:  make(chan struct{}),
		done:      signal.New(),
	}

	// An install failure still holds a reference; only a closed bus does not.
	err := cfg.Bus.Acquire()
	w.holdsHook = !errors.Is(err, hook.ErrBusClosed)

	w.key, w.inbox = cfg.Bus.Subscribe()
	w.inbox.Push(hook.Poke())

	go w.run()
	return w
}

func (w *Worker) run() {
	defer w.done.Signal()
	defer func() {
		// A force-unhooked bus already dropped this reference.
		forced := w.inbox.Closed()
		w.cfg.Bus.Unsubscribe(w.key)
		if w.holdsHook && !forced {
			w.cfg.Bus.Release()
		}
	}()

	w.log.Debug().Msg("Selection worker started")
	defer w.log.Debug().Uint64("passes", w.passes.Load()).Msg("Selection worker stopped")

	for {
		// Cancellation wins over pending events.
		select {
		case <-w.cancelCh:
			return
		default:
		}

		select {
		case <-w.cancelCh:
			return
		case <-w.inbox.Ready():
		}

		for !w.cancelled.Load() {
			ev, ok := w.inbox.Next()
			if !ok {
				break
			}
			w.pass(ev.Window)
		}

		if w.inbox.Closed() {
			w.log.Debug().Msg("Event inbox closed, worker exiting")
			return
		}
	}
}

// pass runs one selection pass for trigger (window.NoHandle for a poke).
func (w *Worker) pass(trigger window.Handle) {
	defer w.passes.Add(1)
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Interface("panic", r).Msg("Selection pass panicked")
		}
	}()

	snap := w.cfg.Snapshots.Load()
	rec, err := w.cfg.Selector.Select(w.ctx, snap)
	if err != nil {
		if errors.Is(err, script.ErrNoSelector) || w.cancelled.Load() {
			w.log.Debug().Err(err).Msg("Selection skipped")
			return
		}
		w.log.Warn().Err(err).Msg("Selector failed")
		return
	}

	if rec == nil {
		if w.cfg.Cell.Load() != nil {
			w.log.Info().Msg("Selector chose no window, stopping capture")
		}
		w.cfg.Cell.Clear()
		return
	}

	var current SessionView
	if s := w.cfg.Cell.Load(); s != nil {
		current = s
	}
	if !ShouldRefresh(current, trigger, rec.Handle, w.cfg.Inspector) {
		return
	}

	pid, ok := w.cfg.Inspector.ProcessID(rec.Handle)
	if !ok {
		w.log.Debug().Stringer("window", rec.Handle).Msg("Selected window vanished before capture")
		return
	}
	if w.cancelled.Load() {
		return
	}

	w.cfg.Cell.Clear()

	opts := capture.DefaultOptions()
	if w.cfg.Options != nil {
		opts = w.cfg.Options()
	}
	// The live title, not the snapshot's, is what later title checks compare to.
	title := w.cfg.Inspector.Title(rec.Handle)
	if title == "" {
		title = rec.Title
	}
	session, err := capture.StartSession(w.cfg.Backend, rec.Handle, pid, title, opts, w.cfg.Sink)
	if err != nil {
		w.log.Warn().Err(err).Str("title", rec.Title).Msg("Failed to start capture")
		return
	}

	if !w.cfg.Cell.Install(session, w.cancelled.Load) {
		w.log.Debug().Msg("Worker cancelled during capture start")
		return
	}

	w.log.Info().
		Stringer("window", rec.Handle).
		Uint32("pid", pid).
		Str("title", title).
		Str("class", rec.ClassName).
		Msg("Capturing window")
}

// Poke queues a pass with no trigger window. It returns false once the
// worker's inbox is closed.
func (w *Worker) Poke() bool {
	return w.inbox.Push(hook.Poke())
}

// Cancel stops the worker. No capture session is installed after Cancel
// returns. Safe to call more than once.
func (w *Worker) Cancel() {
	w.cancelOnce.Do(func() {
		w.cancelled.Store(true)
		close(w.cancelCh)
		w.cancelCtx()
	})
}

// Done is signaled once the worker goroutine has exited.
func (w *Worker) Done() signal.Listener {
	return w.done.Listener()
}

// Wait blocks until the worker exits or timeout elapses.
func (w *Worker) Wait(timeout time.Duration) bool {
	return w.Done().Wait(timeout) != signal.TimedOut
}

// Alive reports whether the worker goroutine is still running.
func (w *Worker) Alive() bool {
	return w.Done().Check() == signal.TimedOut
}

// Listening reports whether the worker's inbox still accepts events. A
// force-unhooked bus closes it and the worker exits.
func (w *Worker) Listening() bool {
	return !w.inbox.Closed()
}

// Cancelled reports whether Cancel has been called.
func (w *Worker) Cancelled() bool {
	return w.cancelled.Load()
}

// Passes returns the number of selection passes completed so far.
func (w *Worker) Passes() uint64 {
	return w.passes.Load()
}
