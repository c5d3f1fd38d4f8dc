// Package signal provides a manual-reset wake signal with strong and weak handles.
//
// A Holder owns the signal. Holders can be cloned; the signal stays alive until
// every Holder has been released. A Listener observes the same signal without
// keeping it alive: once the last Holder is released every Listener reports Dead,
// so a goroutine can wait on another component's signal without having to
// unregister on each of its exit paths.
package signal

import (
	"context"
	"sync"
	"time"
)

// State is the outcome of a Check or Wait.
type State int

const (
	// TimedOut means the signal was not set before the deadline.
	TimedOut State = iota
	// Signaled means the signal is set.
	Signaled
	// Dead means every strong Holder has been released.
	Dead
)

func (s State) String() string {
	switch s {
	case Signaled:
		return "signaled"
	case Dead:
		return "dead"
	default:
		return "timed-out"
	}
}

// Forever makes Wait block until the signal is set or dies.
const Forever time.Duration = -1

type event struct {
	mu     sync.Mutex
	set    chan struct{} // closed while signaled
	dead   chan struct{}
	strong int
}

func (e *event) signal() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.strong == 0 {
		return false
	}
	select {
	case <-e.set:
	default:
		close(e.set)
	}
	return true
}

func (e *event) reset() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.strong == 0 {
		return false
	}
	select {
	case <-e.set:
		e.set = make(chan struct{})
	default:
	}
	return true
}

// snapshot returns the channels to wait on, or ok=false when dead.
func (e *event) snapshot() (set <-chan struct{}, dead <-chan struct{}, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set, e.dead, e.strong > 0
}

// Holder is a strong handle. The zero value is not usable; call New.
type Holder struct {
	ev   *event
	once sync.Once
}

// New creates a live, unsignaled signal and returns its first strong handle.
func New() *Holder {
	return &Holder{ev: &event{
		set:    make(chan struct{}),
		dead:   make(chan struct{}),
		strong: 1,
	}}
}

// Clone returns another strong handle to the same signal. Cloning a released
// or dead handle returns nil.
func (h *Holder) Clone() *Holder {
	h.ev.mu.Lock()
	defer h.ev.mu.Unlock()
	if h.ev.strong == 0 {
		return nil
	}
	h.ev.strong++
	return &Holder{ev: h.ev}
}

// Release drops this strong reference. It is safe to call more than once.
func (h *Holder) Release() {
	h.once.Do(func() {
		h.ev.mu.Lock()
		defer h.ev.mu.Unlock()
		h.ev.strong--
		if h.ev.strong == 0 {
			close(h.ev.dead)
		}
	})
}

// Signal sets the signal, waking every waiter.
func (h *Holder) Signal() bool { return h.ev.signal() }

// Reset clears the signal.
func (h *Holder) Reset() bool { return h.ev.reset() }

// Listener returns a weak observer of the signal.
func (h *Holder) Listener() Listener {
	return Listener{ev: h.ev}
}

// Listener is a weak handle. Its zero value behaves as a dead signal.
type Listener struct {
	ev *event
}

// Signal sets the signal if it is still alive.
func (l Listener) Signal() bool {
	if l.ev == nil {
		return false
	}
	return l.ev.signal()
}

// Reset clears the signal if it is still alive.
func (l Listener) Reset() bool {
	if l.ev == nil {
		return false
	}
	return l.ev.reset()
}

// Check polls the signal without blocking.
func (l Listener) Check() State {
	if l.ev == nil {
		return Dead
	}
	set, _, ok := l.ev.snapshot()
	if !ok {
		return Dead
	}
	select {
	case <-set:
		return Signaled
	default:
		return TimedOut
	}
}

// Wait blocks until the signal is set, the timeout elapses, or the last
// Holder is released. A negative timeout waits without limit.
func (l Listener) Wait(timeout time.Duration) State {
	if timeout == 0 {
		return l.Check()
	}
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return l.WaitContext(ctx)
}

// WaitContext is Wait bounded by ctx instead of a timeout.
func (l Listener) WaitContext(ctx context.Context) State {
	if l.ev == nil {
		return Dead
	}
	set, dead, ok := l.ev.snapshot()
	if !ok {
		return Dead
	}
	select {
	case <-dead:
		return Dead
	case <-set:
		// A concurrent release wins over a stale set channel.
		if _, _, ok := l.ev.snapshot(); !ok {
			return Dead
		}
		return Signaled
	case <-ctx.Done():
		return TimedOut
	}
}
