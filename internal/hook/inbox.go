package hook

import (
	"sync"

	"github.com/bryanchriswhite/wincat/internal/window"
)

// Event is a window lifecycle notification. A zero Window is a poke: a
// request to re-evaluate without naming any window.
type Event struct {
	Window window.Handle
}

// Poke returns the synthetic triggerless event.
func Poke() Event { return Event{} }

// IsPoke reports whether e carries no window.
func (e Event) IsPoke() bool { return e.Window == window.NoHandle }

// Inbox is an unbounded FIFO of events for one listener. Push never blocks,
// so a stalled listener cannot hold up the dispatcher.
type Inbox struct {
	mu     sync.Mutex
	queue  []Event
	ready  chan struct{}
	closed bool
}

// NewInbox returns an empty inbox.
func NewInbox() *Inbox {
	return &Inbox{ready: make(chan struct{}, 1)}
}

// Push appends e. It returns false once the inbox is closed.
func (in *Inbox) Push(e Event) bool {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return false
	}
	in.queue = append(in.queue, e)
	in.mu.Unlock()

	select {
	case in.ready <- struct{}{}:
	default:
	}
	return true
}

// Ready is signaled when events may be waiting. After a receive, drain with
// Next until it reports false.
func (in *Inbox) Ready() <-chan struct{} {
	return in.ready
}

// Next pops the oldest event.
func (in *Inbox) Next() (Event, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if len(in.queue) == 0 {
		return Event{}, false
	}
	e := in.queue[0]
	in.queue[0] = Event{}
	in.queue = in.queue[1:]
	if len(in.queue) == 0 {
		in.queue = nil
	}
	return e, true
}

// Len returns the number of queued events.
func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.queue)
}

// Close discards queued events and rejects further pushes. A listener
// blocked on Ready is woken so it can notice.
func (in *Inbox) Close() {
	in.mu.Lock()
	in.closed = true
	in.queue = nil
	in.mu.Unlock()

	select {
	case in.ready <- struct{}{}:
	default:
	}
}

// Closed reports whether Close has been called.
func (in *Inbox) Closed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.closed
}
