// Package hook turns OS window create/destroy notifications into events and
// fans them out to every registered listener.
//
// The OS hook is installed only while at least one user holds it: Acquire and
// Release count references and perform the real install/uninstall at the 0→1
// and 1→0 transitions under a single lock. Notifications enter through a small
// bounded channel (a full channel drops the notification; periodic pokes make
// up for it) and a single dispatch goroutine copies each one into every
// listener's unbounded Inbox.
package hook

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/bryanchriswhite/wincat/internal/logger"
	"github.com/bryanchriswhite/wincat/internal/slotmap"
	"github.com/bryanchriswhite/wincat/internal/window"
)

// DefaultIngestCapacity is the ingestion buffer size used when none is configured.
const DefaultIngestCapacity = 16

// ErrBusClosed is returned by operations on a stopped bus.
var ErrBusClosed = errors.New("hook bus closed")

// Installer installs the platform notification hook. Install may call emit
// from any goroutine, including OS callback threads.
type Installer interface {
	Install(emit func(window.Handle)) error
	Uninstall() error
	Name() string
}

// Stats counts bus traffic.
type Stats struct {
	Emitted    uint64 `json:"emitted"`
	Dropped    uint64 `json:"dropped"`
	Dispatched uint64 `json:"dispatched"`
	Listeners  int    `json:"listeners"`
	Refs       int    `json:"refs"`
	Installed  bool   `json:"installed"`
}

// Bus is the process-wide window event distributor.
type Bus struct {
	installer Installer
	ingest    chan Event

	// install state
	mu            sync.Mutex
	refs          int
	installed     bool
	installFailed bool

	// listener registry
	listenersMu sync.RWMutex
	listeners   *slotmap.Map[*Inbox]

	emitted    atomic.Uint64
	dropped    atomic.Uint64
	dispatched atomic.Uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewBus creates a bus and starts its dispatch goroutine.
func NewBus(installer Installer, capacity int) *Bus {
	b := newBus(installer, capacity)
	go b.dispatch()
	return b
}

func newBus(installer Installer, capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultIngestCapacity
	}
	if installer == nil {
		installer = NopInstaller{}
	}
	return &Bus{
		installer: installer,
		ingest:    make(chan Event, capacity),
		listeners: slotmap.New[*Inbox](8),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Acquire takes a reference on the OS hook, installing it on the first
// reference. An install failure is returned but the reference is still held:
// callers keep working on periodic pokes alone.
func (b *Bus) Acquire() error {
	select {
	case <-b.stopCh:
		return ErrBusClosed
	default:
	}
	log := logger.WithComponent("hook")

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refs++
	if b.refs != 1 || b.installed {
		return nil
	}

	if err := b.installer.Install(b.emitHandle); err != nil {
		if !b.installFailed {
			log.Error().Err(err).Str("installer", b.installer.Name()).
				Msg("Failed to install window hook, falling back to periodic re-evaluation")
		} else {
			log.Debug().Err(err).Str("installer", b.installer.Name()).Msg("Window hook still unavailable")
		}
		b.installFailed = true
		return err
	}

	b.installed = true
	b.installFailed = false
	log.Info().Str("installer", b.installer.Name()).Msg("Window hook installed")
	return nil
}

// Release drops a reference, uninstalling the hook when the last one goes.
func (b *Bus) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.refs == 0 {
		return nil
	}
	b.refs--
	if b.refs > 0 {
		return nil
	}
	return b.uninstallLocked()
}

func (b *Bus) uninstallLocked() error {
	if !b.installed {
		return nil
	}
	b.installed = false

	log := logger.WithComponent("hook")
	if err := b.installer.Uninstall(); err != nil {
		log.Error().Err(err).Str("installer", b.installer.Name()).Msg("Failed to uninstall window hook")
		return err
	}
	log.Info().Str("installer", b.installer.Name()).Msg("Window hook uninstalled")
	return nil
}

// ForceUnhook drops every reference, uninstalls the hook and forgets all
// listeners. Used at module teardown regardless of outstanding references.
func (b *Bus) ForceUnhook() {
	b.mu.Lock()
	b.refs = 0
	_ = b.uninstallLocked()
	b.mu.Unlock()

	b.listenersMu.Lock()
	for _, inbox := range b.listeners.Drain() {
		inbox.Close()
	}
	b.listenersMu.Unlock()
}

// Subscribe registers a new listener and returns its key and inbox.
func (b *Bus) Subscribe() (slotmap.Key, *Inbox) {
	inbox := NewInbox()

	b.listenersMu.Lock()
	key := b.listeners.Insert(inbox)
	b.listenersMu.Unlock()

	return key, inbox
}

// Unsubscribe removes a listener. Stale or unknown keys are ignored.
func (b *Bus) Unsubscribe(key slotmap.Key) bool {
	b.listenersMu.Lock()
	inbox, ok := b.listeners.Remove(key)
	b.listenersMu.Unlock()

	if ok {
		inbox.Close()
	}
	return ok
}

// Emit offers an event to the ingestion channel without blocking.
func (b *Bus) Emit(e Event) bool {
	select {
	case b.ingest <- e:
		b.emitted.Add(1)
		return true
	default:
		b.dropped.Add(1)
		return false
	}
}

func (b *Bus) emitHandle(h window.Handle) {
	b.Emit(Event{Window: h})
}

// Poke emits a triggerless event to every listener.
func (b *Bus) Poke() bool {
	return b.Emit(Poke())
}

func (b *Bus) dispatch() {
	defer close(b.done)
	for {
		select {
		case <-b.stopCh:
			return
		case e := <-b.ingest:
			b.fanOut(e)
		}
	}
}

func (b *Bus) fanOut(e Event) {
	b.listenersMu.RLock()
	defer b.listenersMu.RUnlock()

	b.listeners.Range(func(_ slotmap.Key, inbox *Inbox) bool {
		inbox.Push(e)
		return true
	})
	b.dispatched.Add(1)
}

// Stats returns a copy of the bus counters.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	refs, installed := b.refs, b.installed
	b.mu.Unlock()

	b.listenersMu.RLock()
	n := b.listeners.Len()
	b.listenersMu.RUnlock()

	return Stats{
		Emitted:    b.emitted.Load(),
		Dropped:    b.dropped.Load(),
		Dispatched: b.dispatched.Load(),
		Listeners:  n,
		Refs:       refs,
		Installed:  installed,
	}
}

// Close stops the dispatcher after unhooking. Pending notifications are discarded.
func (b *Bus) Close() {
	b.stopOnce.Do(func() {
		b.ForceUnhook()
		close(b.stopCh)
		<-b.done
	})
}

// NopInstaller never delivers notifications. Workers still run on pokes.
type NopInstaller struct{}

func (NopInstaller) Install(func(window.Handle)) error { return nil }
func (NopInstaller) Uninstall() error                  { return nil }
func (NopInstaller) Name() string                      { return "none" }
