// Package source implements the host-facing lifecycle of one capture
// source: construct, update, activate, deactivate, periodic tick and
// destroy. Each source owns its selector engine, its capture cell and,
// while active, one selection worker.
package source

import (
	"sync"
	"time"

	"github.com/bryanchriswhite/wincat/internal/capture"
	"github.com/bryanchriswhite/wincat/internal/hook"
	"github.com/bryanchriswhite/wincat/internal/logger"
	"github.com/bryanchriswhite/wincat/internal/script"
	"github.com/bryanchriswhite/wincat/internal/selection"
	"github.com/bryanchriswhite/wincat/internal/signal"
	"github.com/bryanchriswhite/wincat/internal/slotmap"
	"github.com/bryanchriswhite/wincat/internal/window"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultTickInterval is the liveness cadence used when none is configured.
	DefaultTickInterval = 1500 * time.Millisecond

	// DefaultTitleCheckInterval is how often the captured window's title is compared.
	DefaultTitleCheckInterval = 5 * time.Second

	destroyTimeout = 3 * time.Second
)

// Settings is the user configuration of a source.
type Settings struct {
	Name    string          `json:"name"`
	Script  string          `json:"script"`
	Options capture.Options `json:"options"`
}

// Deps are the process-wide collaborators shared by all sources.
type Deps struct {
	Bus           *hook.Bus
	Snapshots     selection.Snapshots
	Inspector     window.Inspector
	Backend       capture.Backend
	Registry      *capture.Registry
	TickInterval  time.Duration
	ScriptTimeout time.Duration

	// TitleCheckInterval is the cadence of the captured-title comparison.
	TitleCheckInterval time.Duration
}

// Info is a point-in-time view of a source.
type Info struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Active    bool          `json:"active"`
	Selector  bool          `json:"selector_loaded"`
	Capturing bool          `json:"capturing"`
	Window    window.Handle `json:"hwnd,omitempty"`
	PID       uint32        `json:"pid,omitempty"`
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	Passes    uint64        `json:"passes"`
}

// Source is one capture source.
type Source struct {
	id   string
	deps Deps
	sink capture.Sink
	log  *zerolog.Logger

	engine *script.Engine
	cell   *capture.Cell
	regKey slotmap.Key

	mu         sync.Mutex
	settings   Settings
	active     bool
	destroyed  bool
	worker     *selection.Worker
	sinceTick  time.Duration
	sinceTitle time.Duration
}

// New constructs an active source with a fresh id and starts its worker.
func New(deps Deps, settings Settings, sink capture.Sink) *Source {
	return NewWithID(uuid.NewString(), deps, settings, sink)
}

// NewWithID is New with a caller-chosen id, for hosts that key their sinks
// by source id before the source exists.
func NewWithID(id string, deps Deps, settings Settings, sink capture.Sink) *Source {
	if deps.TickInterval <= 0 {
		deps.TickInterval = DefaultTickInterval
	}
	if deps.TitleCheckInterval <= 0 {
		deps.TitleCheckInterval = DefaultTitleCheckInterval
	}

	name := settings.Name
	if name == "" {
		name = id
	}

	s := &Source{
		id:       id,
		deps:     deps,
		sink:     sink,
		log:      logger.WithSource("source", id),
		engine:   script.NewEngine(name, deps.ScriptTimeout),
		cell:     capture.NewCell(),
		settings: settings,
		active:   true,
	}
	s.regKey = deps.Registry.Register(s.cell)
	s.loadScript(settings.Script)

	s.mu.Lock()
	s.ensureWorkerLocked()
	s.mu.Unlock()

	s.log.Info().Str("name", settings.Name).Msg("Source created")
	return s
}

// ID returns the source id.
func (s *Source) ID() string { return s.id }

// Settings returns the current settings.
func (s *Source) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

func (s *Source) options() capture.Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.Options
}

func (s *Source) loadScript(src string) {
	if err := s.engine.Load(src); err != nil {
		s.log.Error().Err(err).Msg("Failed to load selector script")
		return
	}
	if src == "" {
		s.log.Debug().Msg("No selector script configured")
	}
}

// Update applies new settings. Changed capture options mark the active
// session for rebuild; the script is always reloaded and a pass is queued.
func (s *Source) Update(settings Settings) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	prev := s.settings
	s.settings = settings
	s.mu.Unlock()

	if prev.Options != settings.Options {
		s.cell.RequestUpdate()
	}
	s.loadScript(settings.Script)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		s.ensureWorkerLocked()
		s.worker.Poke()
	}
}

// Activate starts the worker if needed and queues a pass.
func (s *Source) Activate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	s.active = true
	s.ensureWorkerLocked()
	s.worker.Poke()
}

// Deactivate cancels the worker and stops the capture.
func (s *Source) Deactivate() {
	s.mu.Lock()
	s.active = false
	w := s.worker
	s.mu.Unlock()

	if w != nil {
		w.Cancel()
	}
	s.cell.Clear()
}

// Tick is the host's periodic callback. It pokes the worker every tick
// interval and immediately when the current capture stopped on its own or
// its window was retitled.
func (s *Source) Tick(elapsed time.Duration) {
	s.mu.Lock()
	if !s.active || s.destroyed {
		s.mu.Unlock()
		return
	}
	s.sinceTick += elapsed
	s.sinceTitle += elapsed
	poke := false
	if s.sinceTick >= s.deps.TickInterval {
		s.sinceTick = 0
		poke = true
	}
	checkTitle := false
	if s.sinceTitle >= s.deps.TitleCheckInterval {
		s.sinceTitle = 0
		checkTitle = true
	}
	s.mu.Unlock()

	session := s.cell.Load()
	switch {
	case session == nil:
	case session.Done().Check() == signal.Signaled:
		// Only this exact session goes; a worker may have installed a newer one.
		s.log.Debug().Stringer("window", session.Window()).Msg("Capture inactive, re-running selector")
		if s.cell.Remove(session) {
			session.Stop()
		}
		poke = true
	case checkTitle && s.titleChanged(session):
		session.RequestUpdate()
		poke = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.destroyed {
		return
	}
	if !s.workerUsableLocked() {
		s.ensureWorkerLocked()
		poke = true
	}
	if poke {
		s.worker.Poke()
	}
}

// titleChanged reports whether the captured window now carries a different,
// non-empty title than when its session started.
func (s *Source) titleChanged(session *capture.Session) bool {
	title := s.deps.Inspector.Title(session.Window())
	if title == "" || title == session.Title() {
		return false
	}
	s.log.Info().
		Stringer("window", session.Window()).
		Str("was", session.Title()).
		Str("title", title).
		Msg("Window title changed, re-running selector")
	return true
}

// Poke queues a selection pass, restarting the worker if it stopped listening.
func (s *Source) Poke() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.worker == nil || !s.active || s.destroyed {
		return false
	}
	s.ensureWorkerLocked()
	return s.worker.Poke()
}

func (s *Source) workerUsableLocked() bool {
	return s.worker != nil && s.worker.Alive() && !s.worker.Cancelled() && s.worker.Listening()
}

// ensureWorkerLocked starts a worker unless a running one exists. A
// cancelled worker that has not exited yet, or one whose inbox was closed
// by a force-unhook, is replaced.
func (s *Source) ensureWorkerLocked() {
	if s.workerUsableLocked() {
		return
	}
	if s.worker != nil {
		s.worker.Cancel()
		s.log.Info().Msg("Restarting selection worker")
	}
	s.worker = selection.Start(selection.Config{
		SourceID:  s.id,
		Bus:       s.deps.Bus,
		Snapshots: s.deps.Snapshots,
		Selector:  s.engine,
		Inspector: s.deps.Inspector,
		Backend:   s.deps.Backend,
		Cell:      s.cell,
		Sink:      s.sink,
		Options:   s.options,
	})
}

// Destroy tears the source down. The source must not be used afterwards.
func (s *Source) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	s.active = false
	w := s.worker
	s.mu.Unlock()

	s.deps.Registry.Unregister(s.regKey)
	if w != nil {
		w.Cancel()
	}
	s.cell.Clear()

	if w != nil && !w.Wait(destroyTimeout) {
		s.log.Warn().Msg("Selection worker did not exit in time")
	}
	s.engine.Close()
	s.log.Info().Msg("Source destroyed")
}

// Width returns the captured frame width, or 0 when nothing is captured.
func (s *Source) Width() int { return s.cell.Width() }

// Height returns the captured frame height, or 0 when nothing is captured.
func (s *Source) Height() int { return s.cell.Height() }

// Info returns a snapshot of the source state.
func (s *Source) Info() Info {
	s.mu.Lock()
	info := Info{
		ID:     s.id,
		Name:   s.settings.Name,
		Active: s.active,
	}
	if s.worker != nil {
		info.Passes = s.worker.Passes()
	}
	s.mu.Unlock()

	info.Selector = s.engine.Loaded()
	if session := s.cell.Load(); session != nil {
		info.Capturing = true
		info.Window = session.Window()
		info.PID = session.ProcessID()
		info.Width = session.Width()
		info.Height = session.Height()
	}
	return info
}
