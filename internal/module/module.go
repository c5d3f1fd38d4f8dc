// Package module wires the process-wide pieces together: the window-event
// bus, the snapshot enumerator, the capture registry and the frame host.
package module

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bryanchriswhite/wincat/internal/capture"
	"github.com/bryanchriswhite/wincat/internal/config"
	"github.com/bryanchriswhite/wincat/internal/hook"
	"github.com/bryanchriswhite/wincat/internal/logger"
	"github.com/bryanchriswhite/wincat/internal/output"
	"github.com/bryanchriswhite/wincat/internal/source"
	"github.com/bryanchriswhite/wincat/internal/window"
)

// ErrUnloaded is returned by operations on a module after Unload.
var ErrUnloaded = errors.New("module unloaded")

// Options configures a Module. Zero durations take the package defaults.
type Options struct {
	Installer          hook.Installer
	WindowBackend      window.Backend
	CaptureBackend     capture.Backend
	Host               *output.Host
	IngestCapacity     int
	SnapshotInterval   time.Duration
	TickInterval       time.Duration
	TitleCheckInterval time.Duration
	ScriptTimeout      time.Duration

	// Labels captions each preview stream with its source name.
	Labels bool
}

// Module owns everything shared between sources.
type Module struct {
	opts       Options
	bus        *hook.Bus
	store      *window.Store
	enumerator *window.Enumerator
	registry   *capture.Registry
	host       *output.Host

	mu         sync.Mutex
	sources    map[string]*source.Source
	order      []string
	configured map[string]string // config source name -> id
	loaded     bool
	unloaded   bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a module from explicit collaborators. Installer defaults to
// hook.NopInstaller and Host to an output.Host with default limits.
func New(opts Options) *Module {
	if opts.Installer == nil {
		opts.Installer = hook.NopInstaller{}
	}
	if opts.Host == nil {
		opts.Host = output.NewHost(output.DefaultConfig())
	}
	if opts.CaptureBackend == nil {
		opts.CaptureBackend = capture.NewPlatformBackend(opts.WindowBackend)
	}

	store := window.NewStore()
	return &Module{
		opts:       opts,
		bus:        hook.NewBus(opts.Installer, opts.IngestCapacity),
		store:      store,
		enumerator: window.NewEnumerator(opts.WindowBackend, store, opts.SnapshotInterval),
		registry:   capture.NewRegistry(),
		host:       opts.Host,
		sources:    make(map[string]*source.Source),
	}
}

// NewPlatform creates a module backed by this OS's window, hook and capture
// backends, configured from cfg.
func NewPlatform(cfg *config.Config) (*Module, error) {
	wb, err := window.NewPlatformBackend()
	if err != nil {
		return nil, fmt.Errorf("failed to open window backend: %w", err)
	}
	if err := wb.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect window backend: %w", err)
	}

	return New(Options{
		Installer:     hook.NewPlatformInstaller(),
		WindowBackend: wb,
		Host: output.NewHost(output.Config{
			Width:  cfg.Preview.Width,
			Height: cfg.Preview.Height,
			FPS:    cfg.Capture.FPS,
		}),
		IngestCapacity:     cfg.IngestCapacity,
		SnapshotInterval:   cfg.SnapshotInterval(),
		TickInterval:       cfg.TickInterval(),
		TitleCheckInterval: cfg.TitleCheckInterval(),
		ScriptTimeout:      cfg.ScriptTimeout(),
		Labels:             cfg.Preview.Labels,
	}), nil
}

// Load takes the first snapshot and starts the enumerator. It is a no-op
// when already loaded.
func (m *Module) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unloaded {
		return ErrUnloaded
	}
	if m.loaded {
		return nil
	}

	log := logger.WithComponent("module")
	if err := m.enumerator.Refresh(); err != nil {
		log.Warn().Err(err).Msg("Initial window enumeration failed")
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.enumerator.Run(ctx)
	}()

	m.loaded = true
	log.Info().
		Str("window_backend", m.opts.WindowBackend.Name()).
		Str("capture_backend", m.opts.CaptureBackend.Name()).
		Str("hook", m.opts.Installer.Name()).
		Msg("Module loaded")
	return nil
}

func (m *Module) deps() source.Deps {
	return source.Deps{
		Bus:                m.bus,
		Snapshots:          m.store,
		Inspector:          m.opts.WindowBackend,
		Backend:            m.opts.CaptureBackend,
		Registry:           m.registry,
		TickInterval:       m.opts.TickInterval,
		TitleCheckInterval: m.opts.TitleCheckInterval,
		ScriptTimeout:      m.opts.ScriptTimeout,
	}
}

// NewSource creates and starts a source whose frames go to the host.
func (m *Module) NewSource(settings source.Settings) (*source.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unloaded {
		return nil, ErrUnloaded
	}

	id := uuid.NewString()
	sink := m.host.Sink(id)
	if m.opts.Labels {
		m.host.SetLabel(id, settings.Name)
	}
	s := source.NewWithID(id, m.deps(), settings, sink)
	m.sources[id] = s
	m.order = append(m.order, id)
	return s, nil
}

// Source looks up a source by id.
func (m *Module) Source(id string) (*source.Source, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[id]
	return s, ok
}

// Sources returns the live sources in creation order.
func (m *Module) Sources() []*source.Source {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*source.Source, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.sources[id])
	}
	return out
}

// DestroySource destroys the source and drops its stream.
func (m *Module) DestroySource(id string) bool {
	m.mu.Lock()
	s, ok := m.sources[id]
	if ok {
		delete(m.sources, id)
		for i, oid := range m.order {
			if oid == id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
		for name, cid := range m.configured {
			if cid == id {
				delete(m.configured, name)
			}
		}
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	s.Destroy()
	m.host.Remove(id)
	return true
}

// Tick advances every source's liveness clock by elapsed.
func (m *Module) Tick(elapsed time.Duration) {
	for _, s := range m.Sources() {
		s.Tick(elapsed)
	}
}

// Bus returns the shared window-event bus.
func (m *Module) Bus() *hook.Bus { return m.bus }

// Snapshots returns the published snapshot store.
func (m *Module) Snapshots() *window.Store { return m.store }

// Registry returns the capture registry.
func (m *Module) Registry() *capture.Registry { return m.registry }

// Host returns the frame host.
func (m *Module) Host() *output.Host { return m.host }

// Unload force-unhooks the bus and stops every capture, then destroys the
// sources and closes the backends. Only the first call has any effect.
func (m *Module) Unload() {
	m.mu.Lock()
	if m.unloaded {
		m.mu.Unlock()
		return
	}
	m.unloaded = true
	cancel := m.cancel
	sources := make([]*source.Source, 0, len(m.order))
	for _, id := range m.order {
		sources = append(sources, m.sources[id])
	}
	m.sources = make(map[string]*source.Source)
	m.order = nil
	m.mu.Unlock()

	log := logger.WithComponent("module")

	m.bus.ForceUnhook()
	stopped := m.registry.Drain()

	for _, s := range sources {
		s.Destroy()
	}
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()

	m.bus.Close()
	m.host.Close()

	if c, ok := m.opts.CaptureBackend.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close capture backend")
		}
	}
	if err := m.opts.WindowBackend.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close window backend")
	}

	log.Info().Int("captures_stopped", stopped).Int("sources", len(sources)).Msg("Module unloaded")
}
