package module

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bryanchriswhite/wincat/internal/capture"
	"github.com/bryanchriswhite/wincat/internal/config"
	"github.com/bryanchriswhite/wincat/internal/output"
	"github.com/bryanchriswhite/wincat/internal/signal"
	"github.com/bryanchriswhite/wincat/internal/source"
	"github.com/bryanchriswhite/wincat/internal/window"
)

type fakeWindows struct {
	windows []window.WindowInfo
	closes  atomic.Int32
	lists   atomic.Int32
}

func (f *fakeWindows) find(h window.Handle) (window.WindowInfo, bool) {
	for _, w := range f.windows {
		if w.Handle == h {
			return w, true
		}
	}
	return window.WindowInfo{}, false
}

func (f *fakeWindows) ProcessID(h window.Handle) (uint32, bool) {
	w, ok := f.find(h)
	return w.PID, ok
}

func (f *fakeWindows) IsVisible(h window.Handle) bool {
	w, _ := f.find(h)
	return w.Visible
}

func (f *fakeWindows) Title(h window.Handle) string {
	w, _ := f.find(h)
	return w.Title
}

func (f *fakeWindows) Geometry(h window.Handle) (window.Rect, error) {
	w, ok := f.find(h)
	if !ok {
		return window.Rect{}, window.ErrNotFound
	}
	return w.Rect, nil
}

func (f *fakeWindows) Connect() error { return nil }
func (f *fakeWindows) Name() string   { return "fake" }

func (f *fakeWindows) Close() error {
	f.closes.Add(1)
	return nil
}

func (f *fakeWindows) ListWindows() ([]window.WindowInfo, error) {
	f.lists.Add(1)
	return f.windows, nil
}

type fakeResource struct {
	stops atomic.Int32
	done  *signal.Holder
}

func (r *fakeResource) Width() int            { return 640 }
func (r *fakeResource) Height() int           { return 480 }
func (r *fakeResource) Done() signal.Listener { return r.done.Listener() }

func (r *fakeResource) Stop() error {
	r.stops.Add(1)
	return nil
}

type fakeCapture struct {
	mu      sync.Mutex
	started []*fakeResource
}

func (c *fakeCapture) Name() string { return "fake" }

func (c *fakeCapture) Start(window.Handle, capture.Options, capture.Sink) (capture.Resource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := &fakeResource{done: signal.New()}
	c.started = append(c.started, r)
	return r, nil
}

func (c *fakeCapture) resources() []*fakeResource {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*fakeResource(nil), c.started...)
}

type countingInstaller struct {
	installs   atomic.Int32
	uninstalls atomic.Int32
}

func (c *countingInstaller) Name() string { return "counting" }

func (c *countingInstaller) Install(func(window.Handle)) error {
	c.installs.Add(1)
	return nil
}

func (c *countingInstaller) Uninstall() error {
	c.uninstalls.Add(1)
	return nil
}

const selectTerm = `function(procs)
	for _, p in ipairs(procs) do
		if p.name == "term" then return p.main end
	end
end`

type harness struct {
	m         *Module
	windows   *fakeWindows
	capture   *fakeCapture
	installer *countingInstaller
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		windows: &fakeWindows{windows: []window.WindowInfo{
			{Record: window.Record{Title: "bash", Handle: 0x10, Visible: true}, PID: 7, ProcessName: "term"},
			{Record: window.Record{Title: "notes", Handle: 0x20, Visible: true}, PID: 8, ProcessName: "editor"},
		}},
		capture:   &fakeCapture{},
		installer: &countingInstaller{},
	}
	h.m = New(Options{
		Installer:        h.installer,
		WindowBackend:    h.windows,
		CaptureBackend:   h.capture,
		Host:             output.NewHost(output.Config{Width: 32, Height: 32}),
		SnapshotInterval: 20 * time.Millisecond,
		TickInterval:     50 * time.Millisecond,
	})
	t.Cleanup(h.m.Unload)
	if err := h.m.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return h
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timeout waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func settings(name string) source.Settings {
	return source.Settings{Name: name, Script: selectTerm, Options: capture.DefaultOptions()}
}

func TestLoadPublishesSnapshot(t *testing.T) {
	h := newHarness(t)

	snap := h.m.Snapshots().Load()
	if snap == nil || snap.WindowCount() != 2 {
		t.Fatalf("Expected snapshot with 2 windows, got %+v", snap)
	}
	if err := h.m.Load(context.Background()); err != nil {
		t.Fatalf("Second Load: %v", err)
	}
	eventually(t, "periodic enumeration", func() bool { return h.windows.lists.Load() >= 3 })
}

func TestNewSourceCapturesAndStreams(t *testing.T) {
	h := newHarness(t)

	s, err := h.m.NewSource(settings("term"))
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	eventually(t, "capture", func() bool { return s.Info().Capturing })

	if info := s.Info(); info.Window != 0x10 || info.PID != 7 {
		t.Fatalf("Captured %v/%d, want 0x10/7", info.Window, info.PID)
	}
	if got, ok := h.m.Source(s.ID()); !ok || got != s {
		t.Fatal("Source lookup failed")
	}
	if _, ok := h.m.Host().Output(s.ID()); !ok {
		t.Fatal("Expected a host stream for the source")
	}
	if h.installer.installs.Load() != 1 {
		t.Fatalf("Expected hook installed once, got %d", h.installer.installs.Load())
	}
	if h.m.Registry().Len() != 1 {
		t.Fatalf("Expected 1 registered cell, got %d", h.m.Registry().Len())
	}
}

func TestSourcesKeepCreationOrder(t *testing.T) {
	h := newHarness(t)

	var ids []string
	for _, name := range []string{"a", "b", "c"} {
		s, err := h.m.NewSource(settings(name))
		if err != nil {
			t.Fatalf("NewSource: %v", err)
		}
		ids = append(ids, s.ID())
	}

	if !h.m.DestroySource(ids[1]) {
		t.Fatal("DestroySource returned false")
	}
	if h.m.DestroySource(ids[1]) {
		t.Fatal("Second DestroySource should return false")
	}

	got := h.m.Sources()
	if len(got) != 2 || got[0].ID() != ids[0] || got[1].ID() != ids[2] {
		t.Fatalf("Unexpected sources after destroy")
	}
	if _, ok := h.m.Host().Output(ids[1]); ok {
		t.Fatal("Destroyed source still has a stream")
	}
}

func TestTickDrivesPasses(t *testing.T) {
	h := newHarness(t)

	s, err := h.m.NewSource(settings("term"))
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	eventually(t, "first pass", func() bool { return s.Info().Passes >= 1 })

	before := s.Info().Passes
	h.m.Tick(50 * time.Millisecond)
	eventually(t, "tick pass", func() bool { return s.Info().Passes > before })
}

func TestUnloadStopsEverythingOnce(t *testing.T) {
	h := newHarness(t)

	for _, name := range []string{"a", "b"} {
		s, err := h.m.NewSource(settings(name))
		if err != nil {
			t.Fatalf("NewSource: %v", err)
		}
		eventually(t, "capture", func() bool { return s.Info().Capturing })
	}

	h.m.Unload()
	h.m.Unload()

	for i, r := range h.capture.resources() {
		if n := r.stops.Load(); n != 1 {
			t.Fatalf("Resource %d stopped %d times, want 1", i, n)
		}
	}
	if h.installer.uninstalls.Load() < 1 {
		t.Fatal("Hook was never uninstalled")
	}
	if h.windows.closes.Load() != 1 {
		t.Fatalf("Window backend closed %d times, want 1", h.windows.closes.Load())
	}
	if len(h.m.Sources()) != 0 || h.m.Registry().Len() != 0 {
		t.Fatal("Sources survived unload")
	}
	if _, err := h.m.NewSource(settings("late")); !errors.Is(err, ErrUnloaded) {
		t.Fatalf("Expected ErrUnloaded, got %v", err)
	}
	if err := h.m.Load(context.Background()); !errors.Is(err, ErrUnloaded) {
		t.Fatalf("Expected ErrUnloaded from Load, got %v", err)
	}
}

func TestApplyReconcilesByName(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()

	cfg := config.Defaults()
	cfg.Sources = []config.SourceConfig{
		{Name: "one", Script: selectTerm},
		{Name: "two", Script: selectTerm},
	}
	if err := h.m.Apply(cfg, dir); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	first := h.m.Sources()
	if len(first) != 2 || first[0].Settings().Name != "one" {
		t.Fatalf("Unexpected sources after first apply")
	}
	oneID := first[0].ID()

	manual, err := h.m.NewSource(settings("manual"))
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}

	borders := config.SourceConfig{Name: "one", Script: selectTerm, Borders: true}
	cfg.Sources = []config.SourceConfig{borders}
	if err := h.m.Apply(cfg, dir); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	got := h.m.Sources()
	if len(got) != 2 {
		t.Fatalf("Expected one configured and one manual source, got %d", len(got))
	}
	one, ok := h.m.Source(oneID)
	if !ok {
		t.Fatal("Configured source was recreated instead of updated")
	}
	if !one.Settings().Options.Borders {
		t.Fatal("Update not applied")
	}
	if _, ok := h.m.Source(manual.ID()); !ok {
		t.Fatal("Manual source was removed by Apply")
	}
}

func TestApplyReportsBadScriptFile(t *testing.T) {
	h := newHarness(t)

	cfg := config.Defaults()
	cfg.Sources = []config.SourceConfig{
		{Name: "missing", ScriptFile: "nope.lua"},
		{Name: "missing", Script: selectTerm},
	}
	if err := h.m.Apply(cfg, t.TempDir()); err == nil {
		t.Fatal("Expected error for missing script file and duplicate name")
	}
	srcs := h.m.Sources()
	if len(srcs) != 1 || srcs[0].Info().Selector {
		t.Fatal("Expected one source with no selector loaded")
	}
}
