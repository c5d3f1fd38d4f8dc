package selection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bryanchriswhite/wincat/internal/capture"
	"github.com/bryanchriswhite/wincat/internal/hook"
	"github.com/bryanchriswhite/wincat/internal/signal"
	"github.com/bryanchriswhite/wincat/internal/window"
)

type stubResource struct {
	win   window.Handle
	stops atomic.Int32
	done  *signal.Holder
}

func (r *stubResource) Width() int            { return 320 }
func (r *stubResource) Height() int           { return 200 }
func (r *stubResource) Done() signal.Listener { return r.done.Listener() }
func (r *stubResource) Stop() error {
	r.stops.Add(1)
	return nil
}

type stubBackend struct {
	mu      sync.Mutex
	started []*stubResource
	fail    bool
}

func (b *stubBackend) Name() string { return "stub" }

func (b *stubBackend) Start(win window.Handle, opts capture.Options, sink capture.Sink) (capture.Resource, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return nil, capture.ErrWindowGone
	}
	r := &stubResource{win: win, done: signal.New()}
	b.started = append(b.started, r)
	return r, nil
}

func (b *stubBackend) resource(i int) *stubResource {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started[i]
}

func (b *stubBackend) starts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.started)
}

type nopSink struct{}

func (nopSink) EnterGraphics()             {}
func (nopSink) LeaveGraphics()             {}
func (nopSink) OutputVideo(*capture.Frame) {}

type stubSelector struct {
	mu    sync.Mutex
	calls int
	fn    func(*window.Snapshot) (*window.Record, error)
}

func (s *stubSelector) Select(ctx context.Context, snap *window.Snapshot) (*window.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.fn(snap)
}

func (s *stubSelector) set(fn func(*window.Snapshot) (*window.Record, error)) {
	s.mu.Lock()
	s.fn = fn
	s.mu.Unlock()
}

func (s *stubSelector) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func choose(h window.Handle) func(*window.Snapshot) (*window.Record, error) {
	return func(*window.Snapshot) (*window.Record, error) {
		return &window.Record{Handle: h, Title: "chosen", Visible: true}, nil
	}
}

type staticSnapshots struct{}

func (staticSnapshots) Load() *window.Snapshot { return &window.Snapshot{} }

type harness struct {
	bus      *hook.Bus
	backend  *stubBackend
	selector *stubSelector
	cell     *capture.Cell
	worker   *Worker
}

func newHarness(t *testing.T, inspect fakeInspector, fn func(*window.Snapshot) (*window.Record, error)) *harness {
	t.Helper()
	h := &harness{
		bus:      hook.NewBus(nil, 0),
		backend:  &stubBackend{},
		selector: &stubSelector{fn: fn},
		cell:     capture.NewCell(),
	}
	h.worker = Start(Config{
		SourceID:  "test",
		Bus:       h.bus,
		Snapshots: staticSnapshots{},
		Selector:  h.selector,
		Inspector: inspect,
		Backend:   h.backend,
		Cell:      h.cell,
		Sink:      nopSink{},
	})
	t.Cleanup(func() {
		h.worker.Cancel()
		h.worker.Wait(time.Second)
		h.cell.Clear()
		h.bus.Close()
	})
	return h
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timeout waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// settle waits until the worker has completed at least n more passes.
func (h *harness) settle(t *testing.T, since uint64, n uint64) {
	t.Helper()
	eventually(t, "selection pass", func() bool {
		return h.worker.Passes() >= since+n
	})
}

// waitCapture waits until the initial pass has installed a session and returned.
func (h *harness) waitCapture(t *testing.T) {
	t.Helper()
	eventually(t, "capture start", func() bool {
		return h.cell.Load() != nil && h.worker.Passes() >= 1
	})
}

func TestInitialPassStartsCapture(t *testing.T) {
	inspect := fakeInspector{winA: {pid: 10, visible: true, title: "Main"}}
	h := newHarness(t, inspect, choose(winA))

	h.waitCapture(t)

	s := h.cell.Load()
	if s.Window() != winA || s.ProcessID() != 10 {
		t.Fatalf("Session bound to %v/%d, want %v/10", s.Window(), s.ProcessID(), winA)
	}
	if h.cell.Width() != 320 || h.cell.Height() != 200 {
		t.Fatalf("Unexpected size %dx%d", h.cell.Width(), h.cell.Height())
	}
	if st := h.bus.Stats(); st.Refs != 1 || st.Listeners != 1 {
		t.Fatalf("Expected one hook ref and listener, got %+v", st)
	}
}

func TestNoneSelectionStopsCapture(t *testing.T) {
	inspect := fakeInspector{winA: {pid: 10, visible: true, title: "Main"}}
	h := newHarness(t, inspect, choose(winA))
	h.waitCapture(t)

	h.selector.set(func(*window.Snapshot) (*window.Record, error) { return nil, nil })
	h.worker.Poke()

	eventually(t, "capture stop", func() bool { return h.cell.Load() == nil })
	if h.cell.Width() != 0 || h.cell.Height() != 0 {
		t.Fatalf("Expected zero size, got %dx%d", h.cell.Width(), h.cell.Height())
	}
	if n := h.backend.resource(0).stops.Load(); n != 1 {
		t.Fatalf("Expected resource stopped once, got %d", n)
	}
}

func TestSelectorErrorKeepsState(t *testing.T) {
	inspect := fakeInspector{winA: {pid: 10, visible: true, title: "Main"}}
	h := newHarness(t, inspect, choose(winA))
	h.waitCapture(t)
	before := h.cell.Load()

	h.selector.set(func(*window.Snapshot) (*window.Record, error) { return nil, errors.New("boom") })
	since := h.worker.Passes()
	h.worker.Poke()
	h.settle(t, since, 1)

	if h.cell.Load() != before {
		t.Fatal("selector error must not touch the session")
	}
}

func TestPokeWithoutChangeKeepsSession(t *testing.T) {
	inspect := fakeInspector{winA: {pid: 10, visible: true, title: "Main"}}
	h := newHarness(t, inspect, choose(winA))
	h.waitCapture(t)

	since := h.worker.Passes()
	h.worker.Poke()
	h.worker.Poke()
	h.settle(t, since, 2)

	if n := h.backend.starts(); n != 1 {
		t.Fatalf("Expected a single capture start, got %d", n)
	}
}

func TestForceUpdateRebuilds(t *testing.T) {
	inspect := fakeInspector{winA: {pid: 10, visible: true, title: "Main"}}
	h := newHarness(t, inspect, choose(winA))
	h.waitCapture(t)

	h.cell.RequestUpdate()
	h.worker.Poke()

	eventually(t, "rebuild", func() bool { return h.backend.starts() == 2 })
	eventually(t, "old session stop", func() bool { return h.backend.resource(0).stops.Load() == 1 })
}

func TestSameProcessReplacementRebuilds(t *testing.T) {
	inspect := fakeInspector{
		winA: {pid: 10, visible: true, title: "Main"},
		winB: {pid: 10, visible: true, title: "Editor"},
		winC: {pid: 20, visible: true, title: "Other"},
	}
	h := newHarness(t, inspect, choose(winA))
	h.waitCapture(t)

	since := h.worker.Passes()
	h.bus.Emit(hook.Event{Window: winC})
	h.settle(t, since, 1)
	if n := h.backend.starts(); n != 1 {
		t.Fatalf("unrelated process should not rebuild, starts=%d", n)
	}

	h.bus.Emit(hook.Event{Window: winB})
	eventually(t, "rebuild", func() bool { return h.backend.starts() == 2 })
}

func TestVanishedWindowSkipsPass(t *testing.T) {
	h := newHarness(t, fakeInspector{}, choose(winA))

	h.settle(t, 0, 1)
	if h.cell.Load() != nil {
		t.Fatal("no session expected for a window without a process")
	}
	if h.backend.starts() != 0 {
		t.Fatal("capture should not be attempted")
	}
}

func TestStartFailureLeavesNoSession(t *testing.T) {
	inspect := fakeInspector{winA: {pid: 10, visible: true, title: "Main"}}
	bus := hook.NewBus(nil, 0)
	defer bus.Close()
	backend := &stubBackend{fail: true}
	cell := capture.NewCell()

	w := Start(Config{
		SourceID:  "fail",
		Bus:       bus,
		Snapshots: staticSnapshots{},
		Selector:  &stubSelector{fn: choose(winA)},
		Inspector: inspect,
		Backend:   backend,
		Cell:      cell,
		Sink:      nopSink{},
	})
	defer func() {
		w.Cancel()
		w.Wait(time.Second)
	}()

	eventually(t, "first pass", func() bool { return w.Passes() >= 1 })
	if cell.Load() != nil {
		t.Fatal("failed start must leave no session")
	}
	if !w.Alive() {
		t.Fatal("worker should survive a start failure")
	}
}

func TestPanicInSelectorIsRecovered(t *testing.T) {
	inspect := fakeInspector{winA: {pid: 10, visible: true, title: "Main"}}
	h := newHarness(t, inspect, func(*window.Snapshot) (*window.Record, error) {
		panic("selector bug")
	})

	h.settle(t, 0, 1)
	if !h.worker.Alive() {
		t.Fatal("worker died on a panicking pass")
	}

	h.selector.set(choose(winA))
	h.worker.Poke()
	h.waitCapture(t)
}

func TestCancelDeregisters(t *testing.T) {
	inspect := fakeInspector{winA: {pid: 10, visible: true, title: "Main"}}
	h := newHarness(t, inspect, choose(winA))
	h.waitCapture(t)

	h.worker.Cancel()
	h.worker.Cancel()
	if !h.worker.Wait(time.Second) {
		t.Fatal("worker did not exit")
	}
	if h.worker.Alive() {
		t.Fatal("Alive after exit")
	}
	if st := h.bus.Stats(); st.Refs != 0 || st.Listeners != 0 {
		t.Fatalf("Expected bus released, got %+v", st)
	}

	calls := h.selector.callCount()
	h.cell.Clear()
	h.worker.Poke()
	h.bus.Poke()
	time.Sleep(20 * time.Millisecond)

	if h.selector.callCount() != calls {
		t.Fatal("cancelled worker ran a pass")
	}
	if h.cell.Load() != nil {
		t.Fatal("cancelled worker installed a session")
	}
}

func TestCancelDuringStartInstallsNothing(t *testing.T) {
	inspect := fakeInspector{winA: {pid: 10, visible: true, title: "Main"}}
	bus := hook.NewBus(nil, 0)
	defer bus.Close()
	cell := capture.NewCell()
	backend := &stubBackend{}

	var w *Worker
	ready := make(chan struct{})
	sel := &stubSelector{fn: func(*window.Snapshot) (*window.Record, error) {
		<-ready
		w.Cancel()
		return &window.Record{Handle: winA, Title: "Main"}, nil
	}}

	w = Start(Config{
		SourceID:  "race",
		Bus:       bus,
		Snapshots: staticSnapshots{},
		Selector:  sel,
		Inspector: inspect,
		Backend:   backend,
		Cell:      cell,
		Sink:      nopSink{},
	})
	close(ready)

	if !w.Wait(time.Second) {
		t.Fatal("worker did not exit")
	}
	if cell.Load() != nil {
		t.Fatal("session installed after cancellation")
	}
}

func TestForceUnhookEndsWorker(t *testing.T) {
	inspect := fakeInspector{winA: {pid: 10, visible: true, title: "Main"}}
	h := newHarness(t, inspect, choose(winA))
	h.waitCapture(t)

	h.bus.ForceUnhook()

	if !h.worker.Wait(time.Second) {
		t.Fatal("worker kept waiting on a closed inbox")
	}
	if h.worker.Poke() {
		t.Fatal("Poke should fail once the inbox is closed")
	}

	// A replacement worker takes a fresh reference that the old one must not drop.
	next := Start(Config{
		SourceID:  "next",
		Bus:       h.bus,
		Snapshots: staticSnapshots{},
		Selector:  h.selector,
		Inspector: inspect,
		Backend:   h.backend,
		Cell:      h.cell,
		Sink:      nopSink{},
	})
	defer func() {
		next.Cancel()
		next.Wait(time.Second)
	}()
	eventually(t, "replacement pass", func() bool { return next.Passes() >= 1 })
	if st := h.bus.Stats(); st.Refs != 1 || st.Listeners != 1 {
		t.Fatalf("Expected the replacement's ref and listener only, got %+v", st)
	}
}
