package window

import (
	"sync"
	"testing"
	"time"
)

func TestBuildSnapshotGroupsByProcess(t *testing.T) {
	windows := []WindowInfo{
		{Record: Record{Title: "hidden tool", Handle: 1, Visible: false}, PID: 20, ProcessName: "editor"},
		{Record: Record{Title: "Editor", Handle: 2, Visible: true}, PID: 20, ProcessName: "editor"},
		{Record: Record{Title: "", Handle: 3, Visible: true}, PID: 20, ProcessName: "editor"},
		{Record: Record{Title: "Shell", Handle: 4, Visible: true}, PID: 10, ProcessName: "term"},
	}

	snap := BuildSnapshot(windows, time.Unix(0, 0))

	if len(snap.Processes) != 2 {
		t.Fatalf("got %d processes, want 2", len(snap.Processes))
	}
	if snap.Processes[0].PID != 10 || snap.Processes[1].PID != 20 {
		t.Fatalf("processes not ordered by pid: %+v", snap.Processes)
	}

	editor := snap.Processes[1]
	if len(editor.Windows) != 2 {
		t.Fatalf("untitled window should be skipped, got %d windows", len(editor.Windows))
	}
	if editor.Main == nil || editor.Main.Handle != 2 {
		t.Fatalf("main window = %+v, want handle 2", editor.Main)
	}

	if _, ok := snap.Window(4); !ok {
		t.Fatal("Window(4) not found")
	}
	if snap.WindowCount() != 3 {
		t.Fatalf("WindowCount = %d, want 3", snap.WindowCount())
	}
}

func TestStoreNeverReturnsNil(t *testing.T) {
	s := NewStore()
	if s.Load() == nil {
		t.Fatal("Load on fresh store returned nil")
	}
	s.Publish(nil)
	if s.Load() == nil {
		t.Fatal("Load after Publish(nil) returned nil")
	}
}

func TestStoreConcurrentReaders(t *testing.T) {
	s := NewStore()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := s.Load()
				// Every published snapshot has exactly two windows.
				if n := snap.WindowCount(); n != 0 && n != 2 {
					t.Errorf("reader saw partial snapshot with %d windows", n)
					return
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		s.Publish(BuildSnapshot([]WindowInfo{
			{Record: Record{Title: "a", Handle: Handle(i*2 + 1)}, PID: 1},
			{Record: Record{Title: "b", Handle: Handle(i*2 + 2)}, PID: 2},
		}, time.Now()))
	}
	close(stop)
	wg.Wait()
}
