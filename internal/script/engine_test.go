package script

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bryanchriswhite/wincat/internal/window"
)

func testSnapshot() *window.Snapshot {
	editor := window.Record{Title: "main.go - Editor", ClassName: "Code", Handle: 0x10, Visible: true,
		Rect: window.Rect{X: 10, Y: 20, Width: 800, Height: 600}}
	popup := window.Record{Title: "Find", ClassName: "Code", Handle: 0x11, Visible: false}
	term := window.Record{Title: "bash", ClassName: "Term", Handle: 0x20, Visible: true}

	return &window.Snapshot{Processes: []window.Process{
		{Name: "code", PID: 10, Main: &editor, Windows: []window.Record{editor, popup}},
		{Name: "term", PID: 20, Main: &term, Windows: []window.Record{term}},
	}}
}

func TestSelectByProcessName(t *testing.T) {
	e := NewEngine("test", 0)
	defer e.Close()

	err := e.Load(`function(procs)
		for _, p in ipairs(procs) do
			if p.name == "code" then return p.main end
		end
	end`)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	rec, err := e.Select(context.Background(), testSnapshot())
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if rec == nil {
		t.Fatal("Expected a window, got none")
	}
	if rec.Handle != 0x10 || rec.Title != "main.go - Editor" || !rec.Visible {
		t.Errorf("Unexpected record %+v", rec)
	}
	if rec.Width != 800 || rec.Height != 600 || rec.X != 10 || rec.Y != 20 {
		t.Errorf("Unexpected rect %+v", rec.Rect)
	}
}

func TestChunkReturningFunction(t *testing.T) {
	e := NewEngine("test", 0)
	defer e.Close()

	err := e.Load(`
		local wanted = "Term"
		return function(procs)
			for _, p in ipairs(procs) do
				for _, w in ipairs(p.windows) do
					if w.class_name == wanted then return w end
				end
			end
			return nil
		end`)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	rec, err := e.Select(context.Background(), testSnapshot())
	if err != nil || rec == nil || rec.Handle != 0x20 {
		t.Fatalf("Select = %+v, %v", rec, err)
	}
}

func TestSelectNone(t *testing.T) {
	e := NewEngine("test", 0)
	defer e.Close()

	for _, src := range []string{
		`function(procs) return nil end`,
		`function(procs) return false end`,
		`function(procs) end`,
	} {
		if err := e.Load(src); err != nil {
			t.Fatalf("Load(%q) failed: %v", src, err)
		}
		rec, err := e.Select(context.Background(), testSnapshot())
		if err != nil || rec != nil {
			t.Errorf("%q: Select = %+v, %v; want none", src, rec, err)
		}
	}
}

func TestEmptyScriptUnloads(t *testing.T) {
	e := NewEngine("test", 0)
	defer e.Close()

	e.Load(`function(procs) return nil end`)
	if !e.Loaded() {
		t.Fatal("selector should be loaded")
	}
	if err := e.Load("   \n"); err != nil {
		t.Fatalf("empty Load should not fail: %v", err)
	}
	if e.Loaded() {
		t.Fatal("empty script should unload the selector")
	}
	if _, err := e.Select(context.Background(), testSnapshot()); !errors.Is(err, ErrNoSelector) {
		t.Fatalf("Expected ErrNoSelector, got %v", err)
	}
}

func TestLoadErrorUnloads(t *testing.T) {
	e := NewEngine("test", 0)
	defer e.Close()

	e.Load(`function(procs) return nil end`)

	tests := []struct {
		name   string
		script string
	}{
		{"syntax", `function(procs) return end end`},
		{"not a function", `42`},
		{"runtime error", `error("boom")`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := e.Load(tt.script); err == nil {
				t.Fatal("Expected load error")
			}
			if e.Loaded() {
				t.Fatal("failed load should leave no selector")
			}
		})
	}
}

func TestSelectorErrors(t *testing.T) {
	e := NewEngine("test", 0)
	defer e.Close()

	tests := []struct {
		name   string
		script string
	}{
		{"runtime error", `function(procs) error("nope") end`},
		{"bad return type", `function(procs) return "window" end`},
		{"missing hwnd", `function(procs) return { title = "x" } end`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := e.Load(tt.script); err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if _, err := e.Select(context.Background(), testSnapshot()); err == nil {
				t.Fatal("Expected select error")
			}
			if !e.Loaded() {
				t.Fatal("a failing call should keep the selector loaded")
			}
		})
	}
}

func TestSelectorTimeout(t *testing.T) {
	e := NewEngine("test", 50*time.Millisecond)
	defer e.Close()

	if err := e.Load(`function(procs) while true do end end`); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := e.Select(context.Background(), testSnapshot())
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Expected timeout error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Select did not honor its timeout")
	}

	// The state is still usable afterwards.
	e.Load(`function(procs) return procs[1].main end`)
	if rec, err := e.Select(context.Background(), testSnapshot()); err != nil || rec == nil {
		t.Fatalf("Select after timeout = %+v, %v", rec, err)
	}
}

func TestSandbox(t *testing.T) {
	e := NewEngine("test", 0)
	defer e.Close()

	for _, name := range []string{"dofile", "loadfile", "require", "io", "os"} {
		err := e.Load(`return function(procs) return ` + name + ` end`)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		rec, err := e.Select(context.Background(), testSnapshot())
		if err != nil || rec != nil {
			t.Errorf("%s should be nil in the sandbox, got %+v, %v", name, rec, err)
		}
	}
}

func TestPrintDoesNotFail(t *testing.T) {
	e := NewEngine("test", 0)
	defer e.Close()

	err := e.Load(`function(procs) print("procs:", #procs) return nil end`)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := e.Select(context.Background(), testSnapshot()); err != nil {
		if strings.Contains(err.Error(), "print") {
			t.Fatalf("print failed: %v", err)
		}
		t.Fatalf("Select failed: %v", err)
	}
}

func TestLoadAfterCloseIsIgnored(t *testing.T) {
	e := NewEngine("test", 0)
	e.Close()

	if err := e.Load(`function(procs) return nil end`); err != nil {
		t.Fatalf("Load after Close returned %v", err)
	}
	if e.Loaded() {
		t.Fatal("closed engine should not report a selector")
	}
	if _, err := e.Select(context.Background(), testSnapshot()); !errors.Is(err, ErrNoSelector) {
		t.Fatalf("Expected ErrNoSelector from a closed engine, got %v", err)
	}
	e.Close()
}
