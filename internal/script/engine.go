// Package script runs user-supplied Lua selectors. A selector is a function
// that receives the process/window snapshot and returns the window to
// capture, or nil for none.
package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/wincat/internal/logger"
	"github.com/bryanchriswhite/wincat/internal/window"
	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
)

// DefaultTimeout bounds a single selector call.
const DefaultTimeout = 250 * time.Millisecond

// ErrNoSelector is returned by Select while no selector is loaded.
var ErrNoSelector = errors.New("no selector loaded")

// Engine is one Lua state plus the loaded selector. gopher-lua states are
// not safe for concurrent use, so every entry into the state holds mu.
type Engine struct {
	mu       sync.Mutex
	state    *lua.LState
	selector *lua.LFunction
	closed   bool
	timeout  time.Duration
	log      *zerolog.Logger
}

// NewEngine creates a sandboxed Lua state. name tags print() output.
func NewEngine(name string, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	log := logger.WithComponent("script").With().Str("source", name).Logger()

	e := &Engine{
		state:   lua.NewState(lua.Options{SkipOpenLibs: true}),
		timeout: timeout,
		log:     &log,
	}
	e.openLibs()
	return e
}

func (e *Engine) openLibs() {
	L := e.state
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	for _, name := range []string{"dofile", "loadfile", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetGlobal("print", L.NewFunction(e.print))
}

func (e *Engine) print(L *lua.LState) int {
	n := L.GetTop()
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	e.log.Info().Msg(strings.Join(parts, "\t"))
	return 0
}

// Load compiles script and installs the function it evaluates to as the
// selector. The script may be a bare function expression or a chunk that
// returns one. An empty script unloads the selector; so does any error.
// Load on a closed engine does nothing.
func (e *Engine) Load(script string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.selector = nil
	if strings.TrimSpace(script) == "" {
		return nil
	}

	chunk, err := e.state.LoadString("return " + script)
	if err != nil {
		chunk, err = e.state.LoadString(script)
		if err != nil {
			return fmt.Errorf("failed to compile selector: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	e.state.SetContext(ctx)
	defer e.state.RemoveContext()

	if err := e.state.CallByParam(lua.P{Fn: chunk, NRet: 1, Protect: true}); err != nil {
		return fmt.Errorf("failed to evaluate selector script: %w", err)
	}
	ret := e.state.Get(-1)
	e.state.Pop(1)

	fn, ok := ret.(*lua.LFunction)
	if !ok {
		return fmt.Errorf("selector script evaluated to %s, expected a function", ret.Type())
	}
	e.selector = fn
	return nil
}

// Loaded reports whether a selector is installed.
func (e *Engine) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selector != nil
}

// Select calls the selector with snap. A nil record with a nil error means
// the selector chose no window.
func (e *Engine) Select(ctx context.Context, snap *window.Snapshot) (*window.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || e.selector == nil {
		return nil, ErrNoSelector
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	e.state.SetContext(ctx)
	defer e.state.RemoveContext()

	arg := snapshotTable(e.state, snap)
	if err := e.state.CallByParam(lua.P{Fn: e.selector, NRet: 1, Protect: true}, arg); err != nil {
		return nil, fmt.Errorf("selector failed: %w", err)
	}
	ret := e.state.Get(-1)
	e.state.Pop(1)

	return decodeRecord(ret)
}

// Close releases the Lua state. Safe to call more than once.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.selector = nil
	e.state.Close()
}
