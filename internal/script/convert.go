package script

import (
	"fmt"

	"github.com/bryanchriswhite/wincat/internal/window"
	lua "github.com/yuin/gopher-lua"
)

// snapshotTable builds the array of process tables handed to selectors.
// Field names match the JSON form of window.Process.
func snapshotTable(L *lua.LState, snap *window.Snapshot) *lua.LTable {
	if snap == nil {
		return L.NewTable()
	}
	procs := L.CreateTable(len(snap.Processes), 0)
	for i := range snap.Processes {
		p := &snap.Processes[i]

		pt := L.CreateTable(0, 4)
		pt.RawSetString("name", lua.LString(p.Name))
		pt.RawSetString("pid", lua.LNumber(p.PID))
		if p.Main != nil {
			pt.RawSetString("main", recordTable(L, p.Main))
		}

		wins := L.CreateTable(len(p.Windows), 0)
		for j := range p.Windows {
			wins.Append(recordTable(L, &p.Windows[j]))
		}
		pt.RawSetString("windows", wins)

		procs.Append(pt)
	}
	return procs
}

func recordTable(L *lua.LState, r *window.Record) *lua.LTable {
	t := L.CreateTable(0, 8)
	t.RawSetString("title", lua.LString(r.Title))
	t.RawSetString("class_name", lua.LString(r.ClassName))
	t.RawSetString("hwnd", lua.LNumber(r.Handle))
	t.RawSetString("visible", lua.LBool(r.Visible))
	t.RawSetString("x", lua.LNumber(r.X))
	t.RawSetString("y", lua.LNumber(r.Y))
	t.RawSetString("width", lua.LNumber(r.Width))
	t.RawSetString("height", lua.LNumber(r.Height))
	return t
}

// decodeRecord turns a selector result back into a Record. nil and false
// mean no selection; a table needs at least a non-zero hwnd.
func decodeRecord(v lua.LValue) (*window.Record, error) {
	switch v.Type() {
	case lua.LTNil:
		return nil, nil
	case lua.LTBool:
		if !lua.LVAsBool(v) {
			return nil, nil
		}
	case lua.LTTable:
		return tableRecord(v.(*lua.LTable))
	}
	return nil, fmt.Errorf("selector returned %s, expected a window table or nil", v.Type())
}

func tableRecord(t *lua.LTable) (*window.Record, error) {
	hwnd, ok := t.RawGetString("hwnd").(lua.LNumber)
	if !ok || hwnd <= 0 {
		return nil, fmt.Errorf("selected window has no valid hwnd")
	}

	r := &window.Record{
		Handle:    window.Handle(uint64(hwnd)),
		Title:     lua.LVAsString(t.RawGetString("title")),
		ClassName: lua.LVAsString(t.RawGetString("class_name")),
		Visible:   lua.LVAsBool(t.RawGetString("visible")),
	}
	r.X = int(lua.LVAsNumber(t.RawGetString("x")))
	r.Y = int(lua.LVAsNumber(t.RawGetString("y")))
	r.Width = int(lua.LVAsNumber(t.RawGetString("width")))
	r.Height = int(lua.LVAsNumber(t.RawGetString("height")))
	return r, nil
}
