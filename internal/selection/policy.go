package selection

import "github.com/bryanchriswhite/wincat/internal/window"

// SessionView is what the refresh policy needs to know about the current
// capture session.
type SessionView interface {
	Window() window.Handle
	ProcessID() uint32
	// TakeForceUpdate reports whether a rebuild was requested and clears the request.
	TakeForceUpdate() bool
}

// ShouldRefresh decides whether the capture must be (re)started for the
// selected window. session is nil when nothing is being captured; trigger
// is window.NoHandle for a poke. The only side effect is consuming the
// session's force-update request.
//
// A trigger other than the selected window forces a rebuild only when it
// belongs to the captured process and is a visible, titled window: the
// application most likely replaced its top-level window.
func ShouldRefresh(session SessionView, trigger, selected window.Handle, inspect window.Inspector) bool {
	if session == nil {
		return true
	}
	if selected != session.Window() {
		return true
	}
	if session.TakeForceUpdate() {
		return true
	}
	if trigger == window.NoHandle || trigger == selected {
		return false
	}

	pid, ok := inspect.ProcessID(trigger)
	if !ok || pid != session.ProcessID() {
		return false
	}
	return inspect.IsVisible(trigger) && inspect.Title(trigger) != ""
}
