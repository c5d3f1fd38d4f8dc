// Package capture owns the capture resources bound to individual windows:
// the platform backends that produce frames, the Session wrapper the
// selection worker starts and stops, the per-source Cell that holds it and
// the Registry used to force-stop everything at module teardown.
package capture

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/wincat/internal/signal"
	"github.com/bryanchriswhite/wincat/internal/window"
)

var (
	// ErrWindowGone means the bound window no longer exists.
	ErrWindowGone = errors.New("window no longer exists")
	// ErrBindTimeout means the backend produced no first frame in time.
	ErrBindTimeout = errors.New("timed out binding capture to window")
)

// PixelFormat identifies the layout of Frame.Data.
type PixelFormat int

const (
	// FormatBGRA is 8-bit blue, green, red, alpha; the only format produced.
	FormatBGRA PixelFormat = iota
)

func (f PixelFormat) String() string {
	switch f {
	case FormatBGRA:
		return "BGRA"
	default:
		return "unknown"
	}
}

// Frame is one captured picture.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Linesize  int
	Timestamp int64 // milliseconds
	Format    PixelFormat
}

// Sink is the host's frame submission entry point. OutputVideo must only be
// called between EnterGraphics and LeaveGraphics.
type Sink interface {
	EnterGraphics()
	LeaveGraphics()
	OutputVideo(f *Frame)
}

// Deliver submits f to sink while holding the host graphics lock.
func Deliver(sink Sink, f *Frame) {
	sink.EnterGraphics()
	defer sink.LeaveGraphics()
	sink.OutputVideo(f)
}

// Options are the per-source capture settings.
type Options struct {
	Cursor      bool          `json:"cursor"`
	Borders     bool          `json:"borders"`
	ClientArea  bool          `json:"client_area"`
	ForceSDR    bool          `json:"force_sdr"`
	FPS         int           `json:"fps"`
	BindTimeout time.Duration `json:"bind_timeout"`
}

// DefaultOptions returns the options a new source starts with.
func DefaultOptions() Options {
	return Options{
		Cursor:      true,
		FPS:         30,
		BindTimeout: 2 * time.Second,
	}
}

func (o Options) interval() time.Duration {
	if o.FPS <= 0 {
		return time.Second / 30
	}
	return time.Second / time.Duration(o.FPS)
}

func (o Options) bindTimeout() time.Duration {
	if o.BindTimeout <= 0 {
		return 2 * time.Second
	}
	return o.BindTimeout
}

// Resource is a running capture of one window.
type Resource interface {
	Width() int
	Height() int
	// Done is signaled once the resource stops producing frames, whether it
	// was stopped or the window went away.
	Done() signal.Listener
	Stop() error
}

// Backend starts capture resources. Start must not block longer than the
// options' bind timeout.
type Backend interface {
	Start(win window.Handle, opts Options, sink Sink) (Resource, error)
	Name() string
}

var liveResources atomic.Int64

// Count returns the number of capture resources started and not yet stopped.
func Count() int {
	return int(liveResources.Load())
}
