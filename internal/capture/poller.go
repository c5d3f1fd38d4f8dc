package capture

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/wincat/internal/logger"
	"github.com/bryanchriswhite/wincat/internal/signal"
)

// maxGrabFailures is how many consecutive failed grabs end a capture.
const maxGrabFailures = 60

// grabFunc returns the next frame. A nil frame with a nil error means there
// is nothing to show right now (e.g. the window is minimized).
type grabFunc func() (*Frame, error)

// poller turns a grabFunc into a Resource: it grabs at the configured frame
// rate on its own goroutine and delivers every frame to the sink.
type poller struct {
	backend string
	grab    grabFunc
	release func() error
	sink    Sink

	width  atomic.Int32
	height atomic.Int32

	done     *signal.Holder
	stopCh   chan struct{}
	exited   chan struct{}
	stopOnce sync.Once
	stopErr  error
}

// releaseUnbound frees the resources of a capture that never started. No
// caller is left to return the error to.
func releaseUnbound(backend string, release func() error) {
	if err := release(); err != nil {
		logger.WithComponent("capture").Warn().
			Err(err).
			Str("backend", backend).
			Msg("Failed to release unbound capture")
	}
}

func startPoller(backend string, grab grabFunc, release func() error, sink Sink, opts Options) (*poller, error) {
	type result struct {
		frame *Frame
		err   error
	}
	first := make(chan result, 1)
	go func() {
		f, err := grab()
		first <- result{f, err}
	}()

	var r result
	select {
	case r = <-first:
	case <-time.After(opts.bindTimeout()):
		// The grab is still in flight; release once it returns.
		go func() {
			<-first
			releaseUnbound(backend, release)
		}()
		return nil, ErrBindTimeout
	}
	if r.err != nil {
		releaseUnbound(backend, release)
		return nil, fmt.Errorf("%s: first frame: %w", backend, r.err)
	}

	p := &poller{
		backend: backend,
		grab:    grab,
		release: release,
		sink:    sink,
		done:    signal.New(),
		stopCh:  make(chan struct{}),
		exited:  make(chan struct{}),
	}
	liveResources.Add(1)

	if r.frame != nil {
		p.deliver(r.frame)
	}
	go p.run(opts.interval())
	return p, nil
}

func (p *poller) run(interval time.Duration) {
	defer close(p.exited)
	defer p.done.Signal()

	log := logger.WithComponent("capture")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
		}

		f, err := p.grab()
		if err != nil {
			if errors.Is(err, ErrWindowGone) {
				log.Info().Str("backend", p.backend).Msg("Captured window went away")
				return
			}
			failures++
			if failures == 1 {
				log.Warn().Err(err).Str("backend", p.backend).Msg("Frame grab failed")
			}
			if failures >= maxGrabFailures {
				log.Warn().Err(err).Str("backend", p.backend).Int("failures", failures).
					Msg("Giving up on capture")
				return
			}
			continue
		}
		failures = 0
		if f != nil {
			p.deliver(f)
		}
	}
}

func (p *poller) deliver(f *Frame) {
	p.width.Store(int32(f.Width))
	p.height.Store(int32(f.Height))
	Deliver(p.sink, f)
}

func (p *poller) Width() int  { return int(p.width.Load()) }
func (p *poller) Height() int { return int(p.height.Load()) }

func (p *poller) Done() signal.Listener {
	return p.done.Listener()
}

// Stop ends the grab loop and releases the backend resources. Only the
// first call does anything.
func (p *poller) Stop() error {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		<-p.exited
		p.stopErr = p.release()
		p.done.Release()
		liveResources.Add(-1)
	})
	return p.stopErr
}
