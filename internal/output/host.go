package output

import (
	"image"
	"sync"
	"sync/atomic"

	"golang.org/x/image/draw"

	"github.com/bryanchriswhite/wincat/internal/capture"
	"github.com/bryanchriswhite/wincat/internal/logger"
)

// Config bounds the preview size; frames are scaled down to fit.
type Config struct {
	Width  int
	Height int
	FPS    int
}

// DefaultConfig bounds previews to 1280x720.
func DefaultConfig() Config {
	return Config{Width: 1280, Height: 720, FPS: 30}
}

// Host owns the process-wide graphics lock and one MJPEG stream per source.
// Frames are handed over under the lock and encoded afterwards on the
// stream's own goroutine, so the lock is held only for the submission.
type Host struct {
	config Config
	gfx    sync.Mutex

	mu      sync.RWMutex
	streams map[string]*Stream
}

// NewHost creates an empty host.
func NewHost(config Config) *Host {
	if config.Width <= 0 || config.Height <= 0 {
		d := DefaultConfig()
		config.Width, config.Height = d.Width, d.Height
	}
	return &Host{
		config:  config,
		streams: make(map[string]*Stream),
	}
}

// Sink returns the capture sink for sourceID, creating and starting its
// stream on first use.
func (h *Host) Sink(sourceID string) capture.Sink {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s, ok := h.streams[sourceID]; ok {
		return s
	}

	s := newStream(h, sourceID)
	h.streams[sourceID] = s
	return s
}

// Output returns the MJPEG output for sourceID.
func (h *Host) Output(sourceID string) (*MJPEGOutput, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.streams[sourceID]
	if !ok {
		return nil, false
	}
	return s.out, true
}

// Remove stops and forgets the stream for sourceID.
func (h *Host) Remove(sourceID string) {
	h.mu.Lock()
	s, ok := h.streams[sourceID]
	delete(h.streams, sourceID)
	h.mu.Unlock()

	if ok {
		s.close()
	}
}

// Close stops every stream.
func (h *Host) Close() {
	h.mu.Lock()
	streams := h.streams
	h.streams = make(map[string]*Stream)
	h.mu.Unlock()

	for _, s := range streams {
		s.close()
	}
}

// SetLabel sets the caption drawn on sourceID's preview. An empty label
// draws nothing.
func (h *Host) SetLabel(sourceID, label string) {
	h.mu.RLock()
	s, ok := h.streams[sourceID]
	h.mu.RUnlock()

	if ok {
		s.label.Store(&label)
	}
}

// Stream is a per-source capture.Sink feeding an MJPEGOutput.
type Stream struct {
	host    *Host
	id      string
	out     *MJPEGOutput
	label   atomic.Pointer[string]
	pending atomic.Pointer[capture.Frame]
	wake    chan struct{}
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newStream(h *Host, id string) *Stream {
	s := &Stream{
		host: h,
		id:   id,
		out:  NewMJPEGOutput(id, h.config),
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	if err := s.out.Start(); err != nil {
		logger.WithSource("output", id).Warn().Err(err).Msg("Failed to start MJPEG output")
	}
	go s.encode()
	return s
}

// EnterGraphics takes the host graphics lock.
func (s *Stream) EnterGraphics() { s.host.gfx.Lock() }

// LeaveGraphics releases the host graphics lock.
func (s *Stream) LeaveGraphics() { s.host.gfx.Unlock() }

// OutputVideo queues f for encoding, replacing any frame not yet encoded.
func (s *Stream) OutputVideo(f *capture.Frame) {
	if f == nil {
		return
	}
	s.pending.Store(f)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Stream) encode() {
	defer close(s.done)
	log := logger.WithSource("output", s.id)

	for {
		select {
		case <-s.quit:
			return
		case <-s.wake:
		}

		f := s.pending.Swap(nil)
		if f == nil {
			continue
		}
		img := ToRGBA(f)
		if img == nil {
			continue
		}
		img = fit(img, s.host.config.Width, s.host.config.Height)
		if label := s.label.Load(); label != nil {
			drawLabel(img, *label)
		}
		if err := s.out.WriteFrame(img); err != nil {
			log.Debug().Err(err).Msg("Dropped frame")
		}
	}
}

func (s *Stream) close() {
	s.once.Do(func() {
		close(s.quit)
		<-s.done
		if err := s.out.Stop(); err != nil {
			logger.WithSource("output", s.id).Warn().Err(err).Msg("Failed to stop MJPEG output")
		}
	})
}

// ToRGBA converts a BGRA frame into a new RGBA image. It returns nil for an
// empty or truncated frame.
func ToRGBA(f *capture.Frame) *image.RGBA {
	if f == nil || f.Width <= 0 || f.Height <= 0 || f.Format != capture.FormatBGRA {
		return nil
	}
	stride := f.Linesize
	if stride <= 0 {
		stride = f.Width * 4
	}
	if len(f.Data) < stride*(f.Height-1)+f.Width*4 {
		return nil
	}

	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		src := f.Data[y*stride : y*stride+f.Width*4]
		dst := img.Pix[y*img.Stride : y*img.Stride+f.Width*4]
		for x := 0; x < len(src); x += 4 {
			dst[x] = src[x+2]
			dst[x+1] = src[x+1]
			dst[x+2] = src[x]
			dst[x+3] = src[x+3]
		}
	}
	return img
}

// fit scales img down to fit within maxW x maxH, keeping its aspect ratio.
func fit(img *image.RGBA, maxW, maxH int) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxW && h <= maxH {
		return img
	}

	scale := float64(maxW) / float64(w)
	if s := float64(maxH) / float64(h); s < scale {
		scale = s
	}
	nw := max(1, int(float64(w)*scale))
	nh := max(1, int(float64(h)*scale))

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
