package output

import (
	"bufio"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bryanchriswhite/wincat/internal/capture"
)

func bgraFrame(w, h int, b, g, r, a byte) *capture.Frame {
	data := make([]byte, w*h*4)
	for i := 0; i < len(data); i += 4 {
		data[i], data[i+1], data[i+2], data[i+3] = b, g, r, a
	}
	return &capture.Frame{Data: data, Width: w, Height: h, Linesize: w * 4, Format: capture.FormatBGRA}
}

func TestToRGBASwapsChannels(t *testing.T) {
	img := ToRGBA(bgraFrame(2, 2, 10, 20, 30, 255))
	if img == nil {
		t.Fatal("expected image")
	}
	c := img.RGBAAt(1, 1)
	if c.R != 30 || c.G != 20 || c.B != 10 || c.A != 255 {
		t.Fatalf("unexpected pixel %+v", c)
	}
}

func TestToRGBAHonorsLinesize(t *testing.T) {
	f := bgraFrame(1, 2, 0, 0, 0, 0)
	f.Data = []byte{1, 2, 3, 4, 9, 9, 9, 9, 5, 6, 7, 8}
	f.Linesize = 8
	img := ToRGBA(f)
	if img == nil {
		t.Fatal("expected image")
	}
	if c := img.RGBAAt(0, 1); c.R != 7 || c.B != 5 {
		t.Fatalf("row 1 read from wrong offset: %+v", c)
	}
}

func TestToRGBARejectsBadFrames(t *testing.T) {
	if ToRGBA(nil) != nil {
		t.Fatal("nil frame should convert to nil")
	}
	f := bgraFrame(4, 4, 0, 0, 0, 0)
	f.Data = f.Data[:10]
	if ToRGBA(f) != nil {
		t.Fatal("truncated frame should convert to nil")
	}
	if ToRGBA(&capture.Frame{}) != nil {
		t.Fatal("empty frame should convert to nil")
	}
}

func TestFitKeepsAspect(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 400, 100))
	out := fit(img, 200, 200)
	if out.Bounds().Dx() != 200 || out.Bounds().Dy() != 50 {
		t.Fatalf("got %v", out.Bounds())
	}
	small := image.NewRGBA(image.Rect(0, 0, 10, 10))
	if fit(small, 200, 200) != small {
		t.Fatal("image within bounds should be returned as is")
	}
}

func TestHostSinkPerSource(t *testing.T) {
	h := NewHost(Config{Width: 64, Height: 64})
	defer h.Close()

	a := h.Sink("a")
	if h.Sink("a") != a {
		t.Fatal("expected same sink for same source")
	}
	if h.Sink("b") == a {
		t.Fatal("expected distinct sinks per source")
	}
	if _, ok := h.Output("c"); ok {
		t.Fatal("unknown source should have no output")
	}

	h.Remove("a")
	if _, ok := h.Output("a"); ok {
		t.Fatal("removed source should have no output")
	}
}

func TestHostEncodesDeliveredFrames(t *testing.T) {
	h := NewHost(Config{Width: 8, Height: 8})
	defer h.Close()

	sink := h.Sink("src")
	capture.Deliver(sink, bgraFrame(16, 8, 0, 0, 255, 255))

	out, ok := h.Output("src")
	if !ok {
		t.Fatal("expected output")
	}
	deadline := time.Now().Add(2 * time.Second)
	for out.CurrentFrame() == nil {
		if time.Now().After(deadline) {
			t.Fatal("frame was never encoded")
		}
		time.Sleep(5 * time.Millisecond)
	}
	b := out.CurrentFrame().Bounds()
	if b.Dx() != 8 || b.Dy() != 4 {
		t.Fatalf("frame not scaled to fit: %v", b)
	}
	if st := out.Stats(); st.Frames != 1 || !st.Running {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestGraphicsLockIsShared(t *testing.T) {
	h := NewHost(Config{Width: 8, Height: 8})
	defer h.Close()

	a, b := h.Sink("a"), h.Sink("b")
	a.EnterGraphics()

	entered := make(chan struct{})
	go func() {
		b.EnterGraphics()
		close(entered)
		b.LeaveGraphics()
	}()

	select {
	case <-entered:
		t.Fatal("second sink entered while lock held")
	case <-time.After(50 * time.Millisecond):
	}
	a.LeaveGraphics()

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("second sink never entered")
	}
}

func TestMJPEGStreamHandler(t *testing.T) {
	m := NewMJPEGOutput("src", Config{Width: 8, Height: 8})
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	srv := httptest.NewServer(m.GetHTTPHandler())
	defer srv.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		img := image.NewRGBA(image.Rect(0, 0, 4, 4))
		for {
			select {
			case <-stop:
				return
			case <-time.After(10 * time.Millisecond):
				_ = m.WriteFrame(img)
			}
		}
	}()

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Fatalf("unexpected content type %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	for i := 0; i < 4; i++ {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if strings.HasPrefix(line, "Content-Type: image/jpeg") {
			return
		}
	}
	t.Fatal("no jpeg part header in stream")
}

func TestWriteFrameRequiresRunning(t *testing.T) {
	m := NewMJPEGOutput("src", Config{})
	if err := m.WriteFrame(image.NewRGBA(image.Rect(0, 0, 1, 1))); err == nil {
		t.Fatal("expected error when not running")
	}
}

func TestDrawLabelPaintsCorner(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	drawLabel(img, "term")

	if img.RGBAAt(1, 1).A == 0 {
		t.Fatal("label background not drawn")
	}
	if c := img.RGBAAt(199, 99); c.A != 0 {
		t.Fatalf("label bled into far corner: %+v", c)
	}

	small := image.NewRGBA(image.Rect(0, 0, 4, 4))
	drawLabel(small, "a label wider than the image")
}
