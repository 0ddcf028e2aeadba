// Package video relays the tank camera as an MJPEG stream.
package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"ttufish/tank-monitor/internal/metrics"
)

const (
	jpegQuality   = 80
	readPause     = 10 * time.Millisecond
	retryPause    = 100 * time.Millisecond
	serveInterval = 50 * time.Millisecond
	boundary      = "frame"
	stampLayout   = "2006-01-02 15:04:05"
)

var stampZone = time.FixedZone("UTC+8", 8*60*60)

// ErrClosed is returned once the relay has been shut down.
var ErrClosed = errors.New("video relay closed")

// Relay keeps the latest camera frame and serves it to any number of
// viewers. The source is opened on the first viewer, using the URL current
// at that moment, and read by a single background loop.
type Relay struct {
	open    Opener
	url     func() string
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	startMu sync.Mutex
	started bool
	closed  bool
	source  FrameSource
	cancel  context.CancelFunc
	done    chan struct{}

	mu    sync.Mutex
	frame image.Image
}

// NewRelay returns an idle Relay. url is consulted on the first Start.
func NewRelay(open Opener, url func() string, logger *slog.Logger, m *metrics.Metrics) *Relay {
	return &Relay{
		open:    open,
		url:     url,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Start opens the source and launches the refresh loop if that has not
// happened yet. A failed open is retried on the next call.
func (r *Relay) Start() error {
	r.startMu.Lock()
	defer r.startMu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if r.started {
		return nil
	}

	url := r.url()
	src, err := r.open(url)
	if err != nil {
		return fmt.Errorf("open video source: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.source = src
	r.cancel = cancel
	r.done = make(chan struct{})
	r.started = true
	r.logger.Info("video source opened", "url", url)

	go r.refresh(ctx, src, r.done)
	return nil
}

// refresh reads frames until ctx is cancelled. Read errors are retried on
// the same source after a short pause.
func (r *Relay) refresh(ctx context.Context, src FrameSource, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}

		img, err := src.ReadFrame()
		if err == nil {
			r.mu.Lock()
			r.frame = img
			r.mu.Unlock()
		} else if !sleepCtx(ctx, retryPause) {
			return
		}

		if !sleepCtx(ctx, readPause) {
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// EncodeFrame returns the latest frame as a timestamped JPEG, or nil if no
// frame has been read yet.
func (r *Relay) EncodeFrame() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frame == nil {
		return nil
	}

	b := r.frame.Bounds()
	canvas := image.NewRGBA(b)
	draw.Draw(canvas, b, r.frame, b.Min, draw.Src)
	drawStamp(canvas, r.now().In(stampZone).Format(stampLayout))

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: jpegQuality}); err != nil {
		r.logger.Warn("encode frame failed", "error", err)
		return nil
	}
	return buf.Bytes()
}

func drawStamp(img *image.RGBA, label string) {
	const pad = 4
	b := img.Bounds()
	face := basicfont.Face7x13
	w := len(label)*face.Advance + 2*pad
	h := face.Height + 2*pad

	bg := image.Rect(b.Min.X, b.Min.Y, b.Min.X+w, b.Min.Y+h).Intersect(b)
	draw.Draw(img, bg, image.NewUniform(color.RGBA{A: 160}), image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: face,
		Dot:  fixed.P(b.Min.X+pad, b.Min.Y+pad+face.Ascent),
	}
	d.DrawString(label)
}

// ServeHTTP streams frames as multipart/x-mixed-replace until the client
// goes away.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if err := r.Start(); err != nil {
		r.logger.Error("video relay unavailable", "error", err)
		http.Error(w, "video source unavailable", http.StatusServiceUnavailable)
		return
	}

	flusher, _ := w.(http.Flusher)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if flusher != nil {
		flusher.Flush()
	}

	r.metrics.VideoClientDelta(1)
	defer r.metrics.VideoClientDelta(-1)

	ticker := time.NewTicker(serveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
			frame := r.EncodeFrame()
			if frame == nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\n\r\n", boundary); err != nil {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			if _, err := w.Write([]byte("\r\n")); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

// Close stops the refresh loop and releases the source.
func (r *Relay) Close() error {
	r.startMu.Lock()
	defer r.startMu.Unlock()

	r.closed = true
	if !r.started {
		return nil
	}

	r.cancel()

	var err error
	if in, ok := r.source.(Interrupter); ok {
		// The reader must be gone before the source is reaped.
		if ierr := in.Interrupt(); ierr != nil {
			r.logger.Warn("interrupt video source", "error", ierr)
		}
		<-r.done
		err = r.source.Close()
	} else {
		err = r.source.Close()
		<-r.done
	}
	r.started = false
	return err
}
