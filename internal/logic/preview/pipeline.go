// Package preview turns the images of a camera reader into a stream of
// RGBA frames for the UI.
package preview

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/unicam/internal/debug"
	"github.com/cjeanneret/unicam/internal/hw/camera"
	"github.com/cjeanneret/unicam/internal/logic/convert"
	"github.com/cjeanneret/unicam/internal/logic/geometry"
)

// DefaultQueueDepth is the number of frames kept for a slow consumer.
const DefaultQueueDepth = 2

// Frame is one converted preview image. Data is packed RGBA, Width*Height*4
// bytes, owned by the receiver.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Data      []byte
	TraceID   uuid.UUID
}

// Config tunes a pipeline.
type Config struct {
	Plan        geometry.Plan
	QueueDepth  int           // frames buffered before the oldest is dropped
	Workers     int           // converter goroutines, <= 0 means one per CPU
	MinInterval time.Duration // frames closer than this to the last one are dropped
}

// Stats counts what happened to the images of the reader.
type Stats struct {
	Received  uint64 // image-available callbacks
	Published uint64
	Dropped   uint64 // evicted from a full queue
	Throttled uint64 // closer than MinInterval to the previous frame
	NoBuffer  uint64 // callback found nothing to acquire
	Failed    uint64 // conversion errors
}

// raw is a frame copied out of a reader buffer.
type raw struct {
	format camera.PixelFormat
	width  int
	height int
	ts     time.Time
	planes []camera.Plane
}

// Pipeline acquires, converts and publishes preview frames. Image callbacks
// run on the camera looper; frames are read from Frames.
type Pipeline struct {
	reader camera.ImageReader
	cfg    Config
	toRGBA func(raw) ([]byte, error)

	mu     sync.Mutex
	closed bool
	frames chan Frame
	seq    uint64
	last   time.Time
	stats  Stats
}

// New subscribes a pipeline to reader. Callbacks are delivered on looper.
func New(reader camera.ImageReader, looper *camera.Looper, cfg Config) *Pipeline {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	p := &Pipeline{
		reader: reader,
		cfg:    cfg,
		frames: make(chan Frame, cfg.QueueDepth),
	}
	p.toRGBA = p.convert
	reader.SetOnImageAvailable(p.onImageAvailable, looper)
	return p
}

// Frames returns the frame stream. It is closed by Close.
func (p *Pipeline) Frames() <-chan Frame { return p.frames }

// PixelSize returns the size of the preview buffers in pixels.
func (p *Pipeline) PixelSize() camera.Size { return p.reader.Size() }

// Size returns the size of the preview buffers in dp.
func (p *Pipeline) Size() geometry.RequestedSize { return p.cfg.Plan.Size }

// Transform returns the transform a renderer applies to every frame.
func (p *Pipeline) Transform() geometry.Transform { return p.cfg.Plan.Transform }

// Plan returns the negotiation the pipeline was built from.
func (p *Pipeline) Plan() geometry.Plan { return p.cfg.Plan }

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Pipeline) count(fn func(*Stats)) {
	p.mu.Lock()
	fn(&p.stats)
	p.mu.Unlock()
}

func (p *Pipeline) onImageAvailable() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.stats.Received++
	p.mu.Unlock()

	img, err := p.reader.AcquireLatestImage()
	if err != nil {
		if errors.Is(err, camera.ErrNoBuffer) {
			p.count(func(s *Stats) { s.NoBuffer++ })
			debug.Drop("preview: %v", err)
			return
		}
		if errors.Is(err, camera.ErrClosed) {
			return
		}
		debug.Error(fmt.Errorf("preview: acquire image: %w", err))
		return
	}

	ts := img.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	if p.throttled(ts) {
		img.Close()
		p.count(func(s *Stats) { s.Throttled++ })
		return
	}

	// Release the pool buffer before converting.
	r := raw{format: img.Format, width: img.Width, height: img.Height, ts: ts, planes: copyPlanes(img.Planes)}
	img.Close()

	rgba, err := p.toRGBA(r)
	if err != nil {
		p.count(func(s *Stats) { s.Failed++ })
		debug.Error(fmt.Errorf("preview: convert %s frame: %w", r.format, err))
		return
	}
	p.publish(r, rgba)
}

// throttled reports whether a frame at ts comes too soon after the last one.
func (p *Pipeline) throttled(ts time.Time) bool {
	if p.cfg.MinInterval <= 0 {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.last.IsZero() && ts.Sub(p.last) < p.cfg.MinInterval {
		return true
	}
	p.last = ts
	return false
}

func copyPlanes(planes []camera.Plane) []camera.Plane {
	out := make([]camera.Plane, len(planes))
	for i, pl := range planes {
		out[i] = camera.Plane{
			Data:        append([]byte(nil), pl.Data...),
			RowStride:   pl.RowStride,
			PixelStride: pl.PixelStride,
		}
	}
	return out
}

func (p *Pipeline) convert(r raw) ([]byte, error) {
	switch r.format {
	case camera.FormatYUV420:
		if len(r.planes) != 3 {
			return nil, fmt.Errorf("%w: %d planes, want 3", convert.ErrInvalidFrame, len(r.planes))
		}
		return convert.YUV420ToRGBA(convert.YUV420{
			Y:             r.planes[0].Data,
			U:             r.planes[1].Data,
			V:             r.planes[2].Data,
			Width:         r.width,
			Height:        r.height,
			YRowStride:    r.planes[0].RowStride,
			UVRowStride:   r.planes[1].RowStride,
			UVPixelStride: r.planes[1].PixelStride,
		}, p.cfg.Workers)
	case camera.FormatBGRA:
		if len(r.planes) != 1 {
			return nil, fmt.Errorf("%w: %d planes, want 1", convert.ErrInvalidFrame, len(r.planes))
		}
		return convert.BGRAToRGBA(r.planes[0].Data, r.width, r.height, p.cfg.Workers)
	default:
		return nil, fmt.Errorf("%w: format %s", camera.ErrUnsupported, r.format)
	}
}

// publish queues a frame, evicting the oldest one when the queue is full.
func (p *Pipeline) publish(r raw, rgba []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.seq++
	f := Frame{
		Seq:       p.seq,
		Timestamp: r.ts,
		Width:     r.width,
		Height:    r.height,
		Data:      rgba,
		TraceID:   uuid.New(),
	}
	for {
		select {
		case p.frames <- f:
			p.stats.Published++
			debug.Frame(f.Seq, f.Width, f.Height, len(f.Data))
			return
		default:
		}
		select {
		case old := <-p.frames:
			p.stats.Dropped++
			debug.Drop("preview: queue full, dropped frame %d", old.Seq)
		default:
		}
	}
}

// Close stops the pipeline and closes the reader. Frames already queued
// stay readable until the channel is drained.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.frames)
	stats := p.stats
	p.mu.Unlock()

	p.reader.SetOnImageAvailable(nil, nil)
	debug.Verbose("preview: closed after %d frames (%d dropped, %d throttled)", stats.Published, stats.Dropped, stats.Throttled)
	return p.reader.Close()
}
