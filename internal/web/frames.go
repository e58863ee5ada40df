package web

import (
	"context"
	"sync"

	"github.com/cjeanneret/unicam/internal/debug"
	"github.com/cjeanneret/unicam/internal/logic/geometry"
	"github.com/cjeanneret/unicam/internal/logic/preview"
	"github.com/cjeanneret/unicam/internal/render"
)

// FrameHub holds the latest encoded preview frame and hands every new one
// to the websocket clients. Each client buffers one frame: a slow client
// skips frames instead of slowing the others down.
type FrameHub struct {
	mu      sync.Mutex
	latest  []byte
	seq     uint64
	clients map[chan []byte]struct{}
}

// NewFrameHub creates an empty hub.
func NewFrameHub() *FrameHub {
	return &FrameHub{clients: make(map[chan []byte]struct{})}
}

// Publish stores jpeg as the latest frame and offers it to every client.
func (h *FrameHub) Publish(jpeg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = jpeg
	h.seq++
	for ch := range h.clients {
		select {
		case <-ch:
		default:
		}
		ch <- jpeg
	}
}

// Latest returns the most recent frame and its sequence number, 0 when
// nothing was published yet.
func (h *FrameHub) Latest() ([]byte, uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest, h.seq
}

// Subscribe registers a client. The cleanup function must be called when
// the client goes away.
func (h *FrameHub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 1)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.clients, ch)
			h.mu.Unlock()
		})
	}
}

// Clients returns the number of subscribed clients.
func (h *FrameHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Streamer renders preview frames through the display transform and
// publishes them as JPEG.
type Streamer struct {
	Hub       *FrameHub
	Transform geometry.Transform
	Canvas    render.Canvas
	Quality   int
}

// Run consumes frames until the channel is closed or ctx is done.
func (s *Streamer) Run(ctx context.Context, frames <-chan preview.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				debug.Verbose("web: preview stream ended")
				return
			}
			data, err := render.FrameJPEG(f, s.Transform, s.Canvas, s.Quality)
			if err != nil {
				debug.Drop("web: frame %d: %v", f.Seq, err)
				continue
			}
			s.Hub.Publish(data)
		}
	}
}
