package web

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"

	"github.com/cjeanneret/unicam/internal/debug"
	"github.com/cjeanneret/unicam/internal/hw/camera"
	"github.com/cjeanneret/unicam/internal/logic/capture"
	"github.com/cjeanneret/unicam/internal/logic/geometry"
	"github.com/cjeanneret/unicam/internal/logic/preview"
)

// Camera takes still pictures. *capture.Camera implements it.
type Camera interface {
	TakePicture(ctx context.Context) ([]byte, error)
}

// SaveFunc stores a picture and returns where it went.
type SaveFunc func(jpeg []byte) (string, error)

// PreviewInfo describes the running preview for GET /config.
type PreviewInfo struct {
	Camera    string                 `json:"camera"`
	Driver    string                 `json:"driver"`
	PixelSize camera.Size            `json:"pixel_size"`
	SizeDp    geometry.RequestedSize `json:"size_dp"`
	Rotation  int                    `json:"rotation_deg"`
	Transform geometry.Transform     `json:"transform"`
	Stats     preview.Stats          `json:"stats"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Frames      *FrameHub
	Camera      Camera
	Save        SaveFunc
	Info        func() PreviewInfo

	upgrader  websocket.Upgrader
	runningMu sync.Mutex
	running   bool
	staticFS  fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If cam is nil, POST /capture returns 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, frames *FrameHub, cam Camera, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Frames:      frames,
		Camera:      cam,
		staticFS:    staticFS,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
		},
	}
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleConfig returns the preview geometry and pipeline counters as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	if h.Info == nil {
		http.Error(w, "preview not running", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.Info())
}

// captureStatus maps a TakePicture error to an HTTP status.
func captureStatus(err error) int {
	switch {
	case errors.Is(err, capture.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, capture.ErrCaptureInProgress):
		return http.StatusConflict
	case errors.Is(err, capture.ErrNotOpen), errors.Is(err, capture.ErrClosed), errors.Is(err, capture.ErrDeviceBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// HandleCapture handles POST /capture: it takes one picture and answers
// with the JPEG. Only one capture runs at a time.
func (h *Handlers) HandleCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Camera == nil {
		http.Error(w, "camera not configured", http.StatusServiceUnavailable)
		return
	}

	h.runningMu.Lock()
	if h.running {
		h.runningMu.Unlock()
		http.Error(w, "capture already in progress", http.StatusConflict)
		return
	}
	h.running = true
	h.runningMu.Unlock()
	defer func() {
		h.runningMu.Lock()
		h.running = false
		h.runningMu.Unlock()
	}()

	h.Broadcaster.Broadcast("info", "Taking picture")
	start := time.Now()
	data, err := h.Camera.TakePicture(r.Context())
	if err != nil {
		debug.Error(err)
		h.Broadcaster.Broadcast("error", "Capture failed: "+err.Error())
		http.Error(w, err.Error(), captureStatus(err))
		return
	}

	msg := "Picture taken: " + humanize.Bytes(uint64(len(data))) + " in " + time.Since(start).Round(time.Millisecond).String()
	if h.Save != nil {
		path, err := h.Save(data)
		if err != nil {
			debug.Error(err)
			h.Broadcaster.Broadcast("error", "Save failed: "+err.Error())
		} else {
			w.Header().Set("X-Saved-As", path)
			msg += ", saved to " + path
		}
	}
	h.Broadcaster.Broadcast("info", msg)

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

// HandlePreviewJPEG handles GET /preview.jpg with the latest rendered frame.
func (h *Handlers) HandlePreviewJPEG(w http.ResponseWriter, r *http.Request) {
	data, seq := h.Frames.Latest()
	if seq == 0 {
		http.Error(w, "no preview frame yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Seq", strconv.FormatUint(seq, 10))
	w.Write(data)
}

// HandlePreviewWS handles GET /preview/ws: every rendered frame is sent
// to the client as a binary JPEG message.
func (h *Handlers) HandlePreviewWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Verbose("web: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()
	debug.Live("web: preview client %s connected", r.RemoteAddr)

	frames, unsub := h.Frames.Subscribe()
	defer unsub()

	// The client sends nothing; reading only detects the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if data, seq := h.Frames.Latest(); seq > 0 {
		if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			return
		}
	}
	for {
		select {
		case data := <-frames:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				debug.Verbose("web: preview client %s: %v", r.RemoteAddr, err)
				return
			}
		case <-gone:
			debug.Live("web: preview client %s disconnected", r.RemoteAddr)
			return
		case <-r.Context().Done():
			return
		}
	}
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
