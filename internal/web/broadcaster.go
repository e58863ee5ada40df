package web

import (
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"
)

// statusHistory is the number of events replayed to a new subscriber.
const statusHistory = 32

// StatusEvent is one status line sent to SSE clients.
type StatusEvent struct {
	Time  string `json:"t"`
	Level string `json:"l,omitempty"`
	Msg   string `json:"msg"`
}

// StatusBroadcaster fans status events out to SSE clients and keeps the
// most recent ones so a page opened late still shows what happened.
type StatusBroadcaster struct {
	mu      sync.Mutex
	clients map[chan string]struct{}
	history []string
}

// NewStatusBroadcaster creates a broadcaster with no clients.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{clients: make(map[chan string]struct{})}
}

// Subscribe registers a client. The returned channel first receives the
// recent history. The cleanup function must be called on disconnect.
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64+statusHistory)
	b.mu.Lock()
	for _, msg := range b.history {
		ch <- msg
	}
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Clients returns the number of subscribed clients.
func (b *StatusBroadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Broadcast sends {"t":...,"l":level,"msg":msg} to every client. A client
// whose buffer is full misses the event.
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	data, err := json.Marshal(StatusEvent{
		Time:  time.Now().Format(time.RFC3339),
		Level: level,
		Msg:   msg,
	})
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history, payload)
	if len(b.history) > statusHistory {
		b.history = b.history[len(b.history)-statusHistory:]
	}
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

// Writer returns an io.Writer broadcasting each non-empty line at level
// "log", for use as a debug output.
func (b *StatusBroadcaster) Writer() io.Writer {
	return &broadcastWriter{b: b}
}

type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(string(p), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			w.b.Broadcast("log", line)
		}
	}
	return len(p), nil
}
