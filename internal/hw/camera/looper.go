package camera

import (
	"sync"

	"github.com/cjeanneret/unicam/internal/debug"
)

// Looper runs posted callbacks one at a time on a dedicated goroutine.
// Every callback of a device, its sessions and its readers is delivered
// on the looper the caller supplied, so state touched only from
// callbacks needs no further locking.
type Looper struct {
	name string

	mu      sync.Mutex
	queue   []func()
	started bool
	quit    bool
	wake    chan struct{}
	done    chan struct{}
}

// NewLooper creates a stopped looper.
func NewLooper(name string) *Looper {
	return &Looper{
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Name returns the looper name.
func (l *Looper) Name() string { return l.name }

// Start launches the looper goroutine. Calling Start twice is a no-op.
func (l *Looper) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started || l.quit {
		return
	}
	l.started = true
	go l.loop()
	debug.Trace("looper %s started", l.name)
}

// Post queues fn. It returns false once the looper has been asked to quit.
func (l *Looper) Post(fn func()) bool {
	l.mu.Lock()
	if l.quit {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Quit stops accepting callbacks. Already queued callbacks still run.
// It does not wait; use Done for that.
func (l *Looper) Quit() {
	l.mu.Lock()
	if l.quit {
		l.mu.Unlock()
		return
	}
	l.quit = true
	started := l.started
	l.mu.Unlock()

	if !started {
		close(l.done)
		return
	}
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed once the looper goroutine has exited.
func (l *Looper) Done() <-chan struct{} { return l.done }

func (l *Looper) loop() {
	defer close(l.done)
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		quit := l.quit
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if len(batch) > 0 {
			continue
		}
		if quit {
			debug.Trace("looper %s stopped", l.name)
			return
		}
		<-l.wake
	}
}
