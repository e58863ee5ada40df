// Package await turns asynchronous hardware callbacks into blocking waits.
package await

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

// Infinite makes Wait block until the event is set or the context ends.
const Infinite time.Duration = -1

type waiter struct {
	ch       chan struct{} // buffered, receives exactly one token
	signaled bool          // guarded by Event.mu
}

// Event is an auto-reset event: each Set releases exactly one waiter,
// or is latched for the next Wait when nobody is waiting.
//
// Waiters are released in FIFO order. A latched signal is never
// accumulated: setting an already signaled event is a no-op.
type Event struct {
	mu       sync.Mutex
	signaled bool
	waiters  *list.List
}

// NewEvent creates an event, optionally already signaled.
func NewEvent(signaled bool) *Event {
	return &Event{signaled: signaled, waiters: list.New()}
}

// Wait blocks until the event is set, the timeout elapses or ctx is done.
// It returns true when a signal was consumed.
//
// A zero timeout polls: it consumes a latched signal if present and never
// registers a waiter. Use Infinite to wait without a deadline.
func (e *Event) Wait(ctx context.Context, timeout time.Duration) bool {
	e.mu.Lock()
	if e.signaled {
		e.signaled = false
		e.mu.Unlock()
		return true
	}
	if timeout == 0 {
		e.mu.Unlock()
		return false
	}
	w := &waiter{ch: make(chan struct{}, 1)}
	elem := e.waiters.PushBack(w)
	e.mu.Unlock()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-w.ch:
		return true
	case <-deadline:
	case <-ctx.Done():
	}

	e.mu.Lock()
	if !w.signaled {
		e.waiters.Remove(elem)
		e.mu.Unlock()
		return false
	}
	e.mu.Unlock()
	// Set picked this waiter before we got the lock back: take the token.
	<-w.ch
	return true
}

// Set releases the oldest waiter, or latches the signal if none is waiting.
// It never blocks and never runs the waiter's code on the caller's goroutine.
func (e *Event) Set() {
	e.mu.Lock()
	defer e.mu.Unlock()
	front := e.waiters.Front()
	if front == nil {
		e.signaled = true
		return
	}
	w := e.waiters.Remove(front).(*waiter)
	w.signaled = true
	w.ch <- struct{}{}
}

// Reset clears a latched signal.
func (e *Event) Reset() {
	e.mu.Lock()
	e.signaled = false
	e.mu.Unlock()
}

// IsSet reports whether a signal is latched.
func (e *Event) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.signaled
}

// Pending returns the number of registered waiters.
func (e *Event) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.waiters.Len()
}

func (e *Event) String() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fmt.Sprintf("Event{signaled=%t waiters=%d}", e.signaled, e.waiters.Len())
}
