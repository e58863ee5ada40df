package preview

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cjeanneret/unicam/internal/logic/await"
)

// ErrNoStill is returned by Wait when nothing was latched in time.
var ErrNoStill = errors.New("no still captured")

// StillLatch holds the JPEG of the most recent still capture. It has a
// single slot: a newer still overwrites an unread one.
//
// Each capture arms the latch with a generation; stills and failures of
// any other generation are ignored.
type StillLatch struct {
	mu    sync.Mutex
	gen   uint64
	data  []byte
	err   error
	ready *await.Event
}

// NewStillLatch creates an empty latch.
func NewStillLatch() *StillLatch {
	return &StillLatch{ready: await.NewEvent(false)}
}

// Arm clears the latch and accepts stills of generation gen only.
func (l *StillLatch) Arm(gen uint64) {
	l.mu.Lock()
	l.gen = gen
	l.data = nil
	l.err = nil
	l.ready.Reset()
	l.mu.Unlock()
}

// Latch stores data if gen is the armed generation. It reports whether the
// still was kept.
func (l *StillLatch) Latch(gen uint64, data []byte) bool {
	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		return false
	}
	l.data = data
	l.err = nil
	l.mu.Unlock()
	l.ready.Set()
	return true
}

// Fail records that the capture of generation gen cannot complete.
func (l *StillLatch) Fail(gen uint64, err error) bool {
	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		return false
	}
	l.err = err
	l.mu.Unlock()
	l.ready.Set()
	return true
}

// Take returns the latched still and empties the slot.
func (l *StillLatch) Take() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	data := l.data
	l.data = nil
	return data
}

// Wait blocks until a still is latched or the capture failed, then takes
// the result. It returns ErrNoStill on timeout or when ctx ends.
func (l *StillLatch) Wait(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if !l.ready.Wait(ctx, timeout) {
		return nil, ErrNoStill
	}
	l.mu.Lock()
	err := l.err
	l.err = nil
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return l.Take(), nil
}
