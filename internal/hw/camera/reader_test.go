package camera

import (
	"errors"
	"testing"
	"time"
)

func frame(n byte) *Image {
	return NewImage(FormatYUV420, 2, 2, time.Now(), Plane{Data: []byte{n}})
}

func TestNewReader_Invalid(t *testing.T) {
	if _, err := NewReader(Size{640, 480}, FormatYUV420, 0); err == nil {
		t.Error("expected error for maxImages 0")
	}
	if _, err := NewReader(Size{0, 480}, FormatYUV420, 2); err == nil {
		t.Error("expected error for zero width")
	}
}

func TestReader_EmptyAcquire(t *testing.T) {
	r, _ := NewReader(Size{2, 2}, FormatYUV420, 2)
	if _, err := r.AcquireLatestImage(); !errors.Is(err, ErrNoBuffer) {
		t.Errorf("err = %v, want ErrNoBuffer", err)
	}
}

func TestReader_AcquireLatestDropsOlder(t *testing.T) {
	r, _ := NewReader(Size{2, 2}, FormatYUV420, 4)
	r.Enqueue(frame(1))
	r.Enqueue(frame(2))
	r.Enqueue(frame(3))

	img, err := r.AcquireLatestImage()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if img.Planes[0].Data[0] != 3 {
		t.Errorf("acquired frame %d, want the newest (3)", img.Planes[0].Data[0])
	}
	if r.Queued() != 0 {
		t.Errorf("Queued() = %d, want 0", r.Queued())
	}
	if r.Acquired() != 1 {
		t.Errorf("Acquired() = %d, want 1", r.Acquired())
	}
	img.Close()
	img.Close() // idempotent
	if r.Acquired() != 0 {
		t.Errorf("Acquired() = %d after Close, want 0", r.Acquired())
	}
}

func TestReader_AcquireNextKeepsOrder(t *testing.T) {
	r, _ := NewReader(Size{2, 2}, FormatJPEG, 4)
	r.Enqueue(frame(1))
	r.Enqueue(frame(2))

	for _, want := range []byte{1, 2} {
		img, err := r.AcquireNextImage()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if img.Planes[0].Data[0] != want {
			t.Errorf("acquired frame %d, want %d", img.Planes[0].Data[0], want)
		}
		img.Close()
	}
	if _, err := r.AcquireNextImage(); !errors.Is(err, ErrNoBuffer) {
		t.Errorf("err = %v, want ErrNoBuffer", err)
	}
}

func TestReader_PoolExhausted(t *testing.T) {
	r, _ := NewReader(Size{2, 2}, FormatYUV420, 2)
	r.Enqueue(frame(1))
	a, _ := r.AcquireLatestImage()
	r.Enqueue(frame(2))
	b, _ := r.AcquireLatestImage()

	// Both buffers held by the consumer: the producer must drop.
	if r.Enqueue(frame(3)) {
		t.Error("Enqueue should fail while every buffer is held")
	}
	if r.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", r.Dropped())
	}

	a.Close()
	if !r.Enqueue(frame(4)) {
		t.Error("Enqueue should succeed once a buffer is released")
	}
	b.Close()
}

func TestReader_RecyclesOldestQueued(t *testing.T) {
	r, _ := NewReader(Size{2, 2}, FormatYUV420, 2)
	r.Enqueue(frame(1))
	r.Enqueue(frame(2))
	if !r.Enqueue(frame(3)) {
		t.Fatal("Enqueue should recycle the oldest queued buffer")
	}
	if r.Queued() != 2 {
		t.Errorf("Queued() = %d, want 2", r.Queued())
	}
	if r.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", r.Dropped())
	}
}

func TestReader_OnImageAvailable(t *testing.T) {
	l := NewLooper("reader")
	l.Start()
	defer l.Quit()

	r, _ := NewReader(Size{2, 2}, FormatYUV420, 2)
	got := make(chan struct{}, 4)
	r.SetOnImageAvailable(func() { got <- struct{}{} }, l)
	r.Enqueue(frame(1))

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("image-available callback not delivered")
	}
}

func TestReader_Closed(t *testing.T) {
	r, _ := NewReader(Size{2, 2}, FormatYUV420, 2)
	r.Enqueue(frame(1))
	r.Close()
	if r.Enqueue(frame(2)) {
		t.Error("Enqueue on a closed reader should fail")
	}
	if _, err := r.AcquireLatestImage(); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}
