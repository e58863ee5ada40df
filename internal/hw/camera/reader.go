package camera

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/unicam/internal/debug"
)

// Plane is one plane of an image.
type Plane struct {
	Data        []byte
	RowStride   int
	PixelStride int
}

// Image is a buffer owned by a reader's pool. Close returns it to the pool;
// the plane data must not be used afterwards.
type Image struct {
	Format    PixelFormat
	Width     int
	Height    int
	Timestamp time.Time
	Planes    []Plane

	release func()
	once    sync.Once
}

// NewImage wraps planes into an image that is not yet owned by a pool.
func NewImage(format PixelFormat, width, height int, ts time.Time, planes ...Plane) *Image {
	return &Image{Format: format, Width: width, Height: height, Timestamp: ts, Planes: planes}
}

// Close releases the buffer back to its pool. It is safe to call twice.
func (img *Image) Close() {
	img.once.Do(func() {
		if img.release != nil {
			img.release()
		}
	})
}

// ImageReader receives images produced by a session.
type ImageReader interface {
	Size() Size
	Format() PixelFormat
	// SetOnImageAvailable registers fn, called on l whenever a new image is queued.
	SetOnImageAvailable(fn func(), l *Looper)
	// AcquireLatestImage returns the newest queued image and drops the older ones.
	// It never blocks and returns ErrNoBuffer when nothing is queued.
	AcquireLatestImage() (*Image, error)
	// AcquireNextImage returns the oldest queued image and keeps the others.
	AcquireNextImage() (*Image, error)
	Close() error
}

// Producer is the side of a reader a driver writes to.
type Producer interface {
	ImageReader
	// Enqueue hands img to the reader. It returns false when the image was
	// dropped because every buffer of the pool is held by the consumer.
	Enqueue(img *Image) bool
}

// Reader is a pool-backed ImageReader shared by the drivers.
// At most maxImages images exist at a time, queued or acquired.
type Reader struct {
	size      Size
	format    PixelFormat
	maxImages int

	mu       sync.Mutex
	queue    []*Image
	acquired int
	closed   bool
	onAvail  func()
	looper   *Looper

	dropped atomic.Uint64
}

// NewReader creates a reader holding at most maxImages buffers.
func NewReader(size Size, format PixelFormat, maxImages int) (*Reader, error) {
	if maxImages < 1 {
		return nil, fmt.Errorf("reader max images must be >= 1, got %d", maxImages)
	}
	if size.Width <= 0 || size.Height <= 0 {
		return nil, fmt.Errorf("reader size must be positive, got %s", size)
	}
	return &Reader{size: size, format: format, maxImages: maxImages}, nil
}

func (r *Reader) Size() Size          { return r.size }
func (r *Reader) Format() PixelFormat { return r.format }

// MaxImages returns the pool capacity.
func (r *Reader) MaxImages() int { return r.maxImages }

func (r *Reader) SetOnImageAvailable(fn func(), l *Looper) {
	r.mu.Lock()
	r.onAvail = fn
	r.looper = l
	r.mu.Unlock()
}

func (r *Reader) Enqueue(img *Image) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	if len(r.queue)+r.acquired >= r.maxImages {
		if len(r.queue) == 0 {
			r.mu.Unlock()
			r.dropped.Add(1)
			debug.Drop("reader %s: pool exhausted, %d buffers held", r.format, r.acquired)
			return false
		}
		// Recycle the oldest queued buffer.
		r.queue = r.queue[1:]
		r.dropped.Add(1)
	}
	r.queue = append(r.queue, img)
	fn, l := r.onAvail, r.looper
	r.mu.Unlock()

	if fn != nil && l != nil {
		l.Post(fn)
	}
	return true
}

func (r *Reader) AcquireLatestImage() (*Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if len(r.queue) == 0 {
		return nil, ErrNoBuffer
	}
	img := r.queue[len(r.queue)-1]
	r.queue = r.queue[:0]
	r.acquired++
	img.release = r.releaseOne
	return img, nil
}

func (r *Reader) AcquireNextImage() (*Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if len(r.queue) == 0 {
		return nil, ErrNoBuffer
	}
	img := r.queue[0]
	r.queue = r.queue[1:]
	r.acquired++
	img.release = r.releaseOne
	return img, nil
}

func (r *Reader) releaseOne() {
	r.mu.Lock()
	r.acquired--
	r.mu.Unlock()
}

// Acquired returns how many images the consumer currently holds.
func (r *Reader) Acquired() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.acquired
}

// Queued returns how many images wait to be acquired.
func (r *Reader) Queued() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Dropped returns how many produced images never reached the consumer.
func (r *Reader) Dropped() uint64 { return r.dropped.Load() }

func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.queue = nil
	r.onAvail = nil
	return nil
}
