package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/unicam/internal/debug"
	"github.com/cjeanneret/unicam/internal/hw/camera"
	"github.com/cjeanneret/unicam/internal/logic/await"
	"github.com/cjeanneret/unicam/internal/logic/geometry"
	"github.com/cjeanneret/unicam/internal/logic/preview"
)

// Camera is one device of a Manager. Open it, optionally with a preview,
// take pictures, then Close it. A closed Camera can be opened again.
//
// Every device callback runs on a looper owned by the Camera. Each open
// gets a new generation; callbacks of an older generation are discarded.
type Camera struct {
	driver camera.Driver
	chars  camera.Characteristics
	opts   Options

	openLock chan struct{} // open/close semaphore
	shootMu  sync.Mutex    // one TakePicture at a time
	latch    *preview.StillLatch

	mu        sync.Mutex
	gen       uint64
	looper    *camera.Looper
	device    camera.Device
	openErr   error
	configErr error
	readers   []camera.ImageReader
	pipeline  *preview.Pipeline
	run       *session
	shots     uint64
}

func newCamera(driver camera.Driver, chars camera.Characteristics, opts Options) *Camera {
	return &Camera{
		driver:   driver,
		chars:    chars,
		opts:     opts.withDefaults(),
		openLock: make(chan struct{}, 1),
		latch:    preview.NewStillLatch(),
	}
}

// ID returns the device id.
func (c *Camera) ID() string { return c.chars.ID }

// Characteristics returns the static properties of the device.
func (c *Camera) Characteristics() camera.Characteristics { return c.chars }

// IsOpen reports whether the device is open.
func (c *Camera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device != nil
}

// Pipeline returns the preview of the current session, or nil.
func (c *Camera) Pipeline() *preview.Pipeline {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pipeline
}

func (c *Camera) lock(ctx context.Context) error {
	timer := time.NewTimer(c.opts.OpenLockTimeout)
	defer timer.Stop()
	select {
	case c.openLock <- struct{}{}:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: lock on camera %s not acquired within %s", ErrDeviceBusy, c.chars.ID, c.opts.OpenLockTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Camera) unlock() { <-c.openLock }

// active returns the session of generation gen, or nil once it is stale.
func (c *Camera) active(gen uint64) *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return nil
	}
	return c.run
}

// Open opens the device without a preview.
func (c *Camera) Open(ctx context.Context) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.unlock()
	return c.open(ctx)
}

// OpenWithPreview opens the device and configures a session streaming a
// preview negotiated for req. The pipeline stays valid until Close.
func (c *Camera) OpenWithPreview(ctx context.Context, req geometry.RequestedSize) (*preview.Pipeline, error) {
	if err := c.lock(ctx); err != nil {
		return nil, err
	}
	defer c.unlock()
	if err := c.open(ctx); err != nil {
		return nil, err
	}
	if p := c.Pipeline(); p != nil {
		return p, nil
	}
	plan, err := c.opts.Negotiator.Negotiate(c.chars, req)
	if err != nil {
		return nil, err
	}
	if err := c.configure(ctx, &plan); err != nil {
		return nil, err
	}
	return c.Pipeline(), nil
}

func (c *Camera) open(ctx context.Context) error {
	id := c.chars.ID
	c.mu.Lock()
	if c.device != nil {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	gen := c.gen
	l := camera.NewLooper("camera-" + id)
	c.looper = l
	c.openErr = nil
	c.mu.Unlock()
	l.Start()

	opened := await.NewEvent(false)
	cb := camera.DeviceCallbacks{
		Opened: func(d camera.Device) { c.onOpened(gen, l, d, opened) },
		Disconnected: func(d camera.Device) {
			c.onLost(gen, l, d, camera.ErrDisconnected, opened)
		},
		Error: func(d camera.Device, err error) { c.onLost(gen, l, d, err, opened) },
	}

	debug.Verbose("opening camera %s (%s, %d°) on %s", id, c.chars.Facing, c.chars.SensorOrientation, c.driver.Name())
	if err := c.driver.OpenDevice(id, cb, l); err != nil {
		c.mu.Lock()
		res := c.detach(gen)
		c.mu.Unlock()
		res.release(true)
		return fmt.Errorf("open camera %s: %w", id, err)
	}

	if !opened.Wait(ctx, c.opts.OpenTimeout) {
		c.mu.Lock()
		if c.gen == gen && c.device != nil {
			// Opened right at the deadline.
			c.mu.Unlock()
			return nil
		}
		// The looper stays up: a late Opened closes the device and stops it.
		if c.gen == gen {
			c.gen++
			c.looper = nil
		}
		c.mu.Unlock()
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("open camera %s: %w", id, err)
		}
		return fmt.Errorf("%w: camera %s did not open within %s", ErrTimeout, id, c.opts.OpenTimeout)
	}

	c.mu.Lock()
	err := c.openErr
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("open camera %s: %w", id, err)
	}
	debug.Info("camera %s open", id)
	return nil
}

func (c *Camera) onOpened(gen uint64, l *camera.Looper, d camera.Device, opened *await.Event) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		debug.Info("camera %s opened after the open was abandoned, closing it", d.ID())
		d.Close()
		l.Quit()
		return
	}
	c.device = d
	c.mu.Unlock()
	opened.Set()
}

// onLost handles both a disconnection and a device error.
func (c *Camera) onLost(gen uint64, l *camera.Looper, d camera.Device, err error, opened *await.Event) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		if d != nil {
			d.Close()
		}
		l.Quit()
		return
	}
	opening := c.device == nil
	c.openErr = err
	shot := c.shots
	res := c.detach(gen)
	c.mu.Unlock()

	debug.Error(fmt.Errorf("camera %s lost: %w", c.chars.ID, err))
	if d != nil && d != res.device {
		d.Close()
	}
	c.latch.Fail(shot, fmt.Errorf("%w: %w", ErrClosed, err))
	// On the looper: quit it without waiting for it.
	res.release(false)
	if opening {
		opened.Set()
	}
}

// resources are what an open camera holds, released outside c.mu.
type resources struct {
	looper   *camera.Looper
	device   camera.Device
	session  camera.Session
	readers  []camera.ImageReader
	pipeline *preview.Pipeline
}

// detach takes the resources of generation gen and invalidates it.
// Caller holds c.mu.
func (c *Camera) detach(gen uint64) resources {
	if c.gen != gen {
		return resources{}
	}
	res := resources{
		looper:   c.looper,
		device:   c.device,
		readers:  c.readers,
		pipeline: c.pipeline,
	}
	if c.run != nil {
		res.session = c.run.session
	}
	c.gen++
	c.looper = nil
	c.device = nil
	c.readers = nil
	c.pipeline = nil
	c.run = nil
	return res
}

// release closes everything; wait joins the looper and must not be set
// when called from it.
func (r resources) release(wait bool) {
	if r.pipeline != nil {
		r.pipeline.Close()
	}
	if r.session != nil {
		r.session.Close()
	}
	for _, rd := range r.readers {
		rd.Close()
	}
	if r.device != nil {
		r.device.Close()
	}
	if r.looper != nil {
		r.looper.Quit()
		if wait {
			<-r.looper.Done()
		}
	}
}

// configure creates the readers and the capture session. plan is nil for
// a still-only session. Caller holds the open lock.
func (c *Camera) configure(ctx context.Context, plan *geometry.Plan) error {
	c.mu.Lock()
	dev, l, gen := c.device, c.looper, c.gen
	configured := c.run != nil
	c.mu.Unlock()
	if dev == nil {
		return ErrNotOpen
	}
	if configured {
		// Replace the current session, e.g. a still-only one by a preview.
		c.closeSession(gen)
	}

	var readers []camera.ImageReader
	var pipe *preview.Pipeline
	var previewReader camera.ImageReader
	fail := func(err error) error {
		for _, r := range readers {
			r.Close()
		}
		return err
	}

	if plan != nil {
		r, err := dev.NewReader(plan.PixelSize, plan.Format, c.opts.PreviewImages)
		if err != nil {
			return fail(fmt.Errorf("preview reader: %w", err))
		}
		previewReader = r
		readers = append(readers, r)
	}
	jpeg := c.chars.Largest(camera.FormatJPEG)
	still, err := dev.NewReader(jpeg, camera.FormatJPEG, StillImages)
	if err != nil {
		return fail(fmt.Errorf("still reader %s: %w", jpeg, err))
	}
	readers = append(readers, still)
	still.SetOnImageAvailable(func() { c.onStillAvailable(gen, still) }, l)

	if previewReader != nil {
		pipe = preview.New(previewReader, l, preview.Config{
			Plan:        *plan,
			QueueDepth:  c.opts.QueueDepth,
			Workers:     c.opts.Workers,
			MinInterval: c.opts.MinInterval,
		})
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		if pipe != nil {
			pipe.Close()
		}
		return fail(ErrClosed)
	}
	c.readers = readers
	c.pipeline = pipe
	c.configErr = nil
	c.mu.Unlock()

	ready := await.NewEvent(false)
	err = dev.CreateSession(readers, camera.SessionCallbacks{
		Configured: func(s camera.Session) { c.onConfigured(gen, s, previewReader, still, ready) },
		ConfigureFailed: func(err error) {
			c.mu.Lock()
			if c.gen == gen {
				c.configErr = err
			}
			c.mu.Unlock()
			ready.Set()
		},
	}, l)
	if err == nil {
		if !ready.Wait(ctx, c.opts.ConfigureTimeout) {
			err = fmt.Errorf("%w: session not configured within %s", ErrTimeout, c.opts.ConfigureTimeout)
			if ctx.Err() != nil {
				err = ctx.Err()
			}
		} else {
			c.mu.Lock()
			if c.gen != gen {
				err = ErrClosed
			} else if c.configErr != nil {
				err = fmt.Errorf("%w: %w", ErrConfigureFailed, c.configErr)
			}
			c.mu.Unlock()
		}
	} else {
		err = fmt.Errorf("%w: %w", ErrConfigureFailed, err)
	}
	if err != nil {
		// A failed configuration leaves nothing usable open.
		c.mu.Lock()
		res := c.detach(gen)
		c.mu.Unlock()
		res.release(true)
		return fmt.Errorf("configure camera %s: %w", c.chars.ID, err)
	}

	if plan != nil {
		debug.Info("camera %s streaming %s %s preview", c.chars.ID, plan.PixelSize, plan.Format)
	} else {
		debug.Info("camera %s configured for stills (%s)", c.chars.ID, jpeg)
	}
	return nil
}

// closeSession drops the session and readers but keeps the device open.
func (c *Camera) closeSession(gen uint64) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	res := resources{readers: c.readers, pipeline: c.pipeline}
	if c.run != nil {
		res.session = c.run.session
	}
	c.readers = nil
	c.pipeline = nil
	c.run = nil
	c.mu.Unlock()
	res.release(false)
}

func (c *Camera) onConfigured(gen uint64, s camera.Session, previewReader, still camera.ImageReader, ready *await.Event) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		s.Close()
		return
	}
	c.mu.Unlock()

	ae := camera.AEModeOn
	if c.chars.FlashAvailable {
		ae = camera.AEModeOnAutoFlash
	}
	run := &session{
		cam:     c,
		gen:     gen,
		session: s,
		still:   still,
		repeating: camera.Request{
			Template: camera.TemplatePreview,
			AFMode:   camera.AFModeContinuousPicture,
			AEMode:   ae,
			Tag:      gen,
		},
	}
	if previewReader != nil {
		run.repeating.Targets = []camera.ImageReader{previewReader}
	}
	run.machine = NewMachine(run)

	err := s.SetRepeatingRequest(run.repeating, run.callbacks())
	c.mu.Lock()
	if c.gen == gen {
		if err != nil {
			c.configErr = fmt.Errorf("start preview: %w", err)
		} else {
			c.run = run
		}
	}
	c.mu.Unlock()
	ready.Set()
}

func (c *Camera) onStillAvailable(gen uint64, still camera.ImageReader) {
	img, err := still.AcquireNextImage()
	if err != nil {
		if !errors.Is(err, camera.ErrNoBuffer) && !errors.Is(err, camera.ErrClosed) {
			debug.Error(fmt.Errorf("still: %w", err))
		}
		return
	}
	var data []byte
	if len(img.Planes) > 0 {
		data = append([]byte(nil), img.Planes[0].Data...)
	}
	img.Close()

	run := c.active(gen)
	if run == nil {
		debug.Drop("still for a closed session")
		return
	}
	shot, ok := run.nextStill()
	if !ok {
		debug.Drop("still without a request")
		return
	}
	if !c.latch.Latch(shot, data) {
		debug.Drop("still of an abandoned capture")
	}
}

// TakePicture runs the focus and metering sequence and returns the JPEG.
// A camera opened without a preview gets a still-only session first.
func (c *Camera) TakePicture(ctx context.Context) ([]byte, error) {
	c.shootMu.Lock()
	defer c.shootMu.Unlock()

	c.mu.Lock()
	open, configured := c.device != nil, c.run != nil
	c.mu.Unlock()
	if !open {
		return nil, ErrNotOpen
	}
	if !configured {
		if err := c.lock(ctx); err != nil {
			return nil, err
		}
		err := c.configure(ctx, nil)
		c.unlock()
		if err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	run, l := c.run, c.looper
	c.shots++
	shot := c.shots
	c.mu.Unlock()
	if run == nil {
		return nil, ErrNotOpen
	}

	c.latch.Arm(shot)
	posted := l.Post(func() {
		if c.active(run.gen) != run {
			c.latch.Fail(shot, ErrClosed)
			return
		}
		run.shot = shot
		run.flashNeeded = false
		if err := run.machine.LockFocus(); err != nil {
			c.latch.Fail(shot, err)
		}
	})
	if !posted {
		return nil, ErrClosed
	}

	data, err := c.latch.Wait(ctx, c.opts.CaptureTimeout)
	if errors.Is(err, preview.ErrNoStill) {
		l.Post(func() {
			if c.active(run.gen) == run && run.shot == shot {
				run.machine.Abort()
			}
		})
		if ctx.Err() != nil {
			return nil, fmt.Errorf("take picture: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: no still within %s", ErrTimeout, c.opts.CaptureTimeout)
	}
	if err != nil {
		return nil, fmt.Errorf("take picture: %w", err)
	}
	debug.Picture(shot, len(data))
	return data, nil
}

// Close releases the device, its session and the preview. The preview
// frame channel is closed.
func (c *Camera) Close() error {
	if err := c.lock(context.Background()); err != nil {
		return err
	}
	defer c.unlock()

	c.mu.Lock()
	res := c.detach(c.gen)
	shot := c.shots
	c.mu.Unlock()

	c.latch.Fail(shot, ErrClosed)
	res.release(true)
	if res.device != nil {
		debug.Info("camera %s closed", c.chars.ID)
	}
	return nil
}
