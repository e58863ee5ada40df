//go:build gstreamer

package camera

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/cjeanneret/unicam/internal/debug"
)

var gstInit sync.Once

// GStreamerDriver drives a V4L2 webcam through a GStreamer pipeline.
// Webcams report no AF/AE state: results carry nil metadata.
type GStreamerDriver struct {
	opts GStreamerOptions

	mu   sync.Mutex
	open *gstDevice
}

// NewGStreamerDriver creates the V4L2 stack.
func NewGStreamerDriver(opts GStreamerOptions) (Driver, error) {
	if opts.Device == "" {
		return nil, fmt.Errorf("gstreamer: device is required")
	}
	gstInit.Do(func() { gst.Init(nil) })
	return &GStreamerDriver{opts: opts}, nil
}

func (d *GStreamerDriver) Name() string { return "gstreamer" }

func (d *GStreamerDriver) CameraIDs() ([]string, error) {
	return []string{d.opts.Device}, nil
}

func (d *GStreamerDriver) Characteristics(id string) (Characteristics, error) {
	if id != d.opts.Device {
		return Characteristics{}, fmt.Errorf("%w: unknown camera id %q", ErrUnsupported, id)
	}
	size := Size{d.opts.Width, d.opts.Height}
	return Characteristics{
		ID:     id,
		Facing: d.opts.Facing,
		OutputSizes: map[PixelFormat][]Size{
			FormatYUV420: {size},
			FormatJPEG:   {size},
		},
	}, nil
}

func (d *GStreamerDriver) OpenDevice(id string, cb DeviceCallbacks, l *Looper) error {
	if id != d.opts.Device {
		return fmt.Errorf("%w: unknown camera id %q", ErrUnsupported, id)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open != nil {
		return fmt.Errorf("%w: %s", ErrInUse, id)
	}

	launch := launchLine(d.opts)
	debug.Verbose("gstreamer: %s", launch)
	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return fmt.Errorf("gstreamer: create pipeline: %w", err)
	}
	preview, err := pipeline.GetElementByName("preview")
	if err != nil {
		return fmt.Errorf("gstreamer: preview sink: %w", err)
	}
	still, err := pipeline.GetElementByName("still")
	if err != nil {
		return fmt.Errorf("gstreamer: still sink: %w", err)
	}

	dev := &gstDevice{
		drv:      d,
		cb:       cb,
		looper:   l,
		pipeline: pipeline,
		preview:  app.SinkFromElement(preview),
		still:    app.SinkFromElement(still),
	}
	d.open = dev
	l.Post(func() {
		if cb.Opened != nil {
			cb.Opened(dev)
		}
	})
	return nil
}

type gstDevice struct {
	drv      *GStreamerDriver
	cb       DeviceCallbacks
	looper   *Looper
	pipeline *gst.Pipeline
	preview  *app.Sink
	still    *app.Sink

	mu      sync.Mutex
	closed  bool
	session *gstSession
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	lastJPEG []byte
	frames   atomic.Uint64
}

func (dev *gstDevice) ID() string { return dev.drv.opts.Device }

func (dev *gstDevice) NewReader(size Size, format PixelFormat, maxImages int) (ImageReader, error) {
	if format != FormatYUV420 && format != FormatJPEG {
		return nil, fmt.Errorf("%w: format %s on gstreamer", ErrUnsupported, format)
	}
	if size != (Size{dev.drv.opts.Width, dev.drv.opts.Height}) {
		return nil, fmt.Errorf("%w: size %s, pipeline is %dx%d", ErrUnsupported, size, dev.drv.opts.Width, dev.drv.opts.Height)
	}
	r, err := NewReader(size, format, maxImages)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (dev *gstDevice) CreateSession(outputs []ImageReader, cb SessionCallbacks, l *Looper) error {
	dev.mu.Lock()
	if dev.closed {
		dev.mu.Unlock()
		return ErrClosed
	}
	s := &gstSession{dev: dev, looper: l}
	dev.session = s
	alreadyPlaying := dev.cancel != nil
	dev.mu.Unlock()

	if !alreadyPlaying {
		dev.preview.SetCallbacks(&app.SinkCallbacks{
			NewSampleFunc: func(sink *app.Sink) gst.FlowReturn { return dev.onPreviewSample(sink) },
		})
		dev.still.SetCallbacks(&app.SinkCallbacks{
			NewSampleFunc: func(sink *app.Sink) gst.FlowReturn { return dev.onStillSample(sink) },
		})
		if err := dev.pipeline.SetState(gst.StatePlaying); err != nil {
			l.Post(func() {
				if cb.ConfigureFailed != nil {
					cb.ConfigureFailed(fmt.Errorf("gstreamer: start pipeline: %w", err))
				}
			})
			return nil
		}
		ctx, cancel := context.WithCancel(context.Background())
		dev.mu.Lock()
		dev.cancel = cancel
		dev.mu.Unlock()
		dev.wg.Add(1)
		go dev.monitorBus(ctx)
	}

	l.Post(func() {
		if cb.Configured != nil {
			cb.Configured(s)
		}
	})
	return nil
}

// pullBytes copies the data of the next sample; GStreamer reuses the buffer.
func pullBytes(sink *app.Sink) []byte {
	sample := sink.PullSample()
	if sample == nil {
		return nil
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil
	}
	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	buffer.Unmap()
	return out
}

func (dev *gstDevice) onPreviewSample(sink *app.Sink) gst.FlowReturn {
	data := pullBytes(sink)
	if data == nil {
		debug.Drop("gstreamer: empty preview sample")
		return gst.FlowOK
	}
	dev.mu.Lock()
	s := dev.session
	dev.mu.Unlock()
	if s == nil {
		return gst.FlowOK
	}

	req, cb, ok := s.repeatingRequest()
	if !ok {
		return gst.FlowOK
	}
	w, h := dev.drv.opts.Width, dev.drv.opts.Height
	planes, err := i420Planes(data, w, h)
	if err != nil {
		debug.Drop("gstreamer: %v", err)
		return gst.FlowOK
	}
	now := time.Now()
	for _, t := range req.Targets {
		if p, ok := t.(Producer); ok && t.Format() == FormatYUV420 {
			p.Enqueue(NewImage(FormatYUV420, w, h, now, planes...))
		}
	}
	n := dev.frames.Add(1)
	s.deliver(cb, CaptureResult{Tag: req.Tag, FrameNumber: n, Timestamp: now})
	return gst.FlowOK
}

func (dev *gstDevice) onStillSample(sink *app.Sink) gst.FlowReturn {
	data := pullBytes(sink)
	if data == nil {
		return gst.FlowOK
	}
	dev.mu.Lock()
	dev.lastJPEG = data
	dev.mu.Unlock()
	return gst.FlowOK
}

func (dev *gstDevice) latestJPEG() []byte {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.lastJPEG
}

// monitorBus reports pipeline errors and end of stream as a lost device.
func (dev *gstDevice) monitorBus(ctx context.Context) {
	defer dev.wg.Done()
	bus := dev.pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			debug.Info("gstreamer: end of stream on %s", dev.ID())
			dev.looper.Post(func() {
				if dev.cb.Disconnected != nil {
					dev.cb.Disconnected(dev)
				}
			})
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			err := fmt.Errorf("%w: %s", ErrDisconnected, gerr.Error())
			debug.Error(err)
			dev.looper.Post(func() {
				if dev.cb.Error != nil {
					dev.cb.Error(dev, err)
				}
			})
			return
		}
	}
}

func (dev *gstDevice) Close() error {
	dev.mu.Lock()
	if dev.closed {
		dev.mu.Unlock()
		return nil
	}
	dev.closed = true
	dev.session = nil
	cancel := dev.cancel
	dev.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := dev.pipeline.SetState(gst.StateNull)
	dev.wg.Wait()

	dev.drv.mu.Lock()
	if dev.drv.open == dev {
		dev.drv.open = nil
	}
	dev.drv.mu.Unlock()
	return err
}

type gstSession struct {
	dev    *gstDevice
	looper *Looper

	mu        sync.Mutex
	closed    bool
	repeating *Request
	repeatCB  CaptureCallbacks
}

func (s *gstSession) repeatingRequest() (Request, CaptureCallbacks, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.repeating == nil {
		return Request{}, CaptureCallbacks{}, false
	}
	return *s.repeating, s.repeatCB, true
}

func (s *gstSession) deliver(cb CaptureCallbacks, res CaptureResult) {
	s.looper.Post(func() {
		if cb.Completed != nil {
			cb.Completed(res)
		}
	})
}

func (s *gstSession) SetRepeatingRequest(req Request, cb CaptureCallbacks) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	r := req
	s.repeating = &r
	s.repeatCB = cb
	return nil
}

func (s *gstSession) StopRepeating() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.repeating = nil
	return nil
}

func (s *gstSession) Capture(req Request, cb CaptureCallbacks) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	res := CaptureResult{Tag: req.Tag, FrameNumber: s.dev.frames.Load(), Timestamp: time.Now()}
	if !req.HasTarget(FormatJPEG) {
		s.deliver(cb, res)
		return nil
	}

	go func() {
		// The still branch may not have produced a buffer yet right after start.
		var jpeg []byte
		for i := 0; i < 20 && jpeg == nil; i++ {
			if jpeg = s.dev.latestJPEG(); jpeg == nil {
				time.Sleep(50 * time.Millisecond)
			}
		}
		if jpeg == nil {
			debug.Drop("gstreamer: no still buffer available")
			return
		}
		size := Size{s.dev.drv.opts.Width, s.dev.drv.opts.Height}
		for _, t := range req.Targets {
			if p, ok := t.(Producer); ok && t.Format() == FormatJPEG {
				p.Enqueue(NewImage(FormatJPEG, size.Width, size.Height, res.Timestamp, Plane{Data: jpeg}))
			}
		}
		s.deliver(cb, res)
	}()
	return nil
}

func (s *gstSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.repeating = nil
	return nil
}
