package camera

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/unicam/internal/debug"
)

// SimStack selects which native stack the simulator imitates.
type SimStack int

const (
	// SimCamera2 delivers YUV_420_888 preview frames with AF/AE metadata.
	SimCamera2 SimStack = iota
	// SimAVFoundation delivers packed BGRA preview frames.
	SimAVFoundation
)

// ParseSimStack parses "camera2" or "avfoundation".
func ParseSimStack(s string) (SimStack, error) {
	switch s {
	case "camera2", "":
		return SimCamera2, nil
	case "avfoundation":
		return SimAVFoundation, nil
	default:
		return SimCamera2, fmt.Errorf("unknown sim stack %q", s)
	}
}

// SimCamera describes one simulated device.
type SimCamera struct {
	ID                string
	Facing            LensFacing
	SensorOrientation int
	PreviewSizes      []Size
	JPEGSizes         []Size
	FlashAvailable    bool
}

// DefaultSimCameras returns a phone-like pair: a rear camera mounted at 90°
// and a front camera mounted at 270°.
func DefaultSimCameras(flash bool) []SimCamera {
	return []SimCamera{
		{
			ID:                "0",
			Facing:            FacingBack,
			SensorOrientation: 90,
			PreviewSizes: []Size{
				{1920, 1080}, {1440, 1080}, {1280, 720}, {960, 720},
				{640, 480}, {640, 360}, {320, 240}, {176, 144},
			},
			JPEGSizes:      []Size{{1280, 960}, {640, 480}},
			FlashAvailable: flash,
		},
		{
			ID:                "1",
			Facing:            FacingFront,
			SensorOrientation: 270,
			PreviewSizes:      []Size{{1280, 720}, {640, 480}, {640, 360}, {320, 240}},
			JPEGSizes:         []Size{{1280, 720}, {640, 480}},
		},
	}
}

// SimOptions configures the simulated stack.
type SimOptions struct {
	Stack         SimStack
	Cameras       []SimCamera     // nil = DefaultSimCameras
	PixelStride   int             // chroma pixel stride of YUV frames: 1 planar, 2 semi-planar
	FrameInterval time.Duration   // sensor frame period
	FocusFrames   int             // frames an AF scan lasts
	LowLight      bool            // AE asks for the flash until a precapture sequence ran
	OmitMetadata  bool            // results carry no AF/AE state
	OpenDelay     time.Duration   // delay before the open callback
	OpenError     error           // delivered through DeviceCallbacks.Error
	ConfigureErr  error           // delivered through SessionCallbacks.ConfigureFailed
	StillDelays   []time.Duration // extra latency of the nth still request, in order
}

// SimStill is a still delivered by the simulated stack.
type SimStill struct {
	Tag  uint64 // Request.Tag of the capture that produced it
	JPEG []byte
}

// SimDriver is an in-process camera stack that behaves like a phone camera HAL.
type SimDriver struct {
	opts SimOptions

	mu     sync.Mutex
	open   map[string]*simDevice
	stills []SimStill
	opens  atomic.Int64
	shots  atomic.Int64
}

// NewSimDriver creates a simulated stack.
func NewSimDriver(opts SimOptions) *SimDriver {
	if opts.Cameras == nil {
		opts.Cameras = DefaultSimCameras(false)
	}
	if opts.PixelStride != 2 {
		opts.PixelStride = 1
	}
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = 33 * time.Millisecond
	}
	if opts.FocusFrames <= 0 {
		opts.FocusFrames = 3
	}
	return &SimDriver{opts: opts, open: make(map[string]*simDevice)}
}

func (d *SimDriver) Name() string {
	if d.opts.Stack == SimAVFoundation {
		return "sim-avfoundation"
	}
	return "sim-camera2"
}

func (d *SimDriver) CameraIDs() ([]string, error) {
	ids := make([]string, 0, len(d.opts.Cameras))
	for _, c := range d.opts.Cameras {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (d *SimDriver) camera(id string) (SimCamera, error) {
	for _, c := range d.opts.Cameras {
		if c.ID == id {
			return c, nil
		}
	}
	return SimCamera{}, fmt.Errorf("%w: unknown camera id %q", ErrUnsupported, id)
}

func (d *SimDriver) previewFormat() PixelFormat {
	if d.opts.Stack == SimAVFoundation {
		return FormatBGRA
	}
	return FormatYUV420
}

func (d *SimDriver) Characteristics(id string) (Characteristics, error) {
	c, err := d.camera(id)
	if err != nil {
		return Characteristics{}, err
	}
	return Characteristics{
		ID:                c.ID,
		Facing:            c.Facing,
		SensorOrientation: c.SensorOrientation,
		FlashAvailable:    c.FlashAvailable,
		OutputSizes: map[PixelFormat][]Size{
			d.previewFormat(): slices.Clone(c.PreviewSizes),
			FormatJPEG:        slices.Clone(c.JPEGSizes),
		},
	}, nil
}

func (d *SimDriver) OpenDevice(id string, cb DeviceCallbacks, l *Looper) error {
	c, err := d.camera(id)
	if err != nil {
		return err
	}
	d.mu.Lock()
	if d.open[id] != nil {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInUse, id)
	}
	dev := &simDevice{drv: d, cam: c, cb: cb, looper: l}
	d.open[id] = dev
	d.mu.Unlock()
	d.opens.Add(1)

	go func() {
		if d.opts.OpenDelay > 0 {
			time.Sleep(d.opts.OpenDelay)
		}
		if d.opts.OpenError != nil {
			d.release(id, dev)
			l.Post(func() {
				if cb.Error != nil {
					cb.Error(dev, d.opts.OpenError)
				}
			})
			return
		}
		debug.Trace("sim: camera %s opened", id)
		l.Post(func() {
			if cb.Opened != nil {
				cb.Opened(dev)
			}
		})
	}()
	return nil
}

func (d *SimDriver) release(id string, dev *simDevice) {
	d.mu.Lock()
	if d.open[id] == dev {
		delete(d.open, id)
	}
	d.mu.Unlock()
}

// IsOpen reports whether id is currently held by a client.
func (d *SimDriver) IsOpen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open[id] != nil
}

// Opens returns how many OpenDevice calls were accepted.
func (d *SimDriver) Opens() int64 { return d.opens.Load() }

// Stills returns the stills delivered so far, oldest first.
func (d *SimDriver) Stills() []SimStill {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.stills)
}

func (d *SimDriver) stillDelay() time.Duration {
	n := int(d.shots.Add(1)) - 1
	if n < len(d.opts.StillDelays) {
		return d.opts.StillDelays[n]
	}
	return 0
}

func (d *SimDriver) recordStill(tag uint64, img *Image) {
	if len(img.Planes) == 0 {
		return
	}
	d.mu.Lock()
	d.stills = append(d.stills, SimStill{Tag: tag, JPEG: slices.Clone(img.Planes[0].Data)})
	d.mu.Unlock()
}

// Disconnect simulates the device being taken away (USB unplug, higher
// priority client). The client gets DeviceCallbacks.Disconnected.
func (d *SimDriver) Disconnect(id string) error {
	d.mu.Lock()
	dev := d.open[id]
	d.mu.Unlock()
	if dev == nil {
		return fmt.Errorf("%w: camera %s is not open", ErrClosed, id)
	}
	dev.stopSession()
	dev.looper.Post(func() {
		if dev.cb.Disconnected != nil {
			dev.cb.Disconnected(dev)
		}
	})
	return nil
}

type simDevice struct {
	drv    *SimDriver
	cam    SimCamera
	cb     DeviceCallbacks
	looper *Looper

	mu      sync.Mutex
	closed  bool
	session *simSession
}

func (dev *simDevice) ID() string { return dev.cam.ID }

func (dev *simDevice) NewReader(size Size, format PixelFormat, maxImages int) (ImageReader, error) {
	var sizes []Size
	switch format {
	case FormatJPEG:
		sizes = dev.cam.JPEGSizes
	case dev.drv.previewFormat():
		sizes = dev.cam.PreviewSizes
	default:
		return nil, fmt.Errorf("%w: format %s on %s", ErrUnsupported, format, dev.drv.Name())
	}
	if !slices.Contains(sizes, size) {
		return nil, fmt.Errorf("%w: size %s for %s", ErrUnsupported, size, format)
	}
	r, err := NewReader(size, format, maxImages)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (dev *simDevice) CreateSession(outputs []ImageReader, cb SessionCallbacks, l *Looper) error {
	dev.mu.Lock()
	if dev.closed {
		dev.mu.Unlock()
		return ErrClosed
	}
	old := dev.session
	s := &simSession{dev: dev, outputs: outputs, looper: l}
	dev.session = s
	dev.mu.Unlock()
	if old != nil {
		old.Close()
	}

	go func() {
		if err := dev.drv.opts.ConfigureErr; err != nil {
			l.Post(func() {
				if cb.ConfigureFailed != nil {
					cb.ConfigureFailed(err)
				}
			})
			return
		}
		l.Post(func() {
			if cb.Configured != nil {
				cb.Configured(s)
			}
		})
	}()
	return nil
}

func (dev *simDevice) stopSession() {
	dev.mu.Lock()
	s := dev.session
	dev.session = nil
	dev.mu.Unlock()
	if s != nil {
		s.Close()
	}
}

func (dev *simDevice) Close() error {
	dev.mu.Lock()
	if dev.closed {
		dev.mu.Unlock()
		return nil
	}
	dev.closed = true
	dev.mu.Unlock()
	dev.stopSession()
	dev.drv.release(dev.cam.ID, dev)
	debug.Trace("sim: camera %s closed", dev.cam.ID)
	return nil
}

// simSession produces frames for the repeating request and emulates the
// 3A (auto-focus, auto-exposure) routines of a camera HAL.
type simSession struct {
	dev     *simDevice
	outputs []ImageReader
	looper  *Looper

	mu        sync.Mutex
	closed    bool
	repeating *Request
	repeatCB  CaptureCallbacks
	stop      chan struct{}
	wg        sync.WaitGroup
	frame     uint64
	lastStill chan struct{} // closed once the previous still request is delivered

	// 3A
	passive     int // frames since continuous AF (re)started
	afScan      int // frames left in a triggered AF scan
	afLocked    bool
	aePre       int // frames left in the precapture sequence
	precaptured bool
}

func (s *simSession) SetRepeatingRequest(req Request, cb CaptureCallbacks) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	r := req
	s.repeating = &r
	s.repeatCB = cb
	if s.stop == nil {
		s.stop = make(chan struct{})
		s.wg.Add(1)
		go s.produce(s.stop)
	}
	return nil
}

func (s *simSession) StopRepeating() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	stop := s.stop
	s.stop = nil
	s.repeating = nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
		s.wg.Wait()
	}
	return nil
}

func (s *simSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	stop := s.stop
	s.stop = nil
	s.repeating = nil
	s.closed = true
	s.mu.Unlock()
	if stop != nil {
		close(stop)
		s.wg.Wait()
	}
	return nil
}

func (s *simSession) produce(stop <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.dev.drv.opts.FrameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *simSession) tick() {
	s.mu.Lock()
	if s.repeating == nil || s.closed {
		s.mu.Unlock()
		return
	}
	req := *s.repeating
	cb := s.repeatCB
	s.frame++
	frame := s.frame
	s.advance3A()
	res := s.result(req, frame)
	s.mu.Unlock()

	now := time.Now()
	for _, t := range req.Targets {
		p, ok := t.(Producer)
		if !ok {
			continue
		}
		var img *Image
		switch t.Format() {
		case FormatYUV420:
			img = simYUV(t.Size(), s.dev.drv.opts.PixelStride, frame, now)
		case FormatBGRA:
			img = simBGRA(t.Size(), frame, now)
		default:
			continue
		}
		p.Enqueue(img)
	}
	s.deliver(cb, res)
}

// advance3A moves the AF/AE routines by one frame. Caller holds s.mu.
func (s *simSession) advance3A() {
	switch {
	case s.afScan > 0:
		s.afScan--
		if s.afScan == 0 {
			s.afLocked = true
		}
	case !s.afLocked:
		s.passive++
	}
	if s.aePre > 0 {
		s.aePre--
		if s.aePre == 0 {
			s.precaptured = true
		}
	}
}

// result snapshots the 3A state. Caller holds s.mu.
func (s *simSession) result(req Request, frame uint64) CaptureResult {
	res := CaptureResult{Tag: req.Tag, FrameNumber: frame, Timestamp: time.Now()}
	if s.dev.drv.opts.OmitMetadata {
		return res
	}
	var af AFState
	switch {
	case s.afLocked:
		af = AFFocusedLocked
	case s.afScan > 0:
		af = AFActiveScan
	case s.passive < s.dev.drv.opts.FocusFrames:
		af = AFPassiveScan
	default:
		af = AFPassiveFocused
	}
	var ae AEState
	switch {
	case s.aePre > 0:
		ae = AEPrecapture
	case s.dev.drv.opts.LowLight && !s.precaptured:
		ae = AEFlashRequired
	default:
		ae = AEConverged
	}
	res.AFState = &af
	res.AEState = &ae
	return res
}

func (s *simSession) deliver(cb CaptureCallbacks, res CaptureResult) {
	s.looper.Post(func() {
		if cb.Progressed != nil {
			cb.Progressed(res)
		}
		if cb.Completed != nil {
			cb.Completed(res)
		}
	})
}

func (s *simSession) Capture(req Request, cb CaptureCallbacks) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	switch req.AFTrigger {
	case AFTriggerStart:
		s.afLocked = false
		s.afScan = s.dev.drv.opts.FocusFrames
	case AFTriggerCancel:
		s.afLocked = false
		s.afScan = 0
		s.passive = 0
		s.precaptured = false
	}
	if req.AEPrecaptureTrigger == AEPrecaptureStart {
		s.aePre = 2
	}
	s.frame++
	frame := s.frame
	res := s.result(req, frame)
	s.mu.Unlock()

	var stills []Producer
	for _, t := range req.Targets {
		if p, ok := t.(Producer); ok && t.Format() == FormatJPEG {
			stills = append(stills, p)
		}
	}
	if len(stills) == 0 {
		s.deliver(cb, res)
		return nil
	}

	drv := s.dev.drv
	delay := drv.stillDelay()
	s.mu.Lock()
	prev, done := s.lastStill, make(chan struct{})
	s.lastStill = done
	s.mu.Unlock()

	// Stills leave the pipeline in request order.
	go func() {
		defer close(done)
		if delay > 0 {
			time.Sleep(delay)
		}
		imgs := make([]*Image, len(stills))
		for i, p := range stills {
			img, err := simJPEG(p.Size(), frame, time.Now())
			if err != nil {
				debug.Error(fmt.Errorf("sim: encode still: %w", err))
				continue
			}
			imgs[i] = img
		}
		if prev != nil {
			<-prev
		}
		for i, p := range stills {
			if imgs[i] == nil {
				continue
			}
			drv.recordStill(req.Tag, imgs[i])
			p.Enqueue(imgs[i])
		}
		s.deliver(cb, res)
	}()
	return nil
}

// sortedBySize returns sizes ordered by decreasing area, for logs.
func sortedBySize(sizes []Size) []Size {
	out := slices.Clone(sizes)
	sort.Slice(out, func(i, j int) bool { return out[i].Area() > out[j].Area() })
	return out
}

// String lists the simulated devices.
func (d *SimDriver) String() string {
	s := d.Name() + ":"
	for _, c := range d.opts.Cameras {
		s += fmt.Sprintf(" [%s %s %d° %v]", c.ID, c.Facing, c.SensorOrientation, sortedBySize(c.PreviewSizes))
	}
	return s
}
