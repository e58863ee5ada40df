// Package camera describes the native camera stack the rest of the
// application drives: devices, capture sessions, requests, results and
// image readers. Concrete stacks (simulated, GStreamer) implement Driver.
package camera

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnsupported is returned when no device matches a request.
	ErrUnsupported = errors.New("unsupported operation")
	// ErrNoBuffer means no image is currently queued in a reader.
	ErrNoBuffer = errors.New("no buffer available")
	// ErrDisconnected means the device went away.
	ErrDisconnected = errors.New("camera disconnected")
	// ErrInUse is returned by OpenDevice for a device that is already open.
	ErrInUse = errors.New("camera in use")
	// ErrClosed is returned by operations on a closed device, session or reader.
	ErrClosed = errors.New("closed")
)

// LogicalCamera selects a camera by the way it faces.
type LogicalCamera int

const (
	Rear LogicalCamera = iota
	Front
)

// ParseLogical parses "rear" or "front".
func ParseLogical(s string) (LogicalCamera, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rear", "back":
		return Rear, nil
	case "front":
		return Front, nil
	default:
		return Rear, fmt.Errorf("unknown logical camera %q", s)
	}
}

// Facing returns the lens facing a device must report to match.
func (l LogicalCamera) Facing() LensFacing {
	if l == Front {
		return FacingFront
	}
	return FacingBack
}

func (l LogicalCamera) String() string {
	if l == Front {
		return "front"
	}
	return "rear"
}

// LensFacing is the direction a device points to.
type LensFacing int

const (
	FacingBack LensFacing = iota
	FacingFront
	FacingExternal
)

func (f LensFacing) String() string {
	switch f {
	case FacingBack:
		return "back"
	case FacingFront:
		return "front"
	default:
		return "external"
	}
}

// PixelFormat identifies the layout of an image.
type PixelFormat int

const (
	FormatYUV420 PixelFormat = iota // three planes, 4:2:0, planar or semi-planar
	FormatBGRA                      // one packed plane, 4 bytes per pixel
	FormatJPEG                      // one plane holding a complete JPEG file
)

func (f PixelFormat) String() string {
	switch f {
	case FormatYUV420:
		return "YUV_420_888"
	case FormatBGRA:
		return "BGRA"
	case FormatJPEG:
		return "JPEG"
	default:
		return fmt.Sprintf("PixelFormat(%d)", int(f))
	}
}

// Size is a width/height pair in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Area returns Width*Height.
func (s Size) Area() int { return s.Width * s.Height }

// IsZero reports whether s is the zero size.
func (s Size) IsZero() bool { return s.Width == 0 && s.Height == 0 }

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

// Characteristics are the static properties of a device.
type Characteristics struct {
	ID                string
	Facing            LensFacing
	SensorOrientation int // clockwise degrees the sensor image must be rotated to be upright
	FlashAvailable    bool
	OutputSizes       map[PixelFormat][]Size
}

// Sizes returns the output sizes supported for f.
func (c Characteristics) Sizes(f PixelFormat) []Size {
	return c.OutputSizes[f]
}

// PreviewFormat returns the format the preview stream is delivered in.
func (c Characteristics) PreviewFormat() PixelFormat {
	if len(c.OutputSizes[FormatYUV420]) > 0 {
		return FormatYUV420
	}
	return FormatBGRA
}

// Largest returns the size with the biggest area for f, or the zero size.
func (c Characteristics) Largest(f PixelFormat) Size {
	var best Size
	for _, s := range c.OutputSizes[f] {
		if s.Area() > best.Area() {
			best = s
		}
	}
	return best
}

// Template selects the base settings of a request.
type Template int

const (
	TemplatePreview Template = iota
	TemplateStillCapture
)

// AFMode is the auto-focus mode of a request.
type AFMode int

const (
	AFModeOff AFMode = iota
	AFModeAuto
	AFModeContinuousPicture
)

// AFTrigger starts or cancels an auto-focus scan.
type AFTrigger int

const (
	AFTriggerIdle AFTrigger = iota
	AFTriggerStart
	AFTriggerCancel
)

// AEMode is the auto-exposure mode of a request.
type AEMode int

const (
	AEModeOn AEMode = iota
	AEModeOnAutoFlash
)

// AEPrecaptureTrigger starts a precapture metering sequence.
type AEPrecaptureTrigger int

const (
	AEPrecaptureIdle AEPrecaptureTrigger = iota
	AEPrecaptureStart
)

// AFState is the auto-focus state reported in a result.
type AFState int

const (
	AFInactive AFState = iota
	AFPassiveScan
	AFPassiveFocused
	AFActiveScan
	AFFocusedLocked
	AFNotFocusedLocked
)

func (s AFState) String() string {
	return [...]string{"Inactive", "PassiveScan", "PassiveFocused", "ActiveScan", "FocusedLocked", "NotFocusedLocked"}[s]
}

// AEState is the auto-exposure state reported in a result.
type AEState int

const (
	AEInactive AEState = iota
	AESearching
	AEConverged
	AELocked
	AEFlashRequired
	AEPrecapture
)

func (s AEState) String() string {
	return [...]string{"Inactive", "Searching", "Converged", "Locked", "FlashRequired", "Precapture"}[s]
}

// Request is a set of capture settings and the readers that receive the images.
type Request struct {
	Template            Template
	Targets             []ImageReader
	AFMode              AFMode
	AFTrigger           AFTrigger
	AEMode              AEMode
	AEPrecaptureTrigger AEPrecaptureTrigger
	JPEGOrientation     int
	Tag                 uint64 // opaque, echoed in results
}

// HasTarget reports whether r sends images to a reader of format f.
func (r Request) HasTarget(f PixelFormat) bool {
	for _, t := range r.Targets {
		if t.Format() == f {
			return true
		}
	}
	return false
}

// CaptureResult is the metadata of one processed request.
// AFState and AEState are nil when the device does not report them.
type CaptureResult struct {
	Tag         uint64
	FrameNumber uint64
	Timestamp   time.Time
	AFState     *AFState
	AEState     *AEState
}

// CaptureCallbacks receive results on the session looper.
type CaptureCallbacks struct {
	Progressed func(CaptureResult)
	Completed  func(CaptureResult)
}

// DeviceCallbacks receive device lifecycle events on the looper passed to OpenDevice.
type DeviceCallbacks struct {
	Opened       func(Device)
	Disconnected func(Device)
	Error        func(Device, error)
}

// SessionCallbacks receive the outcome of CreateSession on its looper.
type SessionCallbacks struct {
	Configured      func(Session)
	ConfigureFailed func(error)
}

// Driver is a native camera stack.
type Driver interface {
	Name() string
	CameraIDs() ([]string, error)
	Characteristics(id string) (Characteristics, error)
	// OpenDevice starts opening id. The outcome is delivered through cb on l.
	OpenDevice(id string, cb DeviceCallbacks, l *Looper) error
}

// Device is an open camera.
type Device interface {
	ID() string
	// NewReader creates an image reader backed by a pool of maxImages buffers.
	NewReader(size Size, format PixelFormat, maxImages int) (ImageReader, error)
	// CreateSession configures the outputs. The outcome is delivered through cb on l.
	CreateSession(outputs []ImageReader, cb SessionCallbacks, l *Looper) error
	Close() error
}

// Session is a configured capture pipeline.
type Session interface {
	SetRepeatingRequest(req Request, cb CaptureCallbacks) error
	Capture(req Request, cb CaptureCallbacks) error
	StopRepeating() error
	Close() error
}
