package capture

import (
	"time"

	"github.com/cjeanneret/unicam/internal/logic/geometry"
)

// Default timeouts of the asynchronous device round trips.
const (
	DefaultOpenLockTimeout  = 2500 * time.Millisecond
	DefaultOpenTimeout      = 3 * time.Second
	DefaultConfigureTimeout = 5 * time.Second
	DefaultCaptureTimeout   = 3 * time.Second
)

// Reader pool sizes.
const (
	PreviewImages = 4
	StillImages   = 2
)

// Flash fires an external flash unit. It is used for stills taken in low
// light on devices that have no flash of their own.
type Flash interface {
	Fire() error
}

// Options configures the cameras of a Manager.
type Options struct {
	OpenLockTimeout  time.Duration
	OpenTimeout      time.Duration
	ConfigureTimeout time.Duration
	CaptureTimeout   time.Duration

	Negotiator    geometry.Negotiator
	PreviewImages int           // preview reader pool
	QueueDepth    int           // preview frames kept for the UI
	Workers       int           // converter goroutines
	MinInterval   time.Duration // preview throttle, 0 disables it

	Flash Flash // optional
}

// DefaultOptions returns the options of an upright 160 dpi full HD display.
func DefaultOptions() Options {
	return Options{
		OpenLockTimeout:  DefaultOpenLockTimeout,
		OpenTimeout:      DefaultOpenTimeout,
		ConfigureTimeout: DefaultConfigureTimeout,
		CaptureTimeout:   DefaultCaptureTimeout,
		Negotiator: geometry.Negotiator{
			Density: geometry.Density{DPI: geometry.BaselineDPI},
		},
		PreviewImages: PreviewImages,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.OpenLockTimeout <= 0 {
		o.OpenLockTimeout = d.OpenLockTimeout
	}
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = d.OpenTimeout
	}
	if o.ConfigureTimeout <= 0 {
		o.ConfigureTimeout = d.ConfigureTimeout
	}
	if o.CaptureTimeout <= 0 {
		o.CaptureTimeout = d.CaptureTimeout
	}
	if o.PreviewImages <= 0 {
		o.PreviewImages = d.PreviewImages
	}
	return o
}
