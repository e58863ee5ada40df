// Package geometry chooses the sensor output resolution of a preview and
// computes the transform mapping the sensor buffer onto the display canvas.
package geometry

import (
	"fmt"

	"github.com/cjeanneret/unicam/internal/debug"
	"github.com/cjeanneret/unicam/internal/hw/camera"
)

// Preview buffers are never chosen larger than this, whatever the display.
const (
	MaxPreviewWidth  = 1920
	MaxPreviewHeight = 1080
)

// Rotation is a display rotation code: 0, 1, 2 or 3 quarter turns.
type Rotation int

const (
	Rotation0 Rotation = iota
	Rotation90
	Rotation180
	Rotation270
)

// RotationFromDegrees converts 0, 90, 180 or 270 degrees to a rotation code.
func RotationFromDegrees(deg int) (Rotation, error) {
	switch deg {
	case 0, 90, 180, 270:
		return Rotation(deg / 90), nil
	default:
		return Rotation0, fmt.Errorf("rotation must be 0, 90, 180 or 270 degrees, got %d", deg)
	}
}

// Degrees returns the clockwise angle of r.
func (r Rotation) Degrees() int { return int(r%4) * 90 }

func (r Rotation) String() string { return fmt.Sprintf("%d°", r.Degrees()) }

// SizeOptions holds the candidates that survived the bounds and aspect
// filters, split by whether they cover the requested size.
type SizeOptions struct {
	BigEnough    []camera.Size
	NotBigEnough []camera.Size
}

// ClassifySizes keeps the choices that fit in maxW x maxH and have exactly
// the aspect ratio of aspect, using the integer test h == w*aspect.H/aspect.W.
// A survivor is big enough when both dimensions reach the request.
func ClassifySizes(choices []camera.Size, reqW, reqH, maxW, maxH int, aspect camera.Size) SizeOptions {
	var opts SizeOptions
	if aspect.Width == 0 {
		return opts
	}
	for _, c := range choices {
		if c.Width > maxW || c.Height > maxH {
			continue
		}
		if c.Height != c.Width*aspect.Height/aspect.Width {
			continue
		}
		if c.Width >= reqW && c.Height >= reqH {
			opts.BigEnough = append(opts.BigEnough, c)
		} else {
			opts.NotBigEnough = append(opts.NotBigEnough, c)
		}
	}
	return opts
}

// ChooseOptimalSize picks the smallest candidate that covers the request.
// When none does, it picks the largest one that does not. When the filters
// leave nothing, it falls back to the first choice.
//
// Ties on area keep the first candidate in choices order.
func ChooseOptimalSize(choices []camera.Size, reqW, reqH, maxW, maxH int, aspect camera.Size) camera.Size {
	if len(choices) == 0 {
		return camera.Size{}
	}
	opts := ClassifySizes(choices, reqW, reqH, maxW, maxH, aspect)
	debug.Trace("sizes for %dx%d (max %dx%d, aspect %s): big enough %v, not big enough %v",
		reqW, reqH, maxW, maxH, aspect, opts.BigEnough, opts.NotBigEnough)

	if len(opts.BigEnough) > 0 {
		return smallest(opts.BigEnough)
	}
	if len(opts.NotBigEnough) > 0 {
		return largest(opts.NotBigEnough)
	}
	debug.Info("no suitable preview size for %dx%d, using %s", reqW, reqH, choices[0])
	return choices[0]
}

func smallest(sizes []camera.Size) camera.Size {
	best := sizes[0]
	for _, s := range sizes[1:] {
		if s.Area() < best.Area() {
			best = s
		}
	}
	return best
}

func largest(sizes []camera.Size) camera.Size {
	best := sizes[0]
	for _, s := range sizes[1:] {
		if s.Area() > best.Area() {
			best = s
		}
	}
	return best
}

// SwappedDimensions reports whether the sensor image is rotated a quarter
// turn relative to the display, in which case width and height of the
// request and of the display bounds trade places.
func SwappedDimensions(display Rotation, sensorOrientation int) bool {
	switch display % 4 {
	case Rotation0, Rotation180:
		return sensorOrientation == 90 || sensorOrientation == 270
	case Rotation90, Rotation270:
		return sensorOrientation == 0 || sensorOrientation == 180
	}
	return false
}

// RotatedRequest swaps the requested dimensions when swapped is set.
func RotatedRequest(req camera.Size, swapped bool) camera.Size {
	if swapped {
		return camera.Size{Width: req.Height, Height: req.Width}
	}
	return req
}

// MaxPreviewSize returns the display bounds, swapped when needed and
// capped to MaxPreviewWidth x MaxPreviewHeight.
func MaxPreviewSize(display camera.Size, swapped bool) camera.Size {
	w, h := display.Width, display.Height
	if swapped {
		w, h = h, w
	}
	return camera.Size{Width: min(w, MaxPreviewWidth), Height: min(h, MaxPreviewHeight)}
}
