package geometry

import (
	"fmt"

	"github.com/cjeanneret/unicam/internal/debug"
	"github.com/cjeanneret/unicam/internal/hw/camera"
)

// Negotiator chooses a preview buffer for a display.
type Negotiator struct {
	Display         camera.Size // physical display size in pixels
	DisplayRotation Rotation
	Density         Density
}

// Plan is the outcome of a negotiation.
type Plan struct {
	Format        camera.PixelFormat
	PixelSize     camera.Size   // buffer size requested from the device
	Size          RequestedSize // PixelSize in dp
	RequestPixels camera.Size   // the requested view size in pixels
	Swapped       bool
	Rotation      Rotation // sensor relative to display
	Transform     Transform
}

// Negotiate converts the requested dp size to pixels, swaps it when the
// sensor is mounted a quarter turn from the display, and picks the preview
// buffer among the device output sizes. The aspect reference is the
// largest YUV output of the device.
func (n Negotiator) Negotiate(chars camera.Characteristics, req RequestedSize) (Plan, error) {
	format := chars.PreviewFormat()
	choices := chars.Sizes(format)
	if len(choices) == 0 {
		return Plan{}, fmt.Errorf("%w: camera %s lists no %s output size", camera.ErrUnsupported, chars.ID, format)
	}
	aspect := chars.Largest(camera.FormatYUV420)
	if aspect.IsZero() {
		aspect = chars.Largest(format)
	}

	display := n.Display
	if display.IsZero() {
		display = camera.Size{Width: MaxPreviewWidth, Height: MaxPreviewHeight}
	}

	reqPx := n.Density.ToPixels(req)
	swapped := SwappedDimensions(n.DisplayRotation, chars.SensorOrientation)
	rotated := RotatedRequest(reqPx, swapped)
	bounds := MaxPreviewSize(display, swapped)

	size := ChooseOptimalSize(choices, rotated.Width, rotated.Height, bounds.Width, bounds.Height, aspect)
	rotation := RelativeRotation(chars.SensorOrientation, n.DisplayRotation, chars.Facing)

	plan := Plan{
		Format:        format,
		PixelSize:     size,
		Size:          n.Density.ToDp(size),
		RequestPixels: reqPx,
		Swapped:       swapped,
		Rotation:      rotation,
		Transform:     ConfigureTransform(reqPx.Width, reqPx.Height, size, rotation),
	}
	debug.Verbose("preview plan for camera %s: request %s px (swapped=%v, max %s), buffer %s %s, rotation %s",
		chars.ID, reqPx, swapped, bounds, size, format, rotation)
	debug.Trace("transform: %s", plan.Transform)
	return plan, nil
}
