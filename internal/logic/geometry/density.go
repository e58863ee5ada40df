package geometry

import (
	"math"

	"github.com/cjeanneret/unicam/internal/hw/camera"
)

// BaselineDPI is the density at which one dp equals one pixel.
const BaselineDPI = 160

// RequestedSize is a preview size in density-independent pixels (dp).
type RequestedSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Density converts between dp and physical pixels of a display.
type Density struct {
	DPI float64
}

func (d Density) factor() float64 {
	if d.DPI <= 0 {
		return 1
	}
	return d.DPI / BaselineDPI
}

// ToPixels converts a dp size to pixels: px = round(dp * dpi / 160).
func (d Density) ToPixels(s RequestedSize) camera.Size {
	f := d.factor()
	return camera.Size{
		Width:  int(math.Round(s.Width * f)),
		Height: int(math.Round(s.Height * f)),
	}
}

// ToDp converts a pixel size back to dp: dp = round(px / (dpi / 160)).
func (d Density) ToDp(s camera.Size) RequestedSize {
	f := d.factor()
	return RequestedSize{
		Width:  math.Round(float64(s.Width) / f),
		Height: math.Round(float64(s.Height) / f),
	}
}
