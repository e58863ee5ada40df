package geometry

import (
	"fmt"

	"github.com/cjeanneret/unicam/internal/hw/camera"
)

// Transform maps the sensor buffer onto the display canvas. A renderer
// applies, in order: translate, scale about the scale pivot, rotate about
// the rotate pivot.
type Transform struct {
	TranslateX    float32 `json:"translateX"`
	TranslateY    float32 `json:"translateY"`
	ScaleX        float32 `json:"scaleX"`
	ScaleY        float32 `json:"scaleY"`
	ScalePivotX   float32 `json:"scalePivotX"`
	ScalePivotY   float32 `json:"scalePivotY"`
	RotateDegrees float32 `json:"rotateDegrees"`
	RotatePivotX  float32 `json:"rotatePivotX"`
	RotatePivotY  float32 `json:"rotatePivotY"`
}

// Identity returns the transform that leaves the buffer untouched.
func Identity() Transform {
	return Transform{ScaleX: 1, ScaleY: 1}
}

// IsIdentity reports whether t changes nothing.
func (t Transform) IsIdentity() bool {
	return t.TranslateX == 0 && t.TranslateY == 0 &&
		t.ScaleX == 1 && t.ScaleY == 1 && t.RotateDegrees == 0
}

func (t Transform) String() string {
	return fmt.Sprintf("translate(%.1f,%.1f) scale(%.3f,%.3f @%.1f,%.1f) rotate(%.0f° @%.1f,%.1f)",
		t.TranslateX, t.TranslateY, t.ScaleX, t.ScaleY, t.ScalePivotX, t.ScalePivotY,
		t.RotateDegrees, t.RotatePivotX, t.RotatePivotY)
}

// ConfigureTransform computes the display transform for a buffer shown in
// a reqW x reqH view. The view and buffer rectangles are taken in the
// rotated frame (height by width), both centered on the view center.
//
// Quarter turns: translate by view center minus buffer center, scale by
// max(reqW/bufH, reqH/bufW) and rotate by 90*(code-2) degrees, both about
// the view center. Half turn: rotate 180 degrees about the center.
// No rotation: identity.
func ConfigureTransform(reqW, reqH int, buffer camera.Size, rotation Rotation) Transform {
	t := Identity()
	centerX := float32(reqH) / 2
	centerY := float32(reqW) / 2
	bufCenterX := float32(buffer.Height) / 2
	bufCenterY := float32(buffer.Width) / 2

	switch rotation % 4 {
	case Rotation90, Rotation270:
		if buffer.Width == 0 || buffer.Height == 0 {
			return t
		}
		t.TranslateX = centerX - bufCenterX
		t.TranslateY = centerY - bufCenterY
		scale := max(float32(reqW)/float32(buffer.Height), float32(reqH)/float32(buffer.Width))
		t.ScaleX = scale
		t.ScaleY = scale
		t.ScalePivotX = centerX
		t.ScalePivotY = centerY
		t.RotateDegrees = float32(90 * (int(rotation%4) - 2))
		t.RotatePivotX = centerX
		t.RotatePivotY = centerY
	case Rotation180:
		t.RotateDegrees = 180
		t.RotatePivotX = centerX
		t.RotatePivotY = centerY
	}
	return t
}

// RelativeRotation returns the rotation between the sensor image and the
// display: sensor minus display for back lenses, sensor plus display for
// front lenses, which are mirrored.
func RelativeRotation(sensorOrientation int, display Rotation, facing camera.LensFacing) Rotation {
	var deg int
	if facing == camera.FacingFront {
		deg = sensorOrientation + display.Degrees()
	} else {
		deg = sensorOrientation - display.Degrees()
	}
	deg = ((deg % 360) + 360) % 360
	return Rotation(deg / 90)
}

// JPEGOrientation returns the orientation tag of a still taken while the
// display is rotated by r.
func JPEGOrientation(r Rotation) int {
	switch r % 4 {
	case Rotation90:
		return 0
	case Rotation180:
		return 270
	case Rotation270:
		return 180
	default:
		return 90
	}
}
