// Package render draws preview frames the way a display surface would,
// applying the transform computed by the size negotiator.
package render

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"

	"github.com/cjeanneret/unicam/internal/logic/geometry"
	"github.com/cjeanneret/unicam/internal/logic/preview"
)

// DefaultJPEGQuality is used by EncodeJPEG when quality is out of range.
const DefaultJPEGQuality = 80

// Canvas is the size of the surface a frame is drawn on. A zero canvas
// keeps the size of the rotated frame.
type Canvas struct {
	Width  int
	Height int
}

// Image wraps the RGBA bytes of f without copying them.
func Image(f preview.Frame) (*image.NRGBA, error) {
	if f.Width <= 0 || f.Height <= 0 {
		return nil, fmt.Errorf("render: empty frame %dx%d", f.Width, f.Height)
	}
	if want := f.Width * f.Height * 4; len(f.Data) < want {
		return nil, fmt.Errorf("render: frame %dx%d needs %d bytes, got %d", f.Width, f.Height, want, len(f.Data))
	}
	return &image.NRGBA{
		Pix:    f.Data,
		Stride: f.Width * 4,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}, nil
}

// Apply draws f on canvas through t. The rotation is applied first
// (positive degrees turn clockwise, as on a screen where y grows
// downwards), then the image is scaled to cover the canvas and cropped
// around its center, which is what a non-unit scale about the view center
// amounts to. An identity transform stretches the frame to the canvas.
func Apply(f preview.Frame, t geometry.Transform, canvas Canvas) (*image.NRGBA, error) {
	src, err := Image(f)
	if err != nil {
		return nil, err
	}

	var img *image.NRGBA
	switch normalize(t.RotateDegrees) {
	case 90:
		img = imaging.Rotate270(src)
	case 180:
		img = imaging.Rotate180(src)
	case 270:
		img = imaging.Rotate90(src)
	default:
		img = imaging.Clone(src)
	}

	if canvas.Width <= 0 || canvas.Height <= 0 {
		return img, nil
	}
	b := img.Bounds()
	if b.Dx() == canvas.Width && b.Dy() == canvas.Height {
		return img, nil
	}
	if t.ScaleX != 1 || t.ScaleY != 1 {
		return imaging.Fill(img, canvas.Width, canvas.Height, imaging.Center, imaging.Linear), nil
	}
	return imaging.Resize(img, canvas.Width, canvas.Height, imaging.Linear), nil
}

// normalize folds degrees into one of 0, 90, 180, 270.
func normalize(deg float32) int {
	d := int(deg) % 360
	if d < 0 {
		d += 360
	}
	return (d + 45) / 90 * 90 % 360
}

// EncodeJPEG writes img as a JPEG.
func EncodeJPEG(w io.Writer, img image.Image, quality int) error {
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
}

// FrameJPEG renders f through t and returns the encoded JPEG.
func FrameJPEG(f preview.Frame, t geometry.Transform, canvas Canvas, quality int) ([]byte, error) {
	img, err := Apply(f, t, canvas)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := EncodeJPEG(&buf, img, quality); err != nil {
		return nil, fmt.Errorf("render: encode: %w", err)
	}
	return buf.Bytes(), nil
}
