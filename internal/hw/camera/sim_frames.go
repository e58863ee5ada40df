package camera

import (
	"bytes"
	"image"
	"time"

	"github.com/disintegration/imaging"
)

// simYUV renders a moving test pattern as YUV_420_888. pixelStride 2 lays
// the chroma out semi-planar, the U and V planes being two views of one
// interleaved buffer as camera HALs expose NV12.
func simYUV(size Size, pixelStride int, frame uint64, ts time.Time) *Image {
	w, h := size.Width, size.Height
	cw, ch := (w+1)/2, (h+1)/2
	shift := byte(frame)

	y := make([]byte, w*h)
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			y[row*w+col] = byte(col+row) + shift
		}
	}

	if pixelStride == 2 {
		uv := make([]byte, 2*cw*ch)
		for row := 0; row < ch; row++ {
			for col := 0; col < cw; col++ {
				i := row*2*cw + 2*col
				uv[i] = byte(96 + col%64)
				uv[i+1] = byte(160 - row%64)
			}
		}
		return NewImage(FormatYUV420, w, h, ts,
			Plane{Data: y, RowStride: w, PixelStride: 1},
			Plane{Data: uv, RowStride: 2 * cw, PixelStride: 2},
			Plane{Data: uv[1:], RowStride: 2 * cw, PixelStride: 2},
		)
	}

	u := make([]byte, cw*ch)
	v := make([]byte, cw*ch)
	for row := 0; row < ch; row++ {
		for col := 0; col < cw; col++ {
			u[row*cw+col] = byte(96 + col%64)
			v[row*cw+col] = byte(160 - row%64)
		}
	}
	return NewImage(FormatYUV420, w, h, ts,
		Plane{Data: y, RowStride: w, PixelStride: 1},
		Plane{Data: u, RowStride: cw, PixelStride: 1},
		Plane{Data: v, RowStride: cw, PixelStride: 1},
	)
}

// simBGRA renders the test pattern as a packed BGRA sample buffer.
func simBGRA(size Size, frame uint64, ts time.Time) *Image {
	w, h := size.Width, size.Height
	shift := byte(frame)
	data := make([]byte, w*h*4)
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			i := (row*w + col) * 4
			data[i] = byte(col) + shift // B
			data[i+1] = byte(row)       // G
			data[i+2] = byte(col + row) // R
			data[i+3] = 0xFF
		}
	}
	return NewImage(FormatBGRA, w, h, ts, Plane{Data: data, RowStride: w * 4, PixelStride: 4})
}

// simJPEG encodes a still of the test pattern.
func simJPEG(size Size, frame uint64, ts time.Time) (*Image, error) {
	img := image.NewYCbCr(image.Rect(0, 0, size.Width, size.Height), image.YCbCrSubsampleRatio420)
	shift := byte(frame)
	for row := 0; row < size.Height; row++ {
		for col := 0; col < size.Width; col++ {
			img.Y[img.YOffset(col, row)] = byte(col+row) + shift
		}
	}
	for i := range img.Cb {
		img.Cb[i] = 128
		img.Cr[i] = 128
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, err
	}
	return NewImage(FormatJPEG, size.Width, size.Height, ts, Plane{Data: buf.Bytes(), RowStride: 0, PixelStride: 0}), nil
}
