// Package convert turns native camera buffers into packed RGBA frames.
package convert

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// ErrInvalidFrame is returned when the source buffers cannot hold the declared frame.
var ErrInvalidFrame = errors.New("invalid frame")

// YUV420 describes a 4:2:0 frame as delivered by the sensor.
//
// Planar (I420) frames have UVPixelStride 1; semi-planar frames
// (NV12/NV21 exposed as two interleaved views) have UVPixelStride 2.
type YUV420 struct {
	Y, U, V       []byte
	Width, Height int
	YRowStride    int // bytes between two luma rows
	UVRowStride   int // bytes between two chroma rows
	UVPixelStride int // bytes between two chroma samples on a row
}

// Validate checks that every plane covers the indexed range.
func (f YUV420) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalidFrame, f.Width, f.Height)
	}
	if f.YRowStride < f.Width {
		return fmt.Errorf("%w: luma row stride %d < width %d", ErrInvalidFrame, f.YRowStride, f.Width)
	}
	if f.UVPixelStride <= 0 || f.UVRowStride <= 0 {
		return fmt.Errorf("%w: chroma strides %d/%d", ErrInvalidFrame, f.UVRowStride, f.UVPixelStride)
	}
	if need := f.YRowStride*(f.Height-1) + f.Width; len(f.Y) < need {
		return fmt.Errorf("%w: luma plane %d bytes, need %d", ErrInvalidFrame, len(f.Y), need)
	}
	need := f.UVPixelStride*((f.Width-1)/2) + f.UVRowStride*((f.Height-1)/2) + 1
	if len(f.U) < need || len(f.V) < need {
		return fmt.Errorf("%w: chroma planes %d/%d bytes, need %d", ErrInvalidFrame, len(f.U), len(f.V), need)
	}
	return nil
}

// YUV420ToRGBA converts src to a freshly allocated Width*Height*4 RGBA buffer.
// Rows are split across workers goroutines (<= 0 means one per CPU) and
// all of them finish before the buffer is returned.
func YUV420ToRGBA(src YUV420, workers int) ([]byte, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	dst := make([]byte, src.Width*src.Height*4)
	forRows(src.Height, workers, func(y0, y1 int) {
		yuvRows(src, dst, y0, y1)
	})
	return dst, nil
}

func yuvRows(src YUV420, dst []byte, y0, y1 int) {
	for y := y0; y < y1; y++ {
		lumaRow := src.YRowStride * y
		chromaRow := src.UVRowStride * (y / 2)
		out := y * src.Width * 4
		for x := 0; x < src.Width; x++ {
			c := src.UVPixelStride*(x/2) + chromaRow
			r, g, b := pixel(int(src.Y[lumaRow+x]), int(src.U[c]), int(src.V[c]))
			dst[out] = r
			dst[out+1] = g
			dst[out+2] = b
			dst[out+3] = 0xFF
			out += 4
		}
	}
}

// pixel applies the fixed-point BT.601 approximation used by the preview.
func pixel(y, u, v int) (r, g, b byte) {
	rr := y + v*1436/1024 - 179
	gg := y - u*46549/131072 + 44 - v*93604/131072 + 91
	bb := y + u*1814/1024 - 227
	return clamp(rr), clamp(gg), clamp(bb)
}

func clamp(c int) byte {
	if c < 0 {
		return 0
	}
	if c > 255 {
		return 255
	}
	return byte(c)
}

// BGRAToRGBA swaps the blue and red channels of a packed BGRA frame.
func BGRAToRGBA(src []byte, width, height, workers int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: size %dx%d", ErrInvalidFrame, width, height)
	}
	if len(src) < width*height*4 {
		return nil, fmt.Errorf("%w: %d bytes for %dx%d BGRA", ErrInvalidFrame, len(src), width, height)
	}
	dst := make([]byte, width*height*4)
	forRows(height, workers, func(y0, y1 int) {
		for i := y0 * width * 4; i < y1*width*4; i += 4 {
			dst[i] = src[i+2]
			dst[i+1] = src[i+1]
			dst[i+2] = src[i]
			dst[i+3] = src[i+3]
		}
	})
	return dst, nil
}

// forRows runs fn over [0,rows) in contiguous bands and waits for all of them.
func forRows(rows, workers int, fn func(y0, y1 int)) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > rows {
		workers = rows
	}
	if workers <= 1 {
		fn(0, rows)
		return
	}
	band := (rows + workers - 1) / workers
	var wg sync.WaitGroup
	for y0 := 0; y0 < rows; y0 += band {
		y1 := min(y0+band, rows)
		wg.Add(1)
		go func(y0, y1 int) {
			defer wg.Done()
			fn(y0, y1)
		}(y0, y1)
	}
	wg.Wait()
}
