package camera

import "fmt"

// GStreamerOptions configures the V4L2 stack.
type GStreamerOptions struct {
	Device string // e.g. /dev/video0
	Width  int
	Height int
	FPS    int
	Facing LensFacing // webcams do not report it
}

func roundUp(n, to int) int { return (n + to - 1) / to * to }

// i420Planes splits a raw video/x-raw,format=I420 buffer into planes using
// GStreamer's default layout: every row stride is rounded up to 4 bytes
// and the planes follow each other without gaps.
func i420Planes(data []byte, width, height int) ([]Plane, error) {
	yStride := roundUp(width, 4)
	cStride := roundUp(roundUp(width, 2)/2, 4)
	cRows := roundUp(height, 2) / 2
	uOff := yStride * roundUp(height, 2)
	vOff := uOff + cStride*cRows
	end := vOff + cStride*cRows
	if len(data) < end {
		return nil, fmt.Errorf("I420 %dx%d needs %d bytes, got %d", width, height, end, len(data))
	}
	return []Plane{
		{Data: data[:uOff], RowStride: yStride, PixelStride: 1},
		{Data: data[uOff:vOff], RowStride: cStride, PixelStride: 1},
		{Data: data[vOff:end], RowStride: cStride, PixelStride: 1},
	}, nil
}

// launchLine builds the capture pipeline: one branch for the preview
// (raw I420) and one for stills (jpegenc), both keeping only the newest buffer.
func launchLine(o GStreamerOptions) string {
	return fmt.Sprintf(
		"v4l2src device=%s ! videoconvert ! videoscale ! videorate ! "+
			"video/x-raw,format=I420,width=%d,height=%d,framerate=%d/1 ! tee name=t "+
			"t. ! queue leaky=downstream max-size-buffers=1 ! appsink name=preview sync=false max-buffers=1 drop=true "+
			"t. ! queue leaky=downstream max-size-buffers=1 ! jpegenc quality=90 ! appsink name=still sync=false max-buffers=1 drop=true",
		o.Device, o.Width, o.Height, o.FPS)
}
