//go:build !gstreamer

package camera

import "fmt"

// NewGStreamerDriver is only available in binaries built with -tags gstreamer.
func NewGStreamerDriver(opts GStreamerOptions) (Driver, error) {
	return nil, fmt.Errorf("%w: built without gstreamer support (rebuild with -tags gstreamer)", ErrUnsupported)
}
