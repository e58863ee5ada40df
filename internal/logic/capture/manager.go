package capture

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cjeanneret/unicam/internal/debug"
	"github.com/cjeanneret/unicam/internal/hw/camera"
)

// Manager hands out the cameras of a driver. Each device is represented by
// a single Camera.
type Manager struct {
	driver camera.Driver
	opts   Options

	mu      sync.Mutex
	cameras map[string]*Camera
}

// NewManager creates a manager for driver.
func NewManager(driver camera.Driver, opts Options) *Manager {
	return &Manager{
		driver:  driver,
		opts:    opts.withDefaults(),
		cameras: make(map[string]*Camera),
	}
}

// Driver returns the underlying camera stack.
func (m *Manager) Driver() camera.Driver { return m.driver }

// GetCamera returns the camera facing the requested way. It returns
// camera.ErrUnsupported when the device has none.
func (m *Manager) GetCamera(l camera.LogicalCamera) (*Camera, error) {
	id, err := camera.Lookup(m.driver, l)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.cameras[id]; ok {
		return c, nil
	}
	chars, err := m.driver.Characteristics(id)
	if err != nil {
		return nil, fmt.Errorf("characteristics of camera %s: %w", id, err)
	}
	c := newCamera(m.driver, chars, m.opts)
	m.cameras[id] = c
	debug.Verbose("%s camera is %s", l, id)
	return c, nil
}

// Close closes every camera handed out.
func (m *Manager) Close() error {
	m.mu.Lock()
	cams := make([]*Camera, 0, len(m.cameras))
	for _, c := range m.cameras {
		cams = append(cams, c)
	}
	m.mu.Unlock()

	var errs []error
	for _, c := range cams {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
