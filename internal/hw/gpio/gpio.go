// Package gpio drives the GPIO lines of external camera accessories.
package gpio

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/unicam/internal/debug"
)

// Level is the logical state of a pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "HIGH"
	}
	return "LOW"
}

// PinMode tells whether a pin is read or driven.
type PinMode int

const (
	Input PinMode = iota
	Output
)

func (m PinMode) String() string {
	if m == Output {
		return "output"
	}
	return "input"
}

// Driver controls GPIO pins. RPiDriver talks to a Raspberry Pi, MockDriver
// keeps the pin states in memory for development on a PC.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// NewDriver returns a MockDriver when mock is set and a RPiDriver otherwise.
func NewDriver(mock bool) (Driver, error) {
	if mock {
		debug.Info("Using MOCK GPIO driver (development mode)")
		return NewMockDriver(), nil
	}
	return NewRPiDriver()
}

// Write is one WritePin call seen by a MockDriver.
type Write struct {
	Pin   int
	Level Level
}

// MockDriver remembers pin modes, levels and the history of writes.
type MockDriver struct {
	mu     sync.Mutex
	modes  map[int]PinMode
	levels map[int]Level
	writes []Write
	closed bool
}

// NewMockDriver creates an in-memory driver.
func NewMockDriver() *MockDriver {
	return &MockDriver{modes: make(map[int]PinMode), levels: make(map[int]Level)}
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("gpio: driver closed")
	}
	m.modes[pin] = mode
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("gpio: driver closed")
	}
	if mode, ok := m.modes[pin]; ok && mode != Output {
		return fmt.Errorf("gpio: pin %d is an input", pin)
	}
	m.modes[pin] = Output
	m.levels[pin] = level
	m.writes = append(m.writes, Write{Pin: pin, Level: level})
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[pin], nil
}

// Writes returns a copy of the write history.
func (m *MockDriver) Writes() []Write {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Write(nil), m.writes...)
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
