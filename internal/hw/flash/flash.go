// Package flash fires a GPIO-driven flash (LED panel or strobe trigger)
// for cameras that have no flash unit of their own.
package flash

import (
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/unicam/internal/debug"
	"github.com/cjeanneret/unicam/internal/hw/gpio"
)

// Flash drives one output pin. The pin is HIGH while the flash is on.
//
// Fire sequence:
//  1. pin to HIGH (flash on)
//  2. after the configured duration, pin back to LOW
//
// Fire does not block: the still request goes out while the flash is lit.
type Flash struct {
	gpio     gpio.Driver
	pin      int
	duration time.Duration

	mu    sync.Mutex
	timer *time.Timer
	fired int
}

// New configures pin as an output, initially off.
func New(g gpio.Driver, pin int, duration time.Duration) (*Flash, error) {
	if err := g.SetupPin(pin, gpio.Output); err != nil {
		return nil, fmt.Errorf("flash: setup pin %d: %w", pin, err)
	}
	if err := g.WritePin(pin, gpio.Low); err != nil {
		return nil, fmt.Errorf("flash: reset pin %d: %w", pin, err)
	}
	return &Flash{gpio: g, pin: pin, duration: duration}, nil
}

// Fire turns the flash on for the configured duration. Firing while the
// flash is lit restarts the duration.
func (f *Flash) Fire() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	debug.Verbose("Flash: on (pin %d, %v)", f.pin, f.duration)
	if err := f.gpio.WritePin(f.pin, gpio.High); err != nil {
		return fmt.Errorf("flash on: %w", err)
	}
	f.fired++
	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = time.AfterFunc(f.duration, f.off)
	return nil
}

func (f *Flash) off() {
	f.mu.Lock()
	defer f.mu.Unlock()
	debug.Verbose("Flash: off (pin %d)", f.pin)
	if err := f.gpio.WritePin(f.pin, gpio.Low); err != nil {
		debug.Error(fmt.Errorf("flash off: %w", err))
	}
	f.timer = nil
}

// Fired returns how many times the flash was fired.
func (f *Flash) Fired() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fired
}

// Close turns the flash off immediately.
func (f *Flash) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	return f.gpio.WritePin(f.pin, gpio.Low)
}
