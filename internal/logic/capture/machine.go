// Package capture drives a camera through its lifecycle: open, session
// configuration, preview and the focus/metering sequence of a still.
package capture

import (
	"errors"
	"fmt"

	"github.com/cjeanneret/unicam/internal/debug"
	"github.com/cjeanneret/unicam/internal/hw/camera"
)

var (
	// ErrTimeout is returned when the device did not answer in time.
	ErrTimeout = errors.New("camera timeout")
	// ErrDeviceBusy is returned when the open/close lock could not be taken.
	ErrDeviceBusy = errors.New("camera busy")
	// ErrConfigureFailed is returned when the device rejected the session outputs.
	ErrConfigureFailed = errors.New("session configuration failed")
	// ErrNotOpen is returned by operations needing an open device.
	ErrNotOpen = errors.New("camera not open")
	// ErrClosed is returned once the camera was closed or lost.
	ErrClosed = errors.New("camera closed")
	// ErrCaptureInProgress is returned when a still is requested while
	// another one is running.
	ErrCaptureInProgress = errors.New("capture in progress")
)

// State is the step of the still capture sequence.
type State int

const (
	Preview State = iota
	WaitingLock
	WaitingPrecapture
	WaitingNonPrecapture
	PictureTaken
)

func (s State) String() string {
	switch s {
	case Preview:
		return "Preview"
	case WaitingLock:
		return "WaitingLock"
	case WaitingPrecapture:
		return "WaitingPrecapture"
	case WaitingNonPrecapture:
		return "WaitingNonPrecapture"
	case PictureTaken:
		return "PictureTaken"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Actions are the requests the machine sends to the session.
type Actions interface {
	TriggerFocus() error  // one-shot request with the AF trigger started
	RunPrecapture() error // one-shot request with the AE precapture trigger started
	CaptureStill() error  // stop the preview and capture a still
	UnlockFocus() error   // cancel the AF trigger and resume the preview
}

// Machine sequences a still capture from capture results.
//
// A Machine is not safe for concurrent use: every method must be called
// from the camera looper, which is where results are delivered.
type Machine struct {
	actions Actions
	state   State
}

// NewMachine creates a machine in the Preview state.
func NewMachine(a Actions) *Machine {
	return &Machine{actions: a}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

func (m *Machine) set(to State) {
	if m.state == to {
		return
	}
	debug.Transition(m.state, to)
	m.state = to
}

// LockFocus starts a still capture by triggering auto-focus.
func (m *Machine) LockFocus() error {
	if m.state != Preview {
		return fmt.Errorf("%w: state %s", ErrCaptureInProgress, m.state)
	}
	m.set(WaitingLock)
	if err := m.actions.TriggerFocus(); err != nil {
		m.set(Preview)
		return fmt.Errorf("lock focus: %w", err)
	}
	return nil
}

// OnCaptureResult advances the sequence. Devices that do not report AF or
// AE state are treated as locked and converged.
func (m *Machine) OnCaptureResult(res camera.CaptureResult) error {
	switch m.state {
	case WaitingLock:
		if res.AFState == nil {
			return m.takePicture()
		}
		if af := *res.AFState; af != camera.AFFocusedLocked && af != camera.AFNotFocusedLocked {
			return nil
		}
		if res.AEState == nil || *res.AEState == camera.AEConverged {
			return m.takePicture()
		}
		m.set(WaitingPrecapture)
		if err := m.actions.RunPrecapture(); err != nil {
			m.abort()
			return fmt.Errorf("precapture: %w", err)
		}

	case WaitingPrecapture:
		if res.AEState == nil || *res.AEState == camera.AEPrecapture || *res.AEState == camera.AEFlashRequired {
			m.set(WaitingNonPrecapture)
		}

	case WaitingNonPrecapture:
		if res.AEState == nil || *res.AEState != camera.AEPrecapture {
			return m.takePicture()
		}
	}
	return nil
}

func (m *Machine) takePicture() error {
	m.set(PictureTaken)
	if err := m.actions.CaptureStill(); err != nil {
		m.abort()
		return fmt.Errorf("capture still: %w", err)
	}
	return nil
}

// StillCaptured ends the sequence once the still result arrived: focus is
// unlocked, the preview resumes and the machine is idle again.
func (m *Machine) StillCaptured() error {
	if m.state != PictureTaken {
		return nil
	}
	m.set(Preview)
	if err := m.actions.UnlockFocus(); err != nil {
		return fmt.Errorf("unlock focus: %w", err)
	}
	return nil
}

// Abort gives up a running sequence and returns to the preview.
func (m *Machine) Abort() {
	if m.state == Preview {
		return
	}
	m.abort()
}

func (m *Machine) abort() {
	m.set(Preview)
	if err := m.actions.UnlockFocus(); err != nil {
		debug.Error(fmt.Errorf("abort capture: %w", err))
	}
}
