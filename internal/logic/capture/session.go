package capture

import (
	"fmt"

	"github.com/cjeanneret/unicam/internal/debug"
	"github.com/cjeanneret/unicam/internal/hw/camera"
	"github.com/cjeanneret/unicam/internal/logic/geometry"
)

// session is a configured capture session and the state of its still
// sequence. Apart from its construction it is only touched on the looper.
type session struct {
	cam       *Camera
	gen       uint64
	session   camera.Session
	still     camera.ImageReader
	repeating camera.Request
	machine   *Machine

	shot        uint64   // picture whose still is expected
	flashNeeded bool     // AE asked for a flash during the current shot
	stills      []uint64 // shots of submitted still requests, oldest first
}

// current reports whether s is still the live session of its camera.
func (s *session) current() bool { return s.cam.active(s.gen) == s }

func (s *session) callbacks() camera.CaptureCallbacks {
	return camera.CaptureCallbacks{Completed: s.onResult}
}

func (s *session) onResult(res camera.CaptureResult) {
	if !s.current() {
		return
	}
	if res.AEState != nil && *res.AEState == camera.AEFlashRequired && s.machine.State() != Preview {
		s.flashNeeded = true
	}
	if err := s.machine.OnCaptureResult(res); err != nil {
		debug.Error(err)
		s.cam.latch.Fail(s.shot, err)
	}
}

func (s *session) TriggerFocus() error {
	req := s.repeating
	req.AFTrigger = camera.AFTriggerStart
	return s.session.Capture(req, s.callbacks())
}

func (s *session) RunPrecapture() error {
	req := s.repeating
	req.AEPrecaptureTrigger = camera.AEPrecaptureStart
	return s.session.Capture(req, s.callbacks())
}

func (s *session) CaptureStill() error {
	req := camera.Request{
		Template:        camera.TemplateStillCapture,
		Targets:         []camera.ImageReader{s.still},
		AFMode:          camera.AFModeContinuousPicture,
		AEMode:          s.repeating.AEMode,
		JPEGOrientation: geometry.JPEGOrientation(s.cam.opts.Negotiator.DisplayRotation),
		Tag:             s.shot,
	}
	if err := s.session.StopRepeating(); err != nil {
		return err
	}
	s.fireFlash()
	shot := s.shot
	err := s.session.Capture(req, camera.CaptureCallbacks{
		Completed: func(camera.CaptureResult) {
			if !s.current() || s.shot != shot {
				return
			}
			if err := s.machine.StillCaptured(); err != nil {
				debug.Error(err)
			}
		},
	})
	if err != nil {
		return err
	}
	s.stills = append(s.stills, shot)
	return nil
}

// nextStill pops the shot of the oldest outstanding still request. Stills
// are delivered in request order.
func (s *session) nextStill() (uint64, bool) {
	if len(s.stills) == 0 {
		return 0, false
	}
	shot := s.stills[0]
	s.stills = s.stills[1:]
	return shot, true
}

func (s *session) UnlockFocus() error {
	req := s.repeating
	req.AFTrigger = camera.AFTriggerCancel
	if err := s.session.Capture(req, s.callbacks()); err != nil {
		return err
	}
	return s.session.SetRepeatingRequest(s.repeating, s.callbacks())
}

// fireFlash pulses the external flash when the device has none and the
// scene asked for one.
func (s *session) fireFlash() {
	flash := s.cam.opts.Flash
	if flash == nil || s.cam.chars.FlashAvailable || !s.flashNeeded {
		return
	}
	if err := flash.Fire(); err != nil {
		debug.Error(fmt.Errorf("flash: %w", err))
	}
}
