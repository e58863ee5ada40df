package capture

import (
	"errors"
	"testing"

	"github.com/cjeanneret/unicam/internal/hw/camera"
)

// recordingActions records the requests the machine sends.
type recordingActions struct {
	calls []string
	fail  map[string]error
}

func (a *recordingActions) record(name string) error {
	a.calls = append(a.calls, name)
	return a.fail[name]
}

func (a *recordingActions) TriggerFocus() error  { return a.record("focus") }
func (a *recordingActions) RunPrecapture() error { return a.record("precapture") }
func (a *recordingActions) CaptureStill() error  { return a.record("still") }
func (a *recordingActions) UnlockFocus() error   { return a.record("unlock") }

func (a *recordingActions) count(name string) int {
	n := 0
	for _, c := range a.calls {
		if c == name {
			n++
		}
	}
	return n
}

func af(s camera.AFState) *camera.AFState { return &s }
func ae(s camera.AEState) *camera.AEState { return &s }

func result(afs *camera.AFState, aes *camera.AEState) camera.CaptureResult {
	return camera.CaptureResult{AFState: afs, AEState: aes}
}

func lockedMachine(t *testing.T) (*Machine, *recordingActions) {
	t.Helper()
	a := &recordingActions{}
	m := NewMachine(a)
	if err := m.LockFocus(); err != nil {
		t.Fatalf("LockFocus: %v", err)
	}
	return m, a
}

// ---------- WaitingLock ----------

func TestMachine_FocusLockedAndConverged(t *testing.T) {
	for _, lock := range []camera.AFState{camera.AFFocusedLocked, camera.AFNotFocusedLocked} {
		m, a := lockedMachine(t)
		m.OnCaptureResult(result(af(lock), ae(camera.AEConverged)))
		if m.State() != PictureTaken {
			t.Fatalf("%s: state = %s, want PictureTaken", lock, m.State())
		}
		if a.count("still") != 1 || a.count("precapture") != 0 {
			t.Errorf("%s: calls = %v", lock, a.calls)
		}
	}
}

func TestMachine_MissingMetadataSkipsPrecapture(t *testing.T) {
	tests := []struct {
		name string
		res  camera.CaptureResult
	}{
		{"no AF state", result(nil, nil)},
		{"no AF state, AE searching", result(nil, ae(camera.AESearching))},
		{"AF locked, no AE state", result(af(camera.AFFocusedLocked), nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, a := lockedMachine(t)
			if err := m.OnCaptureResult(tt.res); err != nil {
				t.Fatalf("OnCaptureResult: %v", err)
			}
			if m.State() != PictureTaken {
				t.Errorf("state = %s, want PictureTaken", m.State())
			}
			if a.count("still") != 1 {
				t.Errorf("calls = %v", a.calls)
			}
		})
	}
}

func TestMachine_WaitsWhileScanning(t *testing.T) {
	m, a := lockedMachine(t)
	for _, s := range []camera.AFState{camera.AFActiveScan, camera.AFPassiveScan, camera.AFInactive} {
		m.OnCaptureResult(result(af(s), ae(camera.AEConverged)))
	}
	if m.State() != WaitingLock {
		t.Errorf("state = %s, want WaitingLock", m.State())
	}
	if len(a.calls) != 1 {
		t.Errorf("calls = %v, want only the focus trigger", a.calls)
	}
}

// ---------- Precapture ----------

func TestMachine_PrecaptureSequence(t *testing.T) {
	m, a := lockedMachine(t)

	m.OnCaptureResult(result(af(camera.AFFocusedLocked), ae(camera.AEFlashRequired)))
	if m.State() != WaitingPrecapture || a.count("precapture") != 1 {
		t.Fatalf("state = %s calls = %v", m.State(), a.calls)
	}

	m.OnCaptureResult(result(af(camera.AFFocusedLocked), ae(camera.AEPrecapture)))
	if m.State() != WaitingNonPrecapture {
		t.Fatalf("state = %s, want WaitingNonPrecapture", m.State())
	}

	m.OnCaptureResult(result(af(camera.AFFocusedLocked), ae(camera.AEPrecapture)))
	if m.State() != WaitingNonPrecapture {
		t.Fatalf("still metering: state = %s", m.State())
	}

	m.OnCaptureResult(result(af(camera.AFFocusedLocked), ae(camera.AEConverged)))
	if m.State() != PictureTaken || a.count("still") != 1 {
		t.Errorf("state = %s calls = %v", m.State(), a.calls)
	}
}

func TestMachine_PrecaptureWithoutAEState(t *testing.T) {
	m, a := lockedMachine(t)
	m.OnCaptureResult(result(af(camera.AFFocusedLocked), ae(camera.AESearching)))
	m.OnCaptureResult(result(nil, nil))
	if m.State() != WaitingNonPrecapture {
		t.Fatalf("state = %s, want WaitingNonPrecapture", m.State())
	}
	m.OnCaptureResult(result(nil, nil))
	if m.State() != PictureTaken || a.count("still") != 1 {
		t.Errorf("state = %s calls = %v", m.State(), a.calls)
	}
}

func TestMachine_WaitingPrecaptureIgnoresConverged(t *testing.T) {
	m, _ := lockedMachine(t)
	m.OnCaptureResult(result(af(camera.AFFocusedLocked), ae(camera.AESearching)))
	m.OnCaptureResult(result(af(camera.AFFocusedLocked), ae(camera.AEConverged)))
	if m.State() != WaitingPrecapture {
		t.Errorf("state = %s, want WaitingPrecapture", m.State())
	}
}

// ---------- PictureTaken ----------

func TestMachine_StillRequestedOnce(t *testing.T) {
	m, a := lockedMachine(t)
	for i := 0; i < 5; i++ {
		m.OnCaptureResult(result(af(camera.AFFocusedLocked), ae(camera.AEConverged)))
	}
	if a.count("still") != 1 {
		t.Errorf("still requested %d times, want 1", a.count("still"))
	}
}

func TestMachine_StillCapturedResumesPreview(t *testing.T) {
	m, a := lockedMachine(t)
	m.OnCaptureResult(result(nil, nil))
	if err := m.StillCaptured(); err != nil {
		t.Fatalf("StillCaptured: %v", err)
	}
	if m.State() != Preview {
		t.Errorf("state = %s, want Preview", m.State())
	}
	want := []string{"focus", "still", "unlock"}
	if len(a.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", a.calls, want)
	}
	for i := range want {
		if a.calls[i] != want[i] {
			t.Errorf("call %d = %s, want %s", i, a.calls[i], want[i])
		}
	}

	// A second picture can start.
	if err := m.LockFocus(); err != nil {
		t.Errorf("LockFocus after a still: %v", err)
	}
}

func TestMachine_StillCapturedOutsideSequence(t *testing.T) {
	a := &recordingActions{}
	m := NewMachine(a)
	m.StillCaptured()
	if len(a.calls) != 0 || m.State() != Preview {
		t.Errorf("state = %s calls = %v", m.State(), a.calls)
	}
}

// ---------- Errors ----------

func TestMachine_LockFocusTwice(t *testing.T) {
	m, _ := lockedMachine(t)
	if err := m.LockFocus(); !errors.Is(err, ErrCaptureInProgress) {
		t.Errorf("err = %v, want ErrCaptureInProgress", err)
	}
}

func TestMachine_PreviewIgnoresResults(t *testing.T) {
	a := &recordingActions{}
	m := NewMachine(a)
	m.OnCaptureResult(result(af(camera.AFFocusedLocked), ae(camera.AEConverged)))
	if m.State() != Preview || len(a.calls) != 0 {
		t.Errorf("state = %s calls = %v", m.State(), a.calls)
	}
}

func TestMachine_ActionFailures(t *testing.T) {
	boom := errors.New("session closed")

	a := &recordingActions{fail: map[string]error{"focus": boom}}
	m := NewMachine(a)
	if err := m.LockFocus(); !errors.Is(err, boom) {
		t.Errorf("LockFocus err = %v", err)
	}
	if m.State() != Preview {
		t.Errorf("state after failed trigger = %s", m.State())
	}

	a = &recordingActions{fail: map[string]error{"still": boom}}
	m = NewMachine(a)
	m.LockFocus()
	if err := m.OnCaptureResult(result(nil, nil)); !errors.Is(err, boom) {
		t.Errorf("OnCaptureResult err = %v", err)
	}
	if m.State() != Preview || a.count("unlock") != 1 {
		t.Errorf("state = %s calls = %v", m.State(), a.calls)
	}
}

func TestMachine_Abort(t *testing.T) {
	m, a := lockedMachine(t)
	m.Abort()
	if m.State() != Preview || a.count("unlock") != 1 {
		t.Errorf("state = %s calls = %v", m.State(), a.calls)
	}
	m.Abort()
	if a.count("unlock") != 1 {
		t.Error("Abort in Preview sent requests")
	}
}

func TestStateString(t *testing.T) {
	if WaitingNonPrecapture.String() != "WaitingNonPrecapture" {
		t.Errorf("got %q", WaitingNonPrecapture.String())
	}
	if State(42).String() != "State(42)" {
		t.Errorf("got %q", State(42).String())
	}
}
