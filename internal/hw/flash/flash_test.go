package flash

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/unicam/internal/hw/gpio"
)

// recordingDriver records pin writes and can fail them.
type recordingDriver struct {
	mu       sync.Mutex
	writes   []gpio.Write
	setup    map[int]gpio.PinMode
	failNext error
}

func newRecordingDriver() *recordingDriver {
	return &recordingDriver{setup: make(map[int]gpio.PinMode)}
}

func (d *recordingDriver) SetupPin(pin int, mode gpio.PinMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setup[pin] = mode
	return nil
}

func (d *recordingDriver) WritePin(pin int, level gpio.Level) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failNext; err != nil {
		d.failNext = nil
		return err
	}
	d.writes = append(d.writes, gpio.Write{Pin: pin, Level: level})
	return nil
}

func (d *recordingDriver) ReadPin(int) (gpio.Level, error) { return gpio.Low, nil }
func (d *recordingDriver) Close() error                    { return nil }

func (d *recordingDriver) history() []gpio.Write {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]gpio.Write(nil), d.writes...)
}

func TestNew_ConfiguresPinOff(t *testing.T) {
	d := newRecordingDriver()
	if _, err := New(d, 18, time.Millisecond); err != nil {
		t.Fatalf("New: %v", err)
	}
	if d.setup[18] != gpio.Output {
		t.Errorf("pin 18 mode = %s, want output", d.setup[18])
	}
	if w := d.history(); len(w) != 1 || w[0] != (gpio.Write{Pin: 18, Level: gpio.Low}) {
		t.Errorf("writes = %v, want a single LOW", w)
	}
}

func TestFire_Pulse(t *testing.T) {
	d := newRecordingDriver()
	f, _ := New(d, 18, 10*time.Millisecond)

	if err := f.Fire(); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if w := d.history(); w[len(w)-1].Level != gpio.High {
		t.Fatalf("flash not on after Fire: %v", w)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		w := d.history()
		if len(w) == 3 && w[2].Level == gpio.Low {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	want := []gpio.Write{{Pin: 18, Level: gpio.Low}, {Pin: 18, Level: gpio.High}, {Pin: 18, Level: gpio.Low}}
	got := d.history()
	if len(got) != len(want) {
		t.Fatalf("writes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("write %d = %v, want %v", i, got[i], want[i])
		}
	}
	if f.Fired() != 1 {
		t.Errorf("Fired = %d, want 1", f.Fired())
	}
}

func TestFire_Error(t *testing.T) {
	d := newRecordingDriver()
	f, _ := New(d, 18, time.Second)
	boom := errors.New("pin busy")
	d.failNext = boom

	if err := f.Fire(); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if f.Fired() != 0 {
		t.Error("failed fire was counted")
	}
}

func TestClose_TurnsOff(t *testing.T) {
	d := newRecordingDriver()
	f, _ := New(d, 18, time.Hour)
	f.Fire()
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	w := d.history()
	if w[len(w)-1] != (gpio.Write{Pin: 18, Level: gpio.Low}) {
		t.Errorf("last write = %v, want LOW", w[len(w)-1])
	}
}

func TestFlash_WithMockDriver(t *testing.T) {
	g := gpio.NewMockDriver()
	f, err := New(g, 27, time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.Fire()
	f.Close()
	if lvl, _ := g.ReadPin(27); lvl != gpio.Low {
		t.Errorf("pin 27 = %s after Close, want LOW", lvl)
	}
}
