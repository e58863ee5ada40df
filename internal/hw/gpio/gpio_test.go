package gpio

import "testing"

func TestNewDriver_Mock(t *testing.T) {
	d, err := NewDriver(true)
	if err != nil {
		t.Fatalf("NewDriver(mock): %v", err)
	}
	if _, ok := d.(*MockDriver); !ok {
		t.Fatalf("got %T, want *MockDriver", d)
	}
}

func TestMockDriver_WriteRead(t *testing.T) {
	d := NewMockDriver()
	if err := d.SetupPin(17, Output); err != nil {
		t.Fatalf("SetupPin: %v", err)
	}
	d.WritePin(17, High)
	if lvl, _ := d.ReadPin(17); lvl != High {
		t.Errorf("ReadPin = %s, want HIGH", lvl)
	}
	d.WritePin(17, Low)

	w := d.Writes()
	if len(w) != 2 || w[0] != (Write{17, High}) || w[1] != (Write{17, Low}) {
		t.Errorf("writes = %v", w)
	}
}

func TestMockDriver_WriteToInput(t *testing.T) {
	d := NewMockDriver()
	d.SetupPin(4, Input)
	if err := d.WritePin(4, High); err == nil {
		t.Error("expected error writing an input pin")
	}
}

func TestMockDriver_Closed(t *testing.T) {
	d := NewMockDriver()
	d.Close()
	if err := d.WritePin(1, High); err == nil {
		t.Error("expected error after Close")
	}
	if err := d.SetupPin(1, Output); err == nil {
		t.Error("expected error after Close")
	}
}

func TestStrings(t *testing.T) {
	if High.String() != "HIGH" || Low.String() != "LOW" {
		t.Errorf("Level strings: %s %s", High, Low)
	}
	if Output.String() != "output" || Input.String() != "input" {
		t.Errorf("PinMode strings: %s %s", Output, Input)
	}
}
