package camera

import (
	"errors"
	"testing"
)

func TestLookup(t *testing.T) {
	d := NewSimDriver(SimOptions{})
	cases := []struct {
		logical LogicalCamera
		want    string
	}{
		{Rear, "0"},
		{Front, "1"},
	}
	for _, tc := range cases {
		t.Run(tc.logical.String(), func(t *testing.T) {
			id, err := Lookup(d, tc.logical)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if id != tc.want {
				t.Errorf("Lookup(%v) = %q, want %q", tc.logical, id, tc.want)
			}
		})
	}
}

func TestLookup_Unsupported(t *testing.T) {
	d := NewSimDriver(SimOptions{Cameras: []SimCamera{
		{ID: "usb", Facing: FacingExternal, PreviewSizes: []Size{{640, 480}}},
	}})
	_, err := Lookup(d, Front)
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
}
