package camera

import (
	"fmt"

	"github.com/cjeanneret/unicam/internal/debug"
)

// Lookup returns the id of the first device facing the way logical asks for.
func Lookup(d Driver, logical LogicalCamera) (string, error) {
	ids, err := d.CameraIDs()
	if err != nil {
		return "", fmt.Errorf("list cameras: %w", err)
	}
	want := logical.Facing()
	for _, id := range ids {
		chars, err := d.Characteristics(id)
		if err != nil {
			debug.Verbose("Camera %s: characteristics unavailable: %v", id, err)
			continue
		}
		if chars.Facing == want {
			debug.Verbose("Camera %s matches %s (%s driver)", id, logical, d.Name())
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: no %s camera on %s driver", ErrUnsupported, logical, d.Name())
}
