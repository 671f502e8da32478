//go:build !linux

package gpio

import (
	"errors"

	"github.com/avena-robotics/avena-commons-sub002/chamber"
)

// Hardware is only available on Linux; use the sim package elsewhere.
type Hardware struct{}

// Open returns an error on non-Linux platforms.
func Open(profile *Profile) (*Hardware, error) {
	return nil, errors.New("gpio: requires Linux gpiochip support")
}

// Devices is not implemented on non-Linux platforms.
func (hw *Hardware) Devices() *chamber.Devices { return nil }

// Close is a no-op on non-Linux platforms.
func (hw *Hardware) Close() error { return nil }
