// Package i2cbus opens the host I2C bus through periph.io and adapts it for
// the tinygo device drivers.
package i2cbus

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/cjeanneret/FlipGo/internal/debug"
	"tinygo.org/x/drivers"
)

// Open initializes the periph host drivers and opens the named bus.
// An empty name selects the first available bus (/dev/i2c-1 on a Pi).
// host.Init is idempotent, so Open may be called for several devices.
func Open(name string) (i2c.BusCloser, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", name, err)
	}
	debug.Verbose("I2C bus opened: %s", bus)
	return bus, nil
}

// Traced wraps a periph bus, logging every transaction at trace level.
// It satisfies both i2c.Bus and drivers.I2C, so tinygo drivers can run on
// a Linux host bus.
type Traced struct {
	i2c.Bus
}

var _ drivers.I2C = Traced{}

// Tx performs a write-then-read transaction with the device at addr.
func (t Traced) Tx(addr uint16, w, r []byte) error {
	err := t.Bus.Tx(addr, w, r)
	debug.I2C(addr, w, r)
	if err != nil {
		return fmt.Errorf("i2c tx addr %#02x: %w", addr, err)
	}
	return nil
}
