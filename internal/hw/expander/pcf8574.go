// Package expander drives a PCF8574 8-bit I2C port expander used to read
// the dial switches when they are not wired to GPIO directly.
package expander

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"

	"github.com/cjeanneret/FlipGo/internal/debug"
)

// DefaultAddress is the PCF8574 address with A0-A2 tied low.
const DefaultAddress = 0x20

// PCF8574 is a quasi-bidirectional port: a line written high is weakly
// pulled up and can be read as an input.
type PCF8574 struct {
	dev i2c.Dev
}

// New configures every line as an input (writes 0xFF).
func New(bus i2c.Bus, addr uint16) (*PCF8574, error) {
	if addr == 0 {
		addr = DefaultAddress
	}
	p := &PCF8574{dev: i2c.Dev{Bus: bus, Addr: addr}}
	if err := p.dev.Tx([]byte{0xFF}, nil); err != nil {
		return nil, fmt.Errorf("pcf8574 at %#02x: release lines: %w", addr, err)
	}
	debug.Verbose("PCF8574 expander ready at %#02x", addr)
	return p, nil
}

// Read returns the level of all 8 lines, bit n = line n.
func (p *PCF8574) Read() (uint8, error) {
	r := make([]byte, 1)
	if err := p.dev.Tx(nil, r); err != nil {
		return 0, fmt.Errorf("pcf8574 at %#02x: read: %w", p.dev.Addr, err)
	}
	return r[0], nil
}

// Pin returns line n as an active-low switch input.
func (p *PCF8574) Pin(n int) (*Pin, error) {
	if n < 0 || n > 7 {
		return nil, fmt.Errorf("pcf8574 line %d out of range 0-7", n)
	}
	return &Pin{port: p, mask: 1 << uint(n)}, nil
}

// Pin is one expander line read as a switch.
type Pin struct {
	port *PCF8574
	mask uint8
}

// Pressed reports whether the line is pulled low.
func (p *Pin) Pressed() (bool, error) {
	v, err := p.port.Read()
	if err != nil {
		return false, err
	}
	return v&p.mask == 0, nil
}
