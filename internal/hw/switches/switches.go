// Package switches reads limit switches and push buttons. All inputs are
// wired to ground and pulled high, so a pressed switch reads Low.
package switches

import (
	"fmt"

	"github.com/cjeanneret/FlipGo/internal/hw/gpio"
)

// Input is a single switch.
type Input interface {
	Pressed() (bool, error)
}

// GPIOInput is an active-low switch on a GPIO pin.
type GPIOInput struct {
	gpio gpio.Driver
	pin  int
}

// NewGPIOInput configures pin as an input with pull-up.
func NewGPIOInput(g gpio.Driver, pin int) (*GPIOInput, error) {
	if err := g.SetupPin(pin, gpio.InputPullUp); err != nil {
		return nil, fmt.Errorf("setup switch pin %d: %w", pin, err)
	}
	return &GPIOInput{gpio: g, pin: pin}, nil
}

// Pressed reports whether the switch currently pulls the line low.
func (s *GPIOInput) Pressed() (bool, error) {
	level, err := s.gpio.ReadPin(s.pin)
	if err != nil {
		return false, fmt.Errorf("read switch pin %d: %w", s.pin, err)
	}
	return level == gpio.Low, nil
}

// Pin returns the BCM pin number.
func (s *GPIOInput) Pin() int {
	return s.pin
}

// Edge detects released->pressed transitions on an Input. It is used for
// buttons, where holding a button must count as a single press.
type Edge struct {
	in   Input
	last bool
}

// NewEdge wraps in. The first Poll never reports a press for a button that
// was already held at startup.
func NewEdge(in Input) *Edge {
	return &Edge{in: in, last: true}
}

// Poll samples the input and returns true on a new press.
func (e *Edge) Poll() (bool, error) {
	pressed, err := e.in.Pressed()
	if err != nil {
		return false, err
	}
	fired := pressed && !e.last
	e.last = pressed
	return fired, nil
}
