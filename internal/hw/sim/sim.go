// Package sim simulates the flip-clock mechanism behind a gpio.Driver so the
// controller can run on a development machine. Each switch read taken while
// a dial's servo runs moves that dial forward by one tick.
package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/FlipGo/internal/debug"
	"github.com/cjeanneret/FlipGo/internal/hw/gpio"
)

// DefaultTicksPerStep is the number of switch reads one physical step takes.
const DefaultTicksPerStep = 20

// DialSpec wires one simulated dial.
type DialSpec struct {
	ServoPin    int
	HomePin     int
	StepPin     int
	StopPulse   time.Duration
	StepsPerRev int // physical steps in one full turn (60 minutes, 48 for a 2:1 hour dial)
	StartStep   int // physical step the dial rests on at power-up
}

type dialState struct {
	spec    DialSpec
	running bool
	tick    int
}

// Mechanism is a gpio.Driver that answers switch reads from a model of the
// dials. Within each physical step the step switch is pressed for the first
// half of the ticks; the home switch is pressed during the second half of
// step 0, so a dial parked on home has its step switch released.
type Mechanism struct {
	mu           sync.Mutex
	ticksPerStep int
	dials        []*dialState
	byServo      map[int]*dialState
	inputs       map[int]gpio.Level
}

// New builds a mechanism. ticksPerStep <= 1 selects DefaultTicksPerStep.
func New(ticksPerStep int, specs ...DialSpec) (*Mechanism, error) {
	if ticksPerStep <= 1 {
		ticksPerStep = DefaultTicksPerStep
	}
	m := &Mechanism{
		ticksPerStep: ticksPerStep,
		byServo:      make(map[int]*dialState),
		inputs:       make(map[int]gpio.Level),
	}
	for _, s := range specs {
		if s.StepsPerRev <= 0 {
			return nil, fmt.Errorf("sim: dial on servo pin %d: steps per rev must be > 0", s.ServoPin)
		}
		if _, dup := m.byServo[s.ServoPin]; dup {
			return nil, fmt.Errorf("sim: servo pin %d used twice", s.ServoPin)
		}
		d := &dialState{spec: s, tick: (s.StartStep % s.StepsPerRev) * ticksPerStep}
		m.dials = append(m.dials, d)
		m.byServo[s.ServoPin] = d
	}
	debug.Info("Using SIMULATED flip clock mechanism (%d dials)", len(specs))
	return m, nil
}

// Step returns the physical step a dial currently rests on, modulo one turn.
func (m *Mechanism) Step(servoPin int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byServo[servoPin]
	if !ok {
		return -1
	}
	return (d.tick / m.ticksPerStep) % d.spec.StepsPerRev
}

// Running reports whether a dial's servo is turning.
func (m *Mechanism) Running(servoPin int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byServo[servoPin]
	return ok && d.running
}

// SetInput sets the level of a pin that is not a dial switch (buttons).
func (m *Mechanism) SetInput(pin int, level gpio.Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs[pin] = level
}

func (m *Mechanism) SetupPin(pin int, mode gpio.PinMode) error {
	debug.GPIO("SetupPin (sim)", pin, mode)
	return nil
}

func (m *Mechanism) WritePin(pin int, level gpio.Level) error {
	debug.GPIO("WritePin (sim)", pin, level)
	return nil
}

func (m *Mechanism) ReadPin(pin int) (gpio.Level, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.dials {
		if pin != d.spec.HomePin && pin != d.spec.StepPin {
			continue
		}
		pressed := m.pressed(d, pin == d.spec.HomePin)
		if d.running {
			d.tick++
		}
		debug.GPIO("ReadPin (sim)", pin, !pressed)
		if pressed {
			return gpio.Low, nil
		}
		return gpio.High, nil
	}

	level, ok := m.inputs[pin]
	if !ok {
		level = gpio.High
	}
	return level, nil
}

func (m *Mechanism) pressed(d *dialState, home bool) bool {
	step := (d.tick / m.ticksPerStep) % d.spec.StepsPerRev
	firstHalf := d.tick%m.ticksPerStep < m.ticksPerStep/2
	if home {
		return step == 0 && !firstHalf
	}
	return firstHalf
}

func (m *Mechanism) ConfigurePWM(pin int, freqHz int) error {
	debug.GPIO("ConfigurePWM (sim)", pin, freqHz)
	return nil
}

func (m *Mechanism) WritePulse(pin int, width time.Duration) error {
	debug.GPIO("WritePulse (sim)", pin, width)
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.byServo[pin]; ok {
		d.running = width != d.spec.StopPulse
	}
	return nil
}

func (m *Mechanism) Close() error {
	debug.Trace("GPIO Close (sim)")
	return nil
}

var _ gpio.Driver = (*Mechanism)(nil)
