package gpio

import (
	"sync"
	"time"

	"github.com/cjeanneret/FlipGo/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// PinMode indicates how a GPIO is configured.
type PinMode int

const (
	Input PinMode = iota
	Output
	InputPullUp // input with the internal pull-up enabled (switches are active-low)
	PWM         // hardware PWM output, see ConfigurePWM
)

func (m PinMode) String() string {
	switch m {
	case Input:
		return "input"
	case Output:
		return "output"
	case InputPullUp:
		return "input-pullup"
	case PWM:
		return "pwm"
	default:
		return "unknown"
	}
}

// Driver defines the abstract interface for controlling GPIOs.
// This allows plugging in a real Raspberry Pi implementation
// or a mock for development on PC.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)

	// ConfigurePWM puts pin in PWM mode with the given period frequency.
	ConfigurePWM(pin int, freqHz int) error
	// WritePulse sets the high time of each PWM period on pin.
	WritePulse(pin int, width time.Duration) error

	Close() error
}

// MockDriver is a test implementation that logs actions and keeps pin
// state in memory. Unset inputs read High (released, pulled up).
type MockDriver struct {
	mu     sync.Mutex
	inputs map[int]Level
	pulses map[int]time.Duration
}

// NewDriver creates a GPIO driver based on the chosen mode.
// If mock is true, returns a MockDriver (for dev/test).
// If mock is false, returns a real RPiDriver (for Raspberry Pi).
func NewDriver(mock bool) (Driver, error) {
	if mock {
		debug.Info("Using MOCK GPIO driver (development mode)")
		return &MockDriver{}, nil
	}
	return NewRPiRealDriver()
}

// SetInput sets the level returned by ReadPin for pin.
func (m *MockDriver) SetInput(pin int, level Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inputs == nil {
		m.inputs = make(map[int]Level)
	}
	m.inputs[pin] = level
}

// Pulse returns the last pulse width written to pin.
func (m *MockDriver) Pulse(pin int) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pulses[pin]
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	level, ok := m.inputs[pin]
	if !ok {
		level = High
	}
	debug.GPIO("ReadPin", pin, level)
	return level, nil
}

func (m *MockDriver) ConfigurePWM(pin int, freqHz int) error {
	debug.GPIO("ConfigurePWM", pin, freqHz)
	return nil
}

func (m *MockDriver) WritePulse(pin int, width time.Duration) error {
	debug.GPIO("WritePulse", pin, width)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pulses == nil {
		m.pulses = make(map[int]time.Duration)
	}
	m.pulses[pin] = width
	return nil
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	return nil
}
