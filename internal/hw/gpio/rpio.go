package gpio

import (
	"fmt"
	"time"

	"github.com/cjeanneret/FlipGo/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// pwmTick is the PWM resolution; a 50Hz servo period is then 20000 ticks.
const pwmTick = time.Microsecond

// hardwarePWM lists the BCM pins routed to the PWM peripheral.
var hardwarePWM = map[int]bool{
	12: true,
	13: true,
	18: true,
	19: true,
}

// RPiDriver is the real implementation for Raspberry Pi using go-rpio.
type RPiDriver struct {
	pins   map[int]rpio.Pin
	cycles map[int]uint32 // PWM ticks per period, per pin
}

// NewRPiRealDriver creates a real GPIO driver for Raspberry Pi.
// Requires running on a Raspberry Pi with access to /dev/gpiomem or as root
// (root is needed for PWM).
func NewRPiRealDriver() (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")

	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}

	debug.Verbose("GPIO memory mapped successfully")

	return &RPiDriver{
		pins:   make(map[int]rpio.Pin),
		cycles: make(map[int]uint32),
	}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	p := rpio.Pin(pin)
	r.pins[pin] = p

	switch mode {
	case Input:
		p.Input()
	case InputPullUp:
		p.Input()
		p.PullUp()
	case Output:
		p.Output()
	case PWM:
		if !hardwarePWM[pin] {
			return fmt.Errorf("pin %d has no hardware PWM (use 12, 13, 18 or 19)", pin)
		}
		p.Mode(rpio.Pwm)
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}

	return nil
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	p, ok := r.pins[pin]
	if !ok {
		// Pin not setup yet, setup as output
		if err := r.SetupPin(pin, Output); err != nil {
			return err
		}
		p = r.pins[pin]
	}

	if level == High {
		p.High()
	} else {
		p.Low()
	}

	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	p, ok := r.pins[pin]
	if !ok {
		// Pin not setup yet, setup as input
		if err := r.SetupPin(pin, InputPullUp); err != nil {
			return Low, err
		}
		p = r.pins[pin]
	}

	state := p.Read()
	debug.GPIO("ReadPin", pin, state)
	if state == rpio.High {
		return High, nil
	}
	return Low, nil
}

func (r *RPiDriver) ConfigurePWM(pin int, freqHz int) error {
	debug.GPIO("ConfigurePWM", pin, freqHz)
	if freqHz <= 0 {
		return fmt.Errorf("pwm frequency must be > 0, got %d", freqHz)
	}
	if err := r.SetupPin(pin, PWM); err != nil {
		return err
	}

	cycle := uint32(time.Second / pwmTick / time.Duration(freqHz))
	p := r.pins[pin]
	p.Freq(freqHz * int(cycle))
	r.cycles[pin] = cycle
	return nil
}

func (r *RPiDriver) WritePulse(pin int, width time.Duration) error {
	debug.GPIO("WritePulse", pin, width)

	cycle, ok := r.cycles[pin]
	if !ok {
		return fmt.Errorf("pin %d not configured for PWM", pin)
	}
	duty := uint32(width / pwmTick)
	if duty > cycle {
		duty = cycle
	}
	r.pins[pin].DutyCycle(duty, cycle)
	return nil
}

func (r *RPiDriver) Close() error {
	debug.Trace("GPIO Close (real driver)")

	// Stop PWM outputs, then reset all pins to input (safe state)
	for pin, cycle := range r.cycles {
		r.pins[pin].DutyCycle(0, cycle)
	}
	for pin, p := range r.pins {
		debug.Verbose("Resetting pin %d to input", pin)
		p.Input()
	}

	return rpio.Close()
}
