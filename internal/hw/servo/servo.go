package servo

import (
	"fmt"
	"time"

	"github.com/cjeanneret/FlipGo/internal/debug"
	"github.com/cjeanneret/FlipGo/internal/hw/gpio"
)

const (
	defaultFrequencyHz = 50
	defaultStopPulse   = 1500 * time.Microsecond
	defaultOffset      = 100 * time.Microsecond
)

// Config holds the hardware configuration for a continuous-rotation servo.
type Config struct {
	Pin         int           // BCM pin with hardware PWM
	FrequencyHz int           // PWM period frequency, 50Hz for hobby servos
	StopPulse   time.Duration // pulse width at which the servo does not move
	Offset      time.Duration // added to StopPulse while running; sign selects direction, magnitude the speed
}

// Servo drives a continuous-rotation servo: it either turns at a fixed
// speed in one direction or stands still.
type Servo struct {
	gpio    gpio.Driver
	cfg     Config
	running bool
}

// NewServo configures the PWM pin and leaves the servo stopped.
// Zero values in cfg fall back to 50Hz, a 1.5ms stop pulse and a +100µs offset.
func NewServo(g gpio.Driver, cfg Config) (*Servo, error) {
	if cfg.FrequencyHz <= 0 {
		cfg.FrequencyHz = defaultFrequencyHz
	}
	if cfg.StopPulse <= 0 {
		cfg.StopPulse = defaultStopPulse
	}
	if cfg.Offset == 0 {
		cfg.Offset = defaultOffset
	}
	period := time.Second / time.Duration(cfg.FrequencyHz)
	if run := cfg.StopPulse + cfg.Offset; run <= 0 || run >= period {
		return nil, fmt.Errorf("servo pin %d: run pulse %v outside PWM period %v", cfg.Pin, run, period)
	}

	if err := g.ConfigurePWM(cfg.Pin, cfg.FrequencyHz); err != nil {
		return nil, fmt.Errorf("configure servo pin %d: %w", cfg.Pin, err)
	}

	s := &Servo{
		gpio: g,
		cfg:  cfg,
	}
	if err := s.Stop(); err != nil {
		return nil, err
	}
	return s, nil
}

// Run starts the servo turning (StopPulse + Offset).
func (s *Servo) Run() error {
	if s.running {
		return nil
	}
	debug.Trace("Servo pin %d: run (pulse %v)", s.cfg.Pin, s.RunPulse())
	if err := s.gpio.WritePulse(s.cfg.Pin, s.RunPulse()); err != nil {
		return fmt.Errorf("servo pin %d run: %w", s.cfg.Pin, err)
	}
	s.running = true
	return nil
}

// Stop halts the servo with the stop pulse.
func (s *Servo) Stop() error {
	debug.Trace("Servo pin %d: stop (pulse %v)", s.cfg.Pin, s.cfg.StopPulse)
	if err := s.gpio.WritePulse(s.cfg.Pin, s.cfg.StopPulse); err != nil {
		return fmt.Errorf("servo pin %d stop: %w", s.cfg.Pin, err)
	}
	s.running = false
	return nil
}

// Running reports whether the last command was Run.
func (s *Servo) Running() bool {
	return s.running
}

// RunPulse is the pulse width written while running.
func (s *Servo) RunPulse() time.Duration {
	return s.cfg.StopPulse + s.cfg.Offset
}

// StopPulse is the pulse width written while stopped.
func (s *Servo) StopPulse() time.Duration {
	return s.cfg.StopPulse
}
