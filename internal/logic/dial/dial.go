// Package dial positions one flip-clock dial: it homes the dial on its home
// switch, advances it one step at a time using the step switch, and tracks
// which value the dial shows.
package dial

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cjeanneret/FlipGo/internal/debug"
	"github.com/cjeanneret/FlipGo/internal/hw/switches"
)

// Unhomed is the position of a dial whose zero has not been found yet.
const Unhomed = -1

var (
	// ErrTimeout is returned when a switch does not reach the expected state in time.
	ErrTimeout = errors.New("switch timeout")
	// ErrNotHomed is returned when stepping a dial that was never homed.
	ErrNotHomed = errors.New("dial not homed")
	// ErrOutOfRange is returned for a target outside [0, modulus).
	ErrOutOfRange = errors.New("target out of range")
)

// Motor turns a dial in its single forward direction.
type Motor interface {
	Run() error
	Stop() error
}

// Config describes one dial.
type Config struct {
	Name         string
	Modulus      int // 60 for minutes, 24 for hours
	StepsPerUnit int // physical steps per displayed unit, 2 for the geared hour dial

	PollInterval time.Duration // switch sampling period
	Debounce     time.Duration // a switch level must hold this long; 0 = first sample
	HomeTimeout  time.Duration // 0 = no limit
	StepTimeout  time.Duration // per physical step, 0 = no limit
}

// Dial tracks the displayed value of one dial. It is not safe for
// concurrent use; the clock runner owns it.
type Dial struct {
	cfg      Config
	motor    Motor
	home     switches.Input
	step     switches.Input
	position int

	physicalSteps int
}

// New creates an unhomed dial.
func New(cfg Config, motor Motor, home, step switches.Input) (*Dial, error) {
	if cfg.Modulus <= 0 {
		return nil, fmt.Errorf("dial %s: modulus must be > 0, got %d", cfg.Name, cfg.Modulus)
	}
	if cfg.StepsPerUnit <= 0 {
		cfg.StepsPerUnit = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	return &Dial{
		cfg:      cfg,
		motor:    motor,
		home:     home,
		step:     step,
		position: Unhomed,
	}, nil
}

// Name returns the dial name.
func (d *Dial) Name() string { return d.cfg.Name }

// Modulus returns the number of positions on the dial.
func (d *Dial) Modulus() int { return d.cfg.Modulus }

// Position returns the displayed value, or Unhomed.
func (d *Dial) Position() int { return d.position }

// Homed reports whether the dial position is known.
func (d *Dial) Homed() bool { return d.position != Unhomed }

// PhysicalSteps returns the number of completed physical steps since start.
func (d *Dial) PhysicalSteps() int { return d.physicalSteps }

// Home turns the dial until the home switch is pressed and sets the
// position to 0. On failure the motor is stopped and the dial stays unhomed.
func (d *Dial) Home(ctx context.Context) error {
	debug.Live("Dial %s: homing", d.cfg.Name)
	d.position = Unhomed

	err := d.drive(ctx, func() error {
		return d.waitFor(ctx, d.home, true, deadline(d.cfg.HomeTimeout))
	})
	if err != nil {
		return fmt.Errorf("dial %s: home: %w", d.cfg.Name, err)
	}

	d.position = 0
	debug.Dial(d.cfg.Name, d.position, d.cfg.Modulus)
	return nil
}

// PhysicalStep turns the dial until the step switch has been pressed and
// released again. It does not change the tracked position.
func (d *Dial) PhysicalStep(ctx context.Context) error {
	err := d.drive(ctx, func() error {
		until := deadline(d.cfg.StepTimeout)
		if err := d.waitFor(ctx, d.step, true, until); err != nil {
			return fmt.Errorf("waiting for press: %w", err)
		}
		if err := d.waitFor(ctx, d.step, false, until); err != nil {
			return fmt.Errorf("waiting for release: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("dial %s: step: %w", d.cfg.Name, err)
	}
	d.physicalSteps++
	return nil
}

// Step advances the dial by one displayed unit. A failed physical step
// leaves the mechanism at an unknown place, so the dial becomes unhomed.
func (d *Dial) Step(ctx context.Context) error {
	if !d.Homed() {
		return fmt.Errorf("dial %s: %w", d.cfg.Name, ErrNotHomed)
	}
	for i := 0; i < d.cfg.StepsPerUnit; i++ {
		if err := d.PhysicalStep(ctx); err != nil {
			d.position = Unhomed
			return err
		}
	}
	d.position = (d.position + 1) % d.cfg.Modulus
	debug.Dial(d.cfg.Name, d.position, d.cfg.Modulus)
	return nil
}

// AdvanceTo steps forward until the dial shows target, wrapping through
// zero if needed. It returns the number of units stepped.
func (d *Dial) AdvanceTo(ctx context.Context, target int) (int, error) {
	if target < 0 || target >= d.cfg.Modulus {
		return 0, fmt.Errorf("dial %s: %w: %d not in [0,%d)", d.cfg.Name, ErrOutOfRange, target, d.cfg.Modulus)
	}
	if !d.Homed() {
		return 0, fmt.Errorf("dial %s: %w", d.cfg.Name, ErrNotHomed)
	}

	steps := 0
	for d.position != target {
		if err := d.Step(ctx); err != nil {
			return steps, err
		}
		steps++
	}
	return steps, nil
}

// StepsTo returns how many forward units separate from and to on a dial
// with the given modulus.
func StepsTo(from, to, modulus int) int {
	return ((to-from)%modulus + modulus) % modulus
}

// drive runs the motor for the duration of wait and always stops it.
func (d *Dial) drive(ctx context.Context, wait func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.motor.Run(); err != nil {
		return err
	}
	err := wait()
	if stopErr := d.motor.Stop(); stopErr != nil {
		return errors.Join(err, stopErr)
	}
	return err
}

// waitFor polls in until it reads want for at least the debounce time.
func (d *Dial) waitFor(ctx context.Context, in switches.Input, want bool, until time.Time) error {
	var stableSince time.Time
	for {
		got, err := in.Pressed()
		if err != nil {
			return err
		}
		now := time.Now()
		if got == want {
			if stableSince.IsZero() {
				stableSince = now
				debug.Verbose("Dial %s: switch pressed=%v", d.cfg.Name, want)
			}
			if now.Sub(stableSince) >= d.cfg.Debounce {
				return nil
			}
		} else {
			stableSince = time.Time{}
		}

		if !until.IsZero() && now.After(until) {
			return fmt.Errorf("%w (pressed=%v)", ErrTimeout, want)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.cfg.PollInterval):
		}
	}
}

func deadline(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}
