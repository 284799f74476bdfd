// Package mode implements the two-state button machine that lets the user
// set the clock by hand: NORMAL follows the time source, SETTING steps the
// dials one unit per button press until the user saves or cancels.
package mode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cjeanneret/FlipGo/internal/debug"
	"github.com/cjeanneret/FlipGo/internal/timesource"
)

// ErrTimeSource marks a failure to read or write the time source, as
// opposed to a failure to move a dial.
var ErrTimeSource = errors.New("time source")

// State of the machine.
type State int

const (
	Normal State = iota
	Setting
)

func (s State) String() string {
	switch s {
	case Normal:
		return "NORMAL"
	case Setting:
		return "SETTING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText lets State appear as its name in JSON status.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "NORMAL":
		*s = Normal
	case "SETTING":
		*s = Setting
	default:
		return fmt.Errorf("unknown mode %q", b)
	}
	return nil
}

// Button identifies a front-panel button.
type Button int

const (
	Mode Button = iota
	Hour
	Minute
	Save
	Cancel
)

func (b Button) String() string {
	switch b {
	case Mode:
		return "mode"
	case Hour:
		return "hour"
	case Minute:
		return "minute"
	case Save:
		return "save"
	case Cancel:
		return "cancel"
	default:
		return fmt.Sprintf("Button(%d)", int(b))
	}
}

// Dials is the part of the motion controller the machine drives.
type Dials interface {
	StepMinute(ctx context.Context) error
	StepHour(ctx context.Context) error
	SyncTo(ctx context.Context, t timesource.Time) (minutes, hours int, err error)
}

// Machine is the NORMAL/SETTING state machine. It is not safe for
// concurrent use.
type Machine struct {
	dials    Dials
	clock    timesource.Setter
	cooldown time.Duration
	now      func() time.Time

	state     State
	scratch   timesource.Time
	lastPress time.Time
}

// New returns a machine in NORMAL. Presses closer than cooldown to the
// previous accepted press are ignored, whatever the button.
func New(dials Dials, clock timesource.Setter, cooldown time.Duration) *Machine {
	return &Machine{
		dials:    dials,
		clock:    clock,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Scratch returns the pending time while in SETTING.
func (m *Machine) Scratch() (timesource.Time, bool) {
	return m.scratch, m.state == Setting
}

// Press feeds one button press to the machine. It reports whether the press
// was accepted; presses inside the cooldown window and buttons with no
// transition in the current state are dropped.
func (m *Machine) Press(ctx context.Context, b Button) (bool, error) {
	now := m.now()
	if !m.lastPress.IsZero() && now.Sub(m.lastPress) < m.cooldown {
		debug.Verbose("Button %s ignored (cooldown)", b)
		return false, nil
	}

	switch m.state {
	case Normal:
		if b != Mode {
			debug.Verbose("Button %s ignored in %s", b, m.state)
			return false, nil
		}
		m.lastPress = now
		return true, m.enterSetting(ctx)

	case Setting:
		m.lastPress = now
		switch b {
		case Hour:
			if err := m.dials.StepHour(ctx); err != nil {
				return true, err
			}
			m.scratch.Hour = (m.scratch.Hour + 1) % 24
			debug.Live("Setting hour -> %s", m.scratch)
		case Minute:
			if err := m.dials.StepMinute(ctx); err != nil {
				return true, err
			}
			m.scratch.Minute = (m.scratch.Minute + 1) % 60
			debug.Live("Setting minute -> %s", m.scratch)
		case Save, Mode:
			return true, m.save(ctx)
		case Cancel:
			return true, m.cancel(ctx)
		default:
			return false, nil
		}
		return true, nil
	}
	return false, nil
}

func (m *Machine) enterSetting(ctx context.Context) error {
	live, err := m.clock.Now(ctx)
	if err != nil {
		return fmt.Errorf("enter setting: %w: %w", ErrTimeSource, err)
	}
	m.transition(Setting)
	m.scratch = live
	debug.Live("Setting from %s", live)
	return nil
}

// save writes the scratch time; on failure the machine stays in SETTING.
func (m *Machine) save(ctx context.Context) error {
	if err := m.clock.Set(ctx, m.scratch); err != nil {
		return fmt.Errorf("save %s: %w: %w", m.scratch, ErrTimeSource, err)
	}
	debug.Info("Time set to %s", m.scratch)
	m.transition(Normal)
	return nil
}

// cancel drops the scratch time and puts the dials back on the time source.
func (m *Machine) cancel(ctx context.Context) error {
	m.transition(Normal)
	live, err := m.clock.Now(ctx)
	if err != nil {
		return fmt.Errorf("cancel: %w: %w", ErrTimeSource, err)
	}
	if _, _, err := m.dials.SyncTo(ctx, live); err != nil {
		return fmt.Errorf("cancel: %w", err)
	}
	return nil
}

func (m *Machine) transition(to State) {
	debug.Mode(m.state.String(), to.String())
	m.state = to
	m.scratch = timesource.Time{}
}
