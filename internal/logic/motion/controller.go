package motion

import (
	"context"
	"fmt"

	"github.com/cjeanneret/FlipGo/internal/debug"
	"github.com/cjeanneret/FlipGo/internal/logic/dial"
	"github.com/cjeanneret/FlipGo/internal/timesource"
)

// Controller moves the minute and hour dials together.
// It's an intermediate layer between business logic (clock loop, setting
// mode) and the dials themselves.
type Controller struct {
	minute *dial.Dial
	hour   *dial.Dial
}

func NewController(minute, hour *dial.Dial) *Controller {
	return &Controller{
		minute: minute,
		hour:   hour,
	}
}

// HomeAll homes the minute dial, then the hour dial.
func (c *Controller) HomeAll(ctx context.Context) error {
	debug.Section("Homing dials")
	if err := c.minute.Home(ctx); err != nil {
		return err
	}
	if err := c.hour.Home(ctx); err != nil {
		return err
	}
	debug.Info("Dials homed")
	return nil
}

// Homed reports whether both dial positions are known.
func (c *Controller) Homed() bool {
	return c.minute.Homed() && c.hour.Homed()
}

// SyncTo advances the minute dial, then the hour dial, until they show t.
// An unhomed dial is homed first. It returns the units stepped on each dial.
func (c *Controller) SyncTo(ctx context.Context, t timesource.Time) (minutes, hours int, err error) {
	if err := t.Validate(); err != nil {
		return 0, 0, err
	}
	if shows, err := c.Shows(); err == nil && shows == t {
		return 0, 0, nil
	}
	if minutes, err = c.advance(ctx, c.minute, t.Minute); err != nil {
		return minutes, 0, err
	}
	if hours, err = c.advance(ctx, c.hour, t.Hour); err != nil {
		return minutes, hours, err
	}
	if minutes+hours > 0 {
		debug.Live("Synced to %s (%d minute, %d hour steps)", t, minutes, hours)
	}
	return minutes, hours, nil
}

func (c *Controller) advance(ctx context.Context, d *dial.Dial, target int) (int, error) {
	if !d.Homed() {
		debug.Info("Dial %s lost its position, homing again", d.Name())
		if err := d.Home(ctx); err != nil {
			return 0, err
		}
	}
	if n := dial.StepsTo(d.Position(), target, d.Modulus()); n > 0 {
		debug.Verbose("Dial %s: %d -> %d (%d steps)", d.Name(), d.Position(), target, n)
	}
	return d.AdvanceTo(ctx, target)
}

// StepMinute advances the minute dial by one minute.
func (c *Controller) StepMinute(ctx context.Context) error {
	return c.minute.Step(ctx)
}

// StepHour advances the hour dial by one hour.
func (c *Controller) StepHour(ctx context.Context) error {
	return c.hour.Step(ctx)
}

// Positions returns what the dials show, dial.Unhomed for an unknown dial.
func (c *Controller) Positions() (minute, hour int) {
	return c.minute.Position(), c.hour.Position()
}

// Shows returns the time on the dials, or an error if a dial is unhomed.
func (c *Controller) Shows() (timesource.Time, error) {
	m, h := c.Positions()
	if m == dial.Unhomed || h == dial.Unhomed {
		return timesource.Time{}, fmt.Errorf("dials: %w", dial.ErrNotHomed)
	}
	return timesource.Time{Hour: h, Minute: m}, nil
}
