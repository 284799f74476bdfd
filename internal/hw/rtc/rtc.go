// Package rtc keeps time on a DS3231 real-time clock.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/ds3231"

	"github.com/cjeanneret/FlipGo/internal/debug"
	"github.com/cjeanneret/FlipGo/internal/timesource"
)

// ErrNotFound is returned when no DS3231 answers on the bus.
var ErrNotFound = errors.New("rtc not found")

const regSeconds = 0x00

// DS3231 is a timesource.Setter backed by the chip. The chip runs in UTC;
// the configured location is applied on read and removed on write.
type DS3231 struct {
	bus  drivers.I2C
	dev  ds3231.Device
	loc  *time.Location
	addr uint16
}

var _ timesource.Setter = (*DS3231)(nil)

// New probes the chip at addr (0 = ds3231.Address) and starts its
// oscillator if it was stopped.
func New(bus drivers.I2C, addr uint16, loc *time.Location) (*DS3231, error) {
	if addr == 0 {
		addr = ds3231.Address
	}
	if loc == nil {
		loc = time.Local
	}
	r := &DS3231{bus: bus, dev: ds3231.New(bus), loc: loc, addr: addr}
	r.dev.Address = addr

	if err := r.Probe(); err != nil {
		return nil, err
	}
	r.dev.Configure()
	if !r.dev.IsRunning() {
		debug.Info("RTC oscillator stopped, starting it")
		if err := r.dev.SetRunning(true); err != nil {
			return nil, fmt.Errorf("start rtc oscillator: %w", err)
		}
	}
	if r.Lost() {
		debug.Info("RTC lost power since last set, time is unreliable until set")
	}
	return r, nil
}

// Probe reads the seconds register to check that the chip acknowledges.
func (r *DS3231) Probe() error {
	buf := make([]byte, 1)
	if err := r.bus.Tx(r.addr, []byte{regSeconds}, buf); err != nil {
		return fmt.Errorf("%w at %#02x: %v", ErrNotFound, r.addr, err)
	}
	return nil
}

// Lost reports whether the oscillator-stop flag is set, i.e. the stored
// time cannot be trusted.
func (r *DS3231) Lost() bool {
	return !r.dev.IsTimeValid()
}

// Now reads the chip time and returns hour and minute in the configured
// location.
func (r *DS3231) Now(ctx context.Context) (timesource.Time, error) {
	if err := ctx.Err(); err != nil {
		return timesource.Time{}, err
	}
	t, err := r.read()
	if err != nil {
		return timesource.Time{}, err
	}
	return timesource.FromTime(t.In(r.loc)), nil
}

// Set writes t (local hour and minute, second 0) and keeps the stored date.
func (r *DS3231) Set(ctx context.Context, t timesource.Time) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	cur, err := r.read()
	if err != nil {
		return err
	}
	cur = cur.In(r.loc)
	want := time.Date(cur.Year(), cur.Month(), cur.Day(), t.Hour, t.Minute, 0, 0, r.loc)
	if err := r.dev.SetTime(want.UTC()); err != nil {
		return fmt.Errorf("rtc set time: %w", err)
	}
	debug.Info("RTC set to %s", t)
	return nil
}

func (r *DS3231) read() (time.Time, error) {
	t, err := r.dev.ReadTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("rtc read time: %w", err)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC), nil
}
