// Package timesource provides the wall-clock hour and minute the dials
// follow: network time, the host clock, or (in package rtc) a DS3231.
package timesource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrInvalidTime is returned for an hour outside 0-23 or a minute outside 0-59.
var ErrInvalidTime = errors.New("invalid time")

// Time is a time of day at minute resolution.
type Time struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// FromTime truncates t to hour and minute.
func FromTime(t time.Time) Time {
	return Time{Hour: t.Hour(), Minute: t.Minute()}
}

// Validate checks that the hour and minute are in range.
func (t Time) Validate() error {
	if t.Hour < 0 || t.Hour > 23 {
		return fmt.Errorf("%w: hour %d", ErrInvalidTime, t.Hour)
	}
	if t.Minute < 0 || t.Minute > 59 {
		return fmt.Errorf("%w: minute %d", ErrInvalidTime, t.Minute)
	}
	return nil
}

func (t Time) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Source reports the current time of day.
type Source interface {
	Now(ctx context.Context) (Time, error)
}

// Setter is a Source whose time can be changed by the user.
type Setter interface {
	Source
	Set(ctx context.Context, t Time) error
}

// adjustable keeps a manual offset on top of a reference clock. Setting the
// time moves the offset so that the reference plus offset reads t at second 0.
type adjustable struct {
	mu     sync.Mutex
	loc    *time.Location
	manual time.Duration
}

func (a *adjustable) apply(ref time.Time) time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return ref.Add(a.manual).In(a.loc)
}

func (a *adjustable) set(ref time.Time, t Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cur := ref.Add(a.manual).In(a.loc)
	want := time.Date(cur.Year(), cur.Month(), cur.Day(), t.Hour, t.Minute, 0, 0, a.loc)
	a.manual += want.Sub(cur)
}

// System follows the host clock, shifted by any manual setting.
type System struct {
	adjustable
	now func() time.Time
}

// NewSystem returns a host clock source in loc (nil means time.Local).
func NewSystem(loc *time.Location) *System {
	if loc == nil {
		loc = time.Local
	}
	return &System{adjustable: adjustable{loc: loc}, now: time.Now}
}

// Now returns the adjusted host time.
func (s *System) Now(ctx context.Context) (Time, error) {
	if err := ctx.Err(); err != nil {
		return Time{}, err
	}
	return FromTime(s.apply(s.now())), nil
}

// Set shifts the manual offset so that Now reports t.
func (s *System) Set(ctx context.Context, t Time) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.set(s.now(), t)
	return nil
}
