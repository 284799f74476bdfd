// Package clock runs the flip clock: it homes the dials, keeps them on the
// time source, and feeds front-panel buttons and web requests to the mode
// machine. A single goroutine (Run) owns the dials.
package clock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/FlipGo/internal/debug"
	"github.com/cjeanneret/FlipGo/internal/hw/switches"
	"github.com/cjeanneret/FlipGo/internal/logic/mode"
	"github.com/cjeanneret/FlipGo/internal/logic/motion"
	"github.com/cjeanneret/FlipGo/internal/timesource"
)

var (
	// ErrSetting is returned for remote changes while the user sets the clock by hand.
	ErrSetting = errors.New("clock is in setting mode")
	// ErrStopped is returned for requests sent after Run has returned.
	ErrStopped = errors.New("clock stopped")
)

// Config holds the loop timings.
type Config struct {
	PollInterval time.Duration // button sampling period
	SyncInterval time.Duration // time source reads in NORMAL
	Cooldown     time.Duration // minimum gap between accepted button presses
}

// Status is a snapshot of the clock for the web API.
type Status struct {
	Mode      mode.State       `json:"mode"`
	Homed     bool             `json:"homed"`
	Minute    int              `json:"minute"`
	Hour      int              `json:"hour"`
	Scratch   *timesource.Time `json:"scratch,omitempty"`
	LastSync  time.Time        `json:"last_sync"`
	LastError string           `json:"last_error,omitempty"`
}

type requestKind int

const (
	setTime requestKind = iota
	resync
)

type request struct {
	kind requestKind
	t    timesource.Time
	done chan error
}

type button struct {
	id   mode.Button
	edge *switches.Edge
}

// Runner owns the dials and the mode machine.
type Runner struct {
	cfg     Config
	motion  *motion.Controller
	machine *mode.Machine
	source  timesource.Setter
	buttons []button
	now     func() time.Time

	requests chan request
	stopped  chan struct{}

	mu       sync.Mutex
	status   Status
	onStatus func(Status)
}

// NewRunner wires a runner. buttons may be empty (NTP-only installs).
func NewRunner(cfg Config, m *motion.Controller, source timesource.Setter, buttons map[mode.Button]switches.Input) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = time.Second
	}
	r := &Runner{
		cfg:      cfg,
		motion:   m,
		machine:  mode.New(m, source, cfg.Cooldown),
		source:   source,
		now:      time.Now,
		requests: make(chan request),
		stopped:  make(chan struct{}),
	}
	// Fixed order so simultaneous presses are handled predictably.
	for _, id := range []mode.Button{mode.Mode, mode.Hour, mode.Minute, mode.Save, mode.Cancel} {
		if in, ok := buttons[id]; ok && in != nil {
			r.buttons = append(r.buttons, button{id: id, edge: switches.NewEdge(in)})
		}
	}
	r.status = r.snapshot()
	return r
}

// OnStatus registers fn to receive every new status. Call before Run.
func (r *Runner) OnStatus(fn func(Status)) {
	r.mu.Lock()
	r.onStatus = fn
	r.mu.Unlock()
}

// Status returns the latest snapshot.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// SetTime writes t to the time source and moves the dials to it.
func (r *Runner) SetTime(ctx context.Context, t timesource.Time) error {
	if err := t.Validate(); err != nil {
		return err
	}
	return r.send(ctx, request{kind: setTime, t: t})
}

// Resync reads the time source and moves the dials now.
func (r *Runner) Resync(ctx context.Context) error {
	return r.send(ctx, request{kind: resync})
}

func (r *Runner) send(ctx context.Context, req request) error {
	req.done = make(chan error, 1)
	select {
	case r.requests <- req:
	case <-r.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-r.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run homes the dials and runs the clock until ctx is cancelled. It returns
// nil on cancellation and an error when a dial fails to move.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.stopped)

	if err := r.motion.HomeAll(ctx); err != nil {
		return r.abort(ctx, fmt.Errorf("homing: %w", err))
	}
	r.publish()

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	var nextSync time.Time
	for {
		if r.machine.State() == mode.Normal && !r.now().Before(nextSync) {
			if _, err := r.sync(ctx); err != nil {
				return r.abort(ctx, err)
			}
			nextSync = r.now().Add(r.cfg.SyncInterval)
		}

		select {
		case <-ctx.Done():
			debug.Info("Clock stopped")
			return nil

		case req := <-r.requests:
			reqErr, fatal := r.handle(ctx, req)
			req.done <- reqErr
			if fatal != nil {
				return r.abort(ctx, fatal)
			}
			nextSync = r.now().Add(r.cfg.SyncInterval)

		case <-ticker.C:
			before := r.machine.State()
			if err := r.pollButtons(ctx); err != nil {
				return r.abort(ctx, err)
			}
			if before == mode.Setting && r.machine.State() == mode.Normal {
				nextSync = time.Time{}
			}
		}
	}
}

// abort records a fatal error, or swallows it if ctx was cancelled mid-move.
func (r *Runner) abort(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		debug.Info("Clock stopped")
		return nil
	}
	r.fail(err)
	return err
}

// sync reads the time source and moves the dials. A time source error is
// recorded and left for the next interval to retry; a dial error is fatal.
func (r *Runner) sync(ctx context.Context) (sourceErr, dialErr error) {
	t, err := r.source.Now(ctx)
	if err != nil {
		err = fmt.Errorf("read time: %w", err)
		r.fail(err)
		return err, nil
	}
	if _, _, err := r.motion.SyncTo(ctx, t); err != nil {
		return nil, fmt.Errorf("sync to %s: %w", t, err)
	}
	r.mu.Lock()
	r.status.LastSync = r.now()
	r.status.LastError = ""
	r.mu.Unlock()
	r.publish()
	return nil, nil
}

// handle runs a web request. reqErr goes back to the caller; fatal stops Run.
func (r *Runner) handle(ctx context.Context, req request) (reqErr, fatal error) {
	if r.machine.State() == mode.Setting {
		return ErrSetting, nil
	}
	if req.kind == setTime {
		if err := r.source.Set(ctx, req.t); err != nil {
			err = fmt.Errorf("set time: %w", err)
			r.fail(err)
			return err, nil
		}
		debug.Info("Time set to %s (web)", req.t)
	}
	sourceErr, dialErr := r.sync(ctx)
	if dialErr != nil {
		return dialErr, dialErr
	}
	return sourceErr, nil
}

func (r *Runner) pollButtons(ctx context.Context) error {
	for _, b := range r.buttons {
		pressed, err := b.edge.Poll()
		if err != nil {
			return fmt.Errorf("button %s: %w", b.id, err)
		}
		if !pressed {
			continue
		}
		debug.Verbose("Button %s pressed", b.id)
		accepted, err := r.machine.Press(ctx, b.id)
		if err != nil {
			if !errors.Is(err, mode.ErrTimeSource) {
				return err
			}
			r.fail(err)
		}
		if accepted {
			r.publish()
		}
	}
	return nil
}

func (r *Runner) fail(err error) {
	debug.Error(err)
	r.mu.Lock()
	r.status.LastError = err.Error()
	r.mu.Unlock()
	r.publish()
}

// snapshot builds the dial and mode part of the status. Only the Run
// goroutine (or NewRunner) may call it.
func (r *Runner) snapshot() Status {
	minute, hour := r.motion.Positions()
	s := Status{
		Mode:   r.machine.State(),
		Homed:  r.motion.Homed(),
		Minute: minute,
		Hour:   hour,
	}
	if t, ok := r.machine.Scratch(); ok {
		s.Scratch = &t
	}
	return s
}

func (r *Runner) publish() {
	s := r.snapshot()
	r.mu.Lock()
	s.LastSync = r.status.LastSync
	s.LastError = r.status.LastError
	r.status = s
	fn := r.onStatus
	r.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}
