package timesource

import (
	"context"
	"fmt"
	"time"

	"github.com/beevik/ntp"

	"github.com/cjeanneret/FlipGo/internal/debug"
)

// NTPConfig configures an NTP time source.
type NTPConfig struct {
	Server     string         // e.g. "pool.ntp.org"
	Location   *time.Location // display time zone, nil = time.Local
	Timeout    time.Duration  // per query
	Refresh    time.Duration  // how long a measured offset is trusted
	RetryDelay time.Duration  // pause between failed queries
}

// NTP follows network time. It measures the host clock offset against the
// server and reuses it until Refresh elapses, so Now does not hit the
// network on every call.
type NTP struct {
	adjustable
	cfg NTPConfig

	query func(host string, opt ntp.QueryOptions) (*ntp.Response, error)
	now   func() time.Time

	offset time.Duration // network - host
	synced time.Time     // host time of the last good query, zero = never
	retry  time.Time     // no refresh before this host time after a failure
}

// NewNTP creates an NTP source. Zero durations get sensible defaults.
func NewNTP(cfg NTPConfig) *NTP {
	if cfg.Server == "" {
		cfg.Server = "pool.ntp.org"
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Refresh <= 0 {
		cfg.Refresh = time.Hour
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	return &NTP{
		adjustable: adjustable{loc: cfg.Location},
		cfg:        cfg,
		query:      ntp.QueryWithOptions,
		now:        time.Now,
	}
}

// refresh performs one query and stores the offset.
func (n *NTP) refresh() error {
	resp, err := n.query(n.cfg.Server, ntp.QueryOptions{Timeout: n.cfg.Timeout})
	if err != nil {
		return fmt.Errorf("ntp query %s: %w", n.cfg.Server, err)
	}
	if err := resp.Validate(); err != nil {
		return fmt.Errorf("ntp response from %s: %w", n.cfg.Server, err)
	}

	n.mu.Lock()
	n.offset = resp.ClockOffset
	n.synced = n.now()
	n.mu.Unlock()
	debug.Verbose("NTP %s: clock offset %v", n.cfg.Server, resp.ClockOffset)
	return nil
}

// Sync queries the server until it answers or ctx is done, waiting
// RetryDelay between attempts.
func (n *NTP) Sync(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := n.refresh()
		if err == nil {
			debug.Info("NTP synchronized with %s", n.cfg.Server)
			return nil
		}
		debug.Info("NTP attempt %d failed: %v (retrying in %v)", attempt, err, n.cfg.RetryDelay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(n.cfg.RetryDelay):
		}
	}
}

// Synced reports whether at least one query succeeded.
func (n *NTP) Synced() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return !n.synced.IsZero()
}

// network returns the current network time from the cached offset,
// refreshing it when stale. A failed refresh keeps the old offset if there
// is one, and the next attempt waits RetryDelay.
func (n *NTP) network() (time.Time, error) {
	n.mu.Lock()
	host := n.now()
	stale := n.synced.IsZero() || host.Sub(n.synced) >= n.cfg.Refresh
	due := n.synced.IsZero() || !host.Before(n.retry)
	n.mu.Unlock()

	if stale && due {
		if err := n.refresh(); err != nil {
			n.mu.Lock()
			n.retry = host.Add(n.cfg.RetryDelay)
			n.mu.Unlock()
			if !n.Synced() {
				return time.Time{}, err
			}
			debug.Error(fmt.Errorf("keeping previous NTP offset: %w", err))
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	return n.now().Add(n.offset), nil
}

// Now returns network time in the configured location, shifted by any
// manual setting.
func (n *NTP) Now(ctx context.Context) (Time, error) {
	if err := ctx.Err(); err != nil {
		return Time{}, err
	}
	ref, err := n.network()
	if err != nil {
		return Time{}, err
	}
	return FromTime(n.apply(ref)), nil
}

// Set stores a manual offset so that Now reports t. The server is never
// written to.
func (n *NTP) Set(ctx context.Context, t Time) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ref, err := n.network()
	if err != nil {
		return err
	}
	n.set(ref, t)
	return nil
}
