// Package ratewindow enforces per-target throughput caps with sliding
// hourly and daily windows over recorded dispatch timestamps.
package ratewindow

import (
	"sync"
	"time"
)

const (
	hourWindow = time.Hour
	dayWindow  = 24 * time.Hour

	// MinWait is the floor applied to hourly-cap waits so targets are never
	// hammered right at the window edge.
	MinWait = 5 * time.Minute
)

// Caps are the per-target throughput limits.
type Caps struct {
	Hourly int `json:"hourly"`
	Daily  int `json:"daily"`
}

func (c Caps) withDefaults() Caps {
	if c.Hourly <= 0 {
		c.Hourly = 5
	}
	if c.Daily <= 0 {
		c.Daily = 20
	}
	return c
}

// Config holds the default caps and optional per-target overrides.
type Config struct {
	Default Caps            `json:"default"`
	Targets map[string]Caps `json:"targets,omitempty"`
}

func (c Config) capsFor(target string) Caps {
	if caps, ok := c.Targets[target]; ok {
		return caps.withDefaults()
	}
	return c.Default.withDefaults()
}

// window is one target's dispatch history within the trailing day, ascending.
type window struct {
	mu    sync.Mutex
	caps  Caps
	times []time.Time
}

// pruneLocked drops entries outside the day window and returns the number of
// remaining entries inside the hour window.
func (w *window) pruneLocked(now time.Time) (hourly int) {
	dayCut := now.Add(-dayWindow)
	i := 0
	for i < len(w.times) && !w.times[i].After(dayCut) {
		i++
	}
	if i > 0 {
		w.times = append(w.times[:0], w.times[i:]...)
	}
	hourCut := now.Add(-hourWindow)
	for _, t := range w.times {
		if t.After(hourCut) {
			hourly++
		}
	}
	return hourly
}

// Keeper owns the per-target windows. Each window carries its own lock so
// targets do not contend with each other.
type Keeper struct {
	mu      sync.Mutex
	cfg     Config
	windows map[string]*window
}

func NewKeeper(cfg Config) *Keeper {
	return &Keeper{cfg: cfg, windows: map[string]*window{}}
}

// Apply swaps the cap configuration. Existing dispatch history is kept.
func (k *Keeper) Apply(cfg Config) {
	k.mu.Lock()
	k.cfg = cfg
	for name, w := range k.windows {
		caps := cfg.capsFor(name)
		w.mu.Lock()
		w.caps = caps
		w.mu.Unlock()
	}
	k.mu.Unlock()
}

func (k *Keeper) windowFor(target string) *window {
	k.mu.Lock()
	defer k.mu.Unlock()
	w := k.windows[target]
	if w == nil {
		w = &window{caps: k.cfg.capsFor(target)}
		k.windows[target] = w
	}
	return w
}

// CanDispatch reports whether target is under both its hourly and daily caps
// at now.
func (k *Keeper) CanDispatch(target string, now time.Time) bool {
	w := k.windowFor(target)
	w.mu.Lock()
	defer w.mu.Unlock()
	hourly := w.pruneLocked(now)
	return hourly < w.caps.Hourly && len(w.times) < w.caps.Daily
}

// Record appends a dispatch timestamp for target. Called on successful
// publishes only.
func (k *Keeper) Record(target string, now time.Time) {
	w := k.windowFor(target)
	w.mu.Lock()
	// Keep the slice ordered even if completions land slightly out of order.
	n := len(w.times)
	if n > 0 && now.Before(w.times[n-1]) {
		i := n
		for i > 0 && now.Before(w.times[i-1]) {
			i--
		}
		w.times = append(w.times, time.Time{})
		copy(w.times[i+1:], w.times[i:])
		w.times[i] = now
	} else {
		w.times = append(w.times, now)
	}
	w.mu.Unlock()
}

// WaitTime returns how long dispatch for target must wait at now. Zero means
// dispatch is allowed. An hourly-cap wait lasts until the oldest hour-window
// entry expires, floored at MinWait; a daily-cap wait lasts until the oldest
// day-window entry expires, with no floor.
func (k *Keeper) WaitTime(target string, now time.Time) time.Duration {
	w := k.windowFor(target)
	w.mu.Lock()
	defer w.mu.Unlock()
	hourly := w.pruneLocked(now)

	if hourly >= w.caps.Hourly {
		oldest := w.times[len(w.times)-hourly]
		wait := hourWindow - now.Sub(oldest)
		if wait < MinWait {
			wait = MinWait
		}
		return wait
	}
	if len(w.times) >= w.caps.Daily {
		wait := dayWindow - now.Sub(w.times[0])
		if wait < 0 {
			wait = 0
		}
		return wait
	}
	return 0
}

// Counts returns the current hourly and daily dispatch counts for target.
func (k *Keeper) Counts(target string, now time.Time) (hourly, daily int) {
	w := k.windowFor(target)
	w.mu.Lock()
	defer w.mu.Unlock()
	hourly = w.pruneLocked(now)
	return hourly, len(w.times)
}

// Snapshot exports the dispatch history for checkpointing.
func (k *Keeper) Snapshot() map[string][]time.Time {
	k.mu.Lock()
	names := make([]string, 0, len(k.windows))
	for name := range k.windows {
		names = append(names, name)
	}
	k.mu.Unlock()

	out := make(map[string][]time.Time, len(names))
	for _, name := range names {
		w := k.windowFor(name)
		w.mu.Lock()
		out[name] = append([]time.Time(nil), w.times...)
		w.mu.Unlock()
	}
	return out
}

// Restore replaces the dispatch history from a checkpoint. Entries outside
// the day window are pruned on next access.
func (k *Keeper) Restore(hist map[string][]time.Time) {
	for name, times := range hist {
		w := k.windowFor(name)
		w.mu.Lock()
		w.times = append([]time.Time(nil), times...)
		w.mu.Unlock()
	}
}
