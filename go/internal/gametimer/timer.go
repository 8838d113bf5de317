// Package gametimer implements the game master's countdown clock: an
// adjustable countdown for the players plus a pause-immune count-up used for
// the real wall time of the session.
package gametimer

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Countdown tracks remaining game time. It keeps no goroutines: readings are
// computed from the clock on demand, so a fake clock drives it in tests.
type Countdown struct {
	mu    sync.Mutex
	clock clockwork.Clock

	initial   time.Duration
	remaining time.Duration
	running   bool
	startedAt time.Time

	// Real timer: starts the first time the countdown runs and ignores pauses
	sessionActive bool
	realStartedAt time.Time
}

// New creates a countdown with the given initial duration
func New(clock clockwork.Clock, initial time.Duration) *Countdown {
	return &Countdown{
		clock:     clock,
		initial:   initial,
		remaining: initial,
	}
}

// Start begins (or resumes) the countdown. The first Start also begins the
// real session clock. No-op while already running.
func (c *Countdown) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.startedAt = c.clock.Now()
	if !c.sessionActive {
		c.sessionActive = true
		c.realStartedAt = c.startedAt
	}
}

// Pause freezes the countdown; the real session clock keeps counting
func (c *Countdown) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.remaining = c.remainingLocked()
	c.running = false
}

// Reset stops everything and restores the countdown to duration d (or the
// initial duration when d is zero).
func (c *Countdown) Reset(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.initial = d
	}
	c.remaining = c.initial
	c.running = false
	c.sessionActive = false
}

// AddTime adjusts the remaining countdown by delta, never below zero
func (c *Countdown) AddTime(delta time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rem := c.remainingLocked() + delta
	if rem < 0 {
		rem = 0
	}
	c.remaining = rem
	if c.running {
		c.startedAt = c.clock.Now()
	}
}

// Remaining returns the countdown time left, floored at zero
func (c *Countdown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remainingLocked()
}

// Elapsed returns the real session time since the first Start, pauses
// included. Zero before the session begins or after Reset.
func (c *Countdown) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.sessionActive {
		return 0
	}
	return c.clock.Now().Sub(c.realStartedAt)
}

// Running reports whether the countdown is ticking
func (c *Countdown) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Countdown) remainingLocked() time.Duration {
	rem := c.remaining
	if c.running {
		rem -= c.clock.Now().Sub(c.startedAt)
	}
	if rem < 0 {
		rem = 0
	}
	return rem
}

// FormatClock renders a duration as mm:ss for the timer displays
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
