// Package testutil holds helpers shared by package tests.
package testutil

import (
	"sync"
	"time"

	"github.com/juju/clock"
)

// StepClock is a clock whose waits return immediately after moving the
// clock forward by the requested duration. It lets code that sleeps
// between polls run at full speed while still observing elapsed time.
type StepClock struct {
	clock.Clock

	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

// NewStepClock creates a clock starting at now.
func NewStepClock(now time.Time) *StepClock {
	return &StepClock{Clock: clock.WallClock, now: now}
}

// Now returns the current fake time.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *StepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// After advances the clock by d and returns an already fired channel.
func (c *StepClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.waits = append(c.waits, d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

// Waits returns the durations of every After call.
func (c *StepClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

// NewTimer advances the clock by d and returns a timer that has already
// fired.
func (c *StepClock) NewTimer(d time.Duration) clock.Timer {
	return &firedTimer{ch: c.After(d)}
}

type firedTimer struct {
	ch <-chan time.Time
}

func (t *firedTimer) Chan() <-chan time.Time { return t.ch }

func (t *firedTimer) Reset(time.Duration) bool { return false }

func (t *firedTimer) Stop() bool { return false }
