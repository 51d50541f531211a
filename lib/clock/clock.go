// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the time source injected into everything that schedules:
// ring timeouts, call-request TTLs, disconnect grace periods, outbox
// backoff, nonce pruning. Domain code never touches the time package
// directly; it takes a Clock so tests can drive every timer path
// deterministically with Fake.
type Clock interface {
	// Now returns the current instant.
	Now() time.Time

	// After returns a channel delivering the fire time once d has
	// elapsed. A non-positive d delivers immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc runs f once d has elapsed, unless the returned Timer
	// is stopped first. The Timer's C is nil, as with time.AfterFunc.
	// With a non-positive d the real clock runs f on its own
	// goroutine and the fake runs it before returning.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker delivers a tick on C every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker

	// Sleep blocks the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// Timer is a cancelable scheduled event, the handle AfterFunc hands
// back. C is nil for AfterFunc timers.
type Timer struct {
	C <-chan time.Time

	stopFunc  func() bool
	resetFunc func(time.Duration) bool
}

// Stop cancels the pending fire. Reports whether the call stopped it;
// false means it already fired or was stopped before.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Reset rearms the timer to fire after d, reporting whether it was
// still active.
func (t *Timer) Reset(d time.Duration) bool { return t.resetFunc(d) }

// Ticker delivers periodic ticks on C. The channel holds one tick; a
// slow consumer loses ticks rather than queueing them, matching
// time.Ticker. Stop releases it; C stays open.
type Ticker struct {
	C <-chan time.Time

	stopFunc  func()
	resetFunc func(time.Duration)
}

// Stop ends tick delivery. C is not closed.
func (t *Ticker) Stop() { t.stopFunc() }

// Reset restarts the tick cycle with interval d.
func (t *Ticker) Reset(d time.Duration) { t.resetFunc(d) }
