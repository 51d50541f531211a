// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// Fake returns a FakeClock pinned to the given instant. Time moves
// only through Advance; ring timers, grace periods, and retry backoff
// scheduled against the clock stay parked until the test drives them.
//
// Safe for concurrent use.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{now: initial}
	c.registered = sync.NewCond(&c.mu)
	return c
}

// FakeClock is the deterministic Clock used in tests. Advance fires
// due waiters one at a time in deadline order, running AfterFunc
// callbacks on the calling goroutine, so a test observes every timer
// effect before Advance returns. Calling Advance or Sleep from inside
// an AfterFunc callback deadlocks.
type FakeClock struct {
	mu         sync.Mutex
	now        time.Time
	pending    []*pendingTimer
	registered *sync.Cond
}

// pendingTimer is one scheduled waiter. Exactly one of ch and fn is
// set: ch serves After, Sleep, and tickers; fn serves AfterFunc.
type pendingTimer struct {
	at time.Time
	ch chan time.Time
	fn func()

	// repeat reschedules the waiter after each firing; zero for
	// one-shot waiters.
	repeat time.Duration

	// active turns false when the waiter is stopped or a one-shot
	// fires. Inactive entries are dropped from the pending list.
	active bool
}

// Now returns the pinned instant.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that receives the fire time once the clock
// advances past d. A non-positive d delivers immediately.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.add(&pendingTimer{at: c.now.Add(d), ch: ch, active: true})
	return ch
}

// AfterFunc schedules f to run during the Advance that crosses d from
// now. The returned Timer has a nil C. A non-positive d runs f before
// AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()
	if d <= 0 {
		c.mu.Unlock()
		f()
		return &Timer{
			stopFunc:  func() bool { return false },
			resetFunc: func(time.Duration) bool { return false },
		}
	}

	entry := &pendingTimer{at: c.now.Add(d), fn: f, active: true}
	c.add(entry)
	c.mu.Unlock()

	return &Timer{
		stopFunc: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			wasActive := entry.active
			entry.active = false
			return wasActive
		},
		resetFunc: func(d time.Duration) bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			wasActive := entry.active
			entry.at = c.now.Add(d)
			entry.active = true
			c.add(entry)
			return wasActive
		},
	}
}

// NewTicker returns a Ticker firing every d. Panics if d <= 0.
// An Advance spanning several intervals delivers one tick per
// interval, dropping ticks the 1-buffered channel cannot hold, the
// same as time.Ticker.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	ch := make(chan time.Time, 1)
	c.mu.Lock()
	entry := &pendingTimer{at: c.now.Add(d), ch: ch, repeat: d, active: true}
	c.add(entry)
	c.mu.Unlock()

	return &Ticker{
		C: ch,
		stopFunc: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			entry.active = false
		},
		resetFunc: func(d time.Duration) {
			c.mu.Lock()
			defer c.mu.Unlock()
			entry.at = c.now.Add(d)
			entry.repeat = d
			if !entry.active {
				entry.active = true
				c.add(entry)
			}
		},
	}
}

// Sleep parks the goroutine until an Advance crosses d.
func (c *FakeClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-c.After(d)
}

// add registers a waiter and wakes WaitForTimers. Caller holds c.mu.
func (c *FakeClock) add(entry *pendingTimer) {
	for _, existing := range c.pending {
		if existing == entry {
			c.registered.Broadcast()
			return
		}
	}
	c.pending = append(c.pending, entry)
	c.registered.Broadcast()
}

// Advance moves the clock to now+d and fires everything due, one
// waiter at a time in deadline order. Each AfterFunc callback runs to
// completion before the next waiter fires, so callbacks that schedule
// follow-up timers inside the advanced window are honored in the same
// call.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	c.mu.Unlock()

	for {
		entry := c.popDue(target)
		if entry == nil {
			return
		}
		if entry.fn != nil {
			entry.fn()
			continue
		}
		select {
		case entry.ch <- target:
		default:
		}
	}
}

// popDue removes and returns the earliest-deadline active waiter due
// at or before target, rescheduling tickers and sweeping dead
// entries. Returns nil when nothing is due.
func (c *FakeClock) popDue(target time.Time) *pendingTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	earliest := -1
	kept := c.pending[:0]
	for _, entry := range c.pending {
		if !entry.active {
			continue
		}
		kept = append(kept, entry)
		if entry.at.After(target) {
			continue
		}
		if earliest < 0 || entry.at.Before(kept[earliest].at) {
			earliest = len(kept) - 1
		}
	}
	c.pending = kept
	if earliest < 0 {
		return nil
	}

	due := c.pending[earliest]
	if due.repeat > 0 {
		due.at = due.at.Add(due.repeat)
		return due
	}
	due.active = false
	c.pending = append(c.pending[:earliest], c.pending[earliest+1:]...)
	return due
}

// WaitForTimers blocks until at least n waiters are pending. It
// closes the race between a goroutine scheduling a timer and the test
// advancing past its deadline:
//
//	go worker(c)          // schedules a retry timer at some point
//	c.WaitForTimers(1)    // returns once the timer exists
//	c.Advance(backoff)    // now guaranteed to fire it
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.activeCount() < n {
		c.registered.Wait()
	}
}

// PendingCount reports how many waiters are currently scheduled.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeCount()
}

func (c *FakeClock) activeCount() int {
	n := 0
	for _, entry := range c.pending {
		if entry.active {
			n++
		}
	}
	return n
}
