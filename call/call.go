// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package call

import (
	"sync"
	"time"

	"github.com/callvault/callvault/lib/clock"
	"github.com/callvault/callvault/lib/ref"
)

// State is a call's lifecycle position. There is no stored idle state:
// a call that does not exist is idle.
type State string

const (
	StateRinging State = "ringing"
	StateActive  State = "active"
	StateHeld    State = "held"
	StateEnded   State = "ended"
)

// End reasons carried on the ended event.
const (
	ReasonHangup       = "hangup"
	ReasonMissed       = "missed"
	ReasonDeclined     = "declined"
	ReasonDisconnected = "disconnected"
	ReasonMerged       = "merged"
)

// Call is one direct call. Caller, Callee, and Video are immutable
// after creation; everything else is guarded by mu. Transitions are
// validated against the current state before they apply, so an invalid
// request leaves the call untouched.
type Call struct {
	ID     ref.CallID
	Caller ref.Address
	Callee ref.Address
	Video  bool

	mu          sync.Mutex
	state       State
	heldBy      ref.Address
	mergedInto  ref.RoomID
	startedAt   time.Time
	ringTimer   *clock.Timer
	graceTimers map[ref.Address]*clock.Timer
}

// State returns the current state.
func (c *Call) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// HeldBy returns who parked the call, if held.
func (c *Call) HeldBy() ref.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.heldBy
}

// MergedInto returns the room this call continued in, if merged.
func (c *Call) MergedInto() ref.RoomID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mergedInto
}

// Peer returns the other participant.
func (c *Call) Peer(of ref.Address) ref.Address {
	if of == c.Caller {
		return c.Callee
	}
	return c.Caller
}

// Has reports whether address is a participant.
func (c *Call) Has(address ref.Address) bool {
	return address == c.Caller || address == c.Callee
}

func (c *Call) stopRingTimerLocked() {
	if c.ringTimer != nil {
		c.ringTimer.Stop()
		c.ringTimer = nil
	}
}

func (c *Call) stopGraceTimersLocked() {
	for _, timer := range c.graceTimers {
		timer.Stop()
	}
	c.graceTimers = nil
}
