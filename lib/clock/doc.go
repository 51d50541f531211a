// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction.
//
// Every timer in the coordination core — ring timeouts, call-request
// TTLs, disconnect grace periods, outbox retry backoff, nonce pruning —
// runs through a Clock so that tests can drive it with a deterministic
// FakeClock instead of sleeping. Production code injects Real(); tests
// inject Fake() and call Advance.
//
// Wiring pattern:
//
//	coordinator := call.NewCoordinator(call.Config{Clock: clock.Real(), ...})
//
// In tests:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	// ... start the component ...
//	c.WaitForTimers(1)            // the ring timer is registered
//	c.Advance(45 * time.Second)   // the ring deterministically expires
//
// WaitForTimers eliminates the race between a goroutine registering a
// timer and the test advancing the clock; no test in this repository
// synchronizes on real sleeps.
package clock
