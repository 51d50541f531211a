// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

// Package server is the CallVault connection service.
//
// It accepts persistent TCP connections speaking the CBOR frame
// protocol, one goroutine per connection. A connection registers an
// address, after which the server relays calls, signaling, and
// messages between connections. Frames that mutate durable state or
// initiate reach arrive inside signed envelopes; the server verifies
// the envelope and checks the authenticated sender against the
// connection's registered address before dispatching.
//
// The package also serves the HTTP surface: health and diagnostics,
// server time for client clock-skew measurement, TURN configuration,
// and call session token minting.
package server
