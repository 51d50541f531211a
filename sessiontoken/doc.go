// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

// Package sessiontoken mints and verifies call session tokens.
//
// A session token is handed to a client before it starts signaling. It
// carries the client's address, a fresh nonce, the plan entitlements
// that gate relay and video, and an expiry. The wire format is a CBOR
// payload followed by a 64-byte Ed25519 signature, so verification is
// a signature check plus an expiry check with no server-side session
// state.
//
// The package also builds the ICE server configuration clients need
// for WebRTC connectivity, including ephemeral TURN relay credentials
// derived with the coturn shared-secret scheme.
package sessiontoken
