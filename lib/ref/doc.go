// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref defines typed identifiers for the coordination core.
//
// Every identifier that crosses a package boundary — addresses, call
// IDs, room IDs, conversation IDs, message IDs, pass IDs — is a
// distinct type wrapping an unexported string. The wrapper buys
// compile-time safety (a CallID cannot be passed where a RoomID is
// expected) at zero runtime cost. All types implement
// encoding.TextMarshaler/TextUnmarshaler so they serialize as plain
// strings in CBOR and JSON.
//
// An Address is the unit of reachability: a rotating public routing
// handle derived from an identity's Ed25519 public key plus a random
// suffix. Deriving the handle from the key lets any peer check that an
// address belongs to the key that signs for it, without a directory
// lookup. The random suffix lets a user rotate handles without
// rotating keys.
package ref
