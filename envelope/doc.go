// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

// Package envelope authenticates inbound actions.
//
// Every mutating frame carries an envelope: a payload, an Ed25519
// signature, the claimed sender address, the signer's public key, a
// nonce, and a timestamp. The Verifier checks, in order, that the
// claimed address was derived from the public key, that the signature
// verifies over the canonical CBOR serialization of the signed
// portion, that the timestamp is within the accepted clock-skew
// window, and that the (address, nonce) pair has never been consumed
// before. Only then does the payload reach a handler.
//
// Verification failures are resolved at the boundary: the caller
// reports a typed error to the originating connection and must never
// forward or broadcast the unverified payload.
//
// Consumed nonces are persisted until an expiry horizon (the skew
// window plus a retention margin) so that replay detection survives a
// server restart while storage stays bounded.
package envelope
