// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides CallVault's standard CBOR encoding.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items.
// Determinism is load-bearing here, not cosmetic — envelope signatures
// are computed over the encoded payload bytes, so the same logical
// payload must produce identical bytes on every peer.
//
// Decoding accepts standard CBOR and silently ignores unknown fields
// for forward compatibility with newer clients.
package codec
