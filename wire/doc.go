// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the frame protocol between clients and the
// coordination server.
//
// Every inbound frame is a tagged union: an outer Frame with a "type"
// field plus either a direct body (connection-bound frames such as
// register and ping) or a signed envelope whose payload is the body
// (mutating frames such as call:init, msg:send, and every policy or
// pass operation). Decoding is a single decode-then-switch entry
// point; required-field validation lives with each variant rather than
// in one loosely-typed blob.
//
// Server-to-client events use the same outer shape without envelopes —
// the transport connection authenticates the server.
package wire
