// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

// Package call owns the lifecycle of every call and room: admission
// via the policy engine (consulted exactly once, at initiation), the
// ringing/active/held state machine with explicit ring timeouts,
// call waiting, hold and resume, merging held calls into rooms, and
// relay of session-negotiation payloads between current participants.
// The coordinator never inspects negotiation payloads.
package call
