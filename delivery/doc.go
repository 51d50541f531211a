// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

// Package delivery moves messages with at-least-once, ordered,
// deduplicated semantics. Every submission is checked against its
// idempotency key, assigned a per-conversation monotonic sequence
// number, and durably written before any acknowledgment goes out.
// Recipients with a live connection get the message immediately;
// everyone else gets it flushed in order on their next registration.
// The Outbox is the client half: queued sends with backed-off retry
// until an acknowledgment, duplicate included, arrives.
package delivery
