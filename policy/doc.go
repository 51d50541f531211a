// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy decides whether an inbound call attempt may ring its
// recipient. The decision folds together the recipient's blocklist,
// freeze state, per-contact overrides, default ruleset, presented call
// passes, and a ring-rate guard with automatic blocking. The engine is
// consulted exactly once per call, at initiation; everything after
// admission is relay.
package policy
