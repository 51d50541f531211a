// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides a fixed-size SQLite connection pool with
// CallVault-standard pragmas.
//
// Every durable table in the coordination core — nonces, policies,
// passes, messages — lives in one SQLite database
// accessed through this pool. The acknowledgment-after-commit rule in
// the delivery pipeline depends on SQLite's durability: a write that
// has returned from the pool has hit the WAL.
package sqlitepool
