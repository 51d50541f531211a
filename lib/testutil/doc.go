// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive], [RequireSend], and [RequireClosed] encapsulate the
// timeout safety valve pattern (select with time.After fallback) so
// that individual tests do not need direct time.After calls. They are
// the only place in the test suite where real wall-clock timeouts
// appear; everything else runs on clock.Fake.
//
// Helpers fail the test via t.Fatalf instead of returning errors;
// a test cannot recover from broken setup anyway.
package testutil
