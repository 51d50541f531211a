// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package call

import (
	"time"

	"github.com/callvault/callvault/lib/clock"
	"github.com/callvault/callvault/lib/ref"
)

// Request statuses.
const (
	RequestPending  = "pending"
	RequestAccepted = "accepted"
	RequestDeclined = "declined"
	RequestExpired  = "expired"
)

// Request is a pending ask-to-call, created when the recipient's
// policy defers immediate ringing. TTL-bound; an unanswered request
// expires on a timer, never by polling.
type Request struct {
	ID        string
	Caller    ref.Address
	Recipient ref.Address
	ExpiresAt time.Time

	status string
	timer  *clock.Timer
}

// Status returns the request's status. Callers must hold the
// coordinator lock; requests are only touched under it.
func (r *Request) Status() string { return r.status }
