// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"time"

	"github.com/callvault/callvault/lib/ref"
)

// Ruleset is the owner's default admission rule for callers with no
// override.
type Ruleset string

const (
	RulesetContacts   Ruleset = "contacts"
	RulesetAnyone     Ruleset = "anyone"
	RulesetInviteOnly Ruleset = "invite_only"
)

// UnknownBehavior governs callers who are not contacts when the
// ruleset is RulesetContacts.
type UnknownBehavior string

const (
	UnknownBlock   UnknownBehavior = "block"
	UnknownRequest UnknownBehavior = "request"
	UnknownRing    UnknownBehavior = "ring_unknown"
)

// Policy is one owner's call-admission configuration. Last write wins;
// updates always arrive in a signed envelope from the owner.
type Policy struct {
	Owner                 ref.Address
	AllowCallsFrom        Ruleset
	UnknownCallerBehavior UnknownBehavior
	MaxRingsPerSender     int
	RingWindowMinutes     int
	AutoBlockAfterRejects int
	Frozen                bool
	UpdatedAt             time.Time
}

// DefaultPolicy is the configuration owners start from.
func DefaultPolicy(owner ref.Address) Policy {
	return Policy{
		Owner:                 owner,
		AllowCallsFrom:        RulesetContacts,
		UnknownCallerBehavior: UnknownRequest,
		MaxRingsPerSender:     3,
		RingWindowMinutes:     10,
		AutoBlockAfterRejects: 0,
	}
}

// Permission is a per-contact override of the default ruleset.
type Permission string

const (
	PermitAlways    Permission = "always"
	PermitScheduled Permission = "scheduled"
	PermitOneTime   Permission = "one_time"
	PermitBlocked   Permission = "blocked"
)

// Override pins the decision for one (owner, contact) pair.
type Override struct {
	Owner   ref.Address
	Contact ref.Address

	Permission Permission

	// ScheduleStart and ScheduleEnd bound PermitScheduled, in minutes
	// from midnight UTC. A window may wrap past midnight.
	ScheduleStart int
	ScheduleEnd   int

	// Consumed marks a spent PermitOneTime override.
	Consumed bool
}

// InSchedule reports whether t falls inside a scheduled window.
func (o Override) InSchedule(t time.Time) bool {
	minute := t.UTC().Hour()*60 + t.UTC().Minute()
	if o.ScheduleStart <= o.ScheduleEnd {
		return minute >= o.ScheduleStart && minute < o.ScheduleEnd
	}
	// Window wraps midnight, e.g. 22:00 to 06:00.
	return minute >= o.ScheduleStart || minute < o.ScheduleEnd
}

// PassType classifies call passes.
type PassType string

const (
	PassOneTime  PassType = "one_time"
	PassLimited  PassType = "limited"
	PassExpiring PassType = "expiring"
)

// Pass is a capability token an owner hands to a non-contact. A unit
// of capacity is consumed atomically: two concurrent redemptions of
// the last unit admit exactly one caller.
type Pass struct {
	PassID ref.PassID
	Owner  ref.Address

	Type          PassType
	UsesRemaining int
	ExpiresAt     time.Time
	Burned        bool
	Revoked       bool
	CreatedAt     time.Time
}

// Verdict is the outcome of an admission decision.
type Verdict string

const (
	VerdictAllow           Verdict = "allow"
	VerdictRequestApproval Verdict = "request_approval"
	VerdictBlock           Verdict = "block"
	VerdictVoicemail       Verdict = "voicemail"
)

// Decision reasons. Reported to the caller without revealing the
// recipient's configuration.
const (
	ReasonBlocked     = "blocked"
	ReasonFrozen      = "frozen"
	ReasonNotAllowed  = "not_allowed"
	ReasonRateLimited = "rate_limited"
	ReasonAutoBlocked = "auto_blocked"
	ReasonPassSpent   = "pass_spent"
)

// Decision is the engine's answer for one call attempt.
type Decision struct {
	Verdict Verdict
	Reason  string

	// RetryAfterSeconds is set alongside ReasonRateLimited: the
	// cooldown before another attempt may be admitted.
	RetryAfterSeconds int
}
