// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/callvault/callvault/lib/clock"
	"github.com/callvault/callvault/lib/ref"
)

// EngineConfig configures an Engine.
type EngineConfig struct {
	Store  Store
	Clock  clock.Clock
	Logger *slog.Logger

	// CountIgnoredTowardAutoBlock makes expired or ignored call
	// requests count toward the auto-block threshold the same as
	// explicit declines. Off by default: letting a request lapse is a
	// weaker signal than declining it.
	CountIgnoredTowardAutoBlock bool
}

// Engine evaluates call admission. A nil Store yields a permissive
// engine that admits every attempt; demo deployments run that way.
type Engine struct {
	store        Store
	clock        clock.Clock
	logger       *slog.Logger
	countIgnored bool
}

// NewEngine creates an engine.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		store:        cfg.Store,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		countIgnored: cfg.CountIgnoredTowardAutoBlock,
	}
}

// Decide evaluates one call attempt from caller to recipient. pass is
// the zero PassID when the caller presented none. First match wins:
// blocklist, then freeze, then per-contact override, then the default
// ruleset, and finally the rate guard, which can downgrade an allow.
//
// Pass redemption is destructive: a redeemed unit stays spent even if
// the rate guard subsequently downgrades the decision. The alternative
// lets a rate-limited caller probe pass validity for free.
func (e *Engine) Decide(ctx context.Context, caller, recipient ref.Address, pass ref.PassID) (Decision, error) {
	if e.store == nil {
		return Decision{Verdict: VerdictAllow}, nil
	}
	now := e.clock.Now()

	blocked, err := e.store.IsBlocked(ctx, recipient, caller)
	if err != nil {
		return Decision{}, fmt.Errorf("admission check: %w", err)
	}
	if blocked {
		return Decision{Verdict: VerdictBlock, Reason: ReasonBlocked}, nil
	}

	pol, err := e.store.Policy(ctx, recipient)
	if err != nil {
		return Decision{}, fmt.Errorf("admission check: %w", err)
	}
	override, hasOverride, err := e.store.Override(ctx, recipient, caller)
	if err != nil {
		return Decision{}, fmt.Errorf("admission check: %w", err)
	}

	if pol.Frozen {
		if hasOverride && override.Permission == PermitAlways {
			return e.rateGuard(ctx, caller, recipient, pol, now)
		}
		if !pass.IsZero() {
			redeemed, err := e.store.RedeemPass(ctx, recipient, pass, now)
			if err != nil {
				return Decision{}, fmt.Errorf("admission check: %w", err)
			}
			if redeemed {
				return e.rateGuard(ctx, caller, recipient, pol, now)
			}
		}
		return Decision{Verdict: VerdictVoicemail, Reason: ReasonFrozen}, nil
	}

	if hasOverride {
		switch override.Permission {
		case PermitAlways:
			return e.rateGuard(ctx, caller, recipient, pol, now)
		case PermitBlocked:
			return Decision{Verdict: VerdictBlock, Reason: ReasonBlocked}, nil
		case PermitScheduled:
			if override.InSchedule(now) {
				return e.rateGuard(ctx, caller, recipient, pol, now)
			}
			return Decision{Verdict: VerdictBlock, Reason: ReasonNotAllowed}, nil
		case PermitOneTime:
			consumed, err := e.store.ConsumeOverride(ctx, recipient, caller)
			if err != nil {
				return Decision{}, fmt.Errorf("admission check: %w", err)
			}
			if consumed {
				return e.rateGuard(ctx, caller, recipient, pol, now)
			}
			// Already spent: fall through to the default ruleset.
		}
	}

	switch pol.AllowCallsFrom {
	case RulesetAnyone:
		return e.rateGuard(ctx, caller, recipient, pol, now)
	case RulesetContacts:
		known, err := e.store.IsContact(ctx, recipient, caller)
		if err != nil {
			return Decision{}, fmt.Errorf("admission check: %w", err)
		}
		if known {
			return e.rateGuard(ctx, caller, recipient, pol, now)
		}
		if decision, granted, err := e.redeemIfPresented(ctx, caller, recipient, pol, pass, now); err != nil {
			return Decision{}, err
		} else if granted {
			return decision, nil
		}
		switch pol.UnknownCallerBehavior {
		case UnknownRing:
			return e.rateGuard(ctx, caller, recipient, pol, now)
		case UnknownRequest:
			return Decision{Verdict: VerdictRequestApproval}, nil
		default:
			return Decision{Verdict: VerdictBlock, Reason: ReasonNotAllowed}, nil
		}
	case RulesetInviteOnly:
		if decision, granted, err := e.redeemIfPresented(ctx, caller, recipient, pol, pass, now); err != nil {
			return Decision{}, err
		} else if granted {
			return decision, nil
		}
		if pass.IsZero() {
			return Decision{Verdict: VerdictBlock, Reason: ReasonNotAllowed}, nil
		}
		return Decision{Verdict: VerdictBlock, Reason: ReasonPassSpent}, nil
	default:
		return Decision{Verdict: VerdictBlock, Reason: ReasonNotAllowed}, nil
	}
}

func (e *Engine) redeemIfPresented(ctx context.Context, caller, recipient ref.Address, pol Policy, pass ref.PassID, now time.Time) (Decision, bool, error) {
	if pass.IsZero() {
		return Decision{}, false, nil
	}
	redeemed, err := e.store.RedeemPass(ctx, recipient, pass, now)
	if err != nil {
		return Decision{}, false, fmt.Errorf("admission check: %w", err)
	}
	if !redeemed {
		return Decision{}, false, nil
	}
	decision, err := e.rateGuard(ctx, caller, recipient, pol, now)
	return decision, true, err
}

// rateGuard finalizes an allow. If the caller has exceeded the ring
// rate or the cumulative-decline threshold, the allow downgrades to a
// block; crossing the decline threshold also inserts a durable
// auto-block entry so the denial outlives the window.
func (e *Engine) rateGuard(ctx context.Context, caller, recipient ref.Address, pol Policy, now time.Time) (Decision, error) {
	if pol.AutoBlockAfterRejects > 0 {
		rejections, err := e.store.RejectionCount(ctx, recipient, caller)
		if err != nil {
			return Decision{}, fmt.Errorf("rate guard: %w", err)
		}
		if rejections >= pol.AutoBlockAfterRejects {
			if err := e.store.Block(ctx, recipient, caller, true, now); err != nil {
				return Decision{}, fmt.Errorf("auto-block: %w", err)
			}
			e.logger.Info("auto-blocked caller",
				"caller", caller, "recipient", recipient, "rejections", rejections)
			return Decision{Verdict: VerdictBlock, Reason: ReasonAutoBlocked}, nil
		}
	}

	if pol.MaxRingsPerSender > 0 && pol.RingWindowMinutes > 0 {
		window := time.Duration(pol.RingWindowMinutes) * time.Minute
		rings, err := e.store.RingsSince(ctx, recipient, caller, now.Add(-window))
		if err != nil {
			return Decision{}, fmt.Errorf("rate guard: %w", err)
		}
		if rings >= pol.MaxRingsPerSender {
			return Decision{
				Verdict:           VerdictBlock,
				Reason:            ReasonRateLimited,
				RetryAfterSeconds: int(window.Seconds()),
			}, nil
		}
	}

	if err := e.store.RecordRing(ctx, recipient, caller, now); err != nil {
		return Decision{}, fmt.Errorf("rate guard: %w", err)
	}
	return Decision{Verdict: VerdictAllow}, nil
}

// GrantOneTime lets the next call attempt from caller through, used
// when the recipient approves a pending call request.
func (e *Engine) GrantOneTime(ctx context.Context, caller, recipient ref.Address) error {
	if e.store == nil {
		return nil
	}
	err := e.store.SaveOverride(ctx, Override{
		Owner:      recipient,
		Contact:    caller,
		Permission: PermitOneTime,
	})
	if err != nil {
		return fmt.Errorf("granting one-time permission: %w", err)
	}
	return nil
}

// RecordDecline logs an explicit decline and applies the auto-block
// threshold immediately so the very next attempt is denied.
func (e *Engine) RecordDecline(ctx context.Context, caller, recipient ref.Address) error {
	return e.recordRejection(ctx, caller, recipient, true)
}

// RecordIgnored logs a call request that expired or was dismissed
// without an answer. Counts toward auto-block only when the engine is
// configured to treat ignores as declines.
func (e *Engine) RecordIgnored(ctx context.Context, caller, recipient ref.Address) error {
	return e.recordRejection(ctx, caller, recipient, false)
}

func (e *Engine) recordRejection(ctx context.Context, caller, recipient ref.Address, explicit bool) error {
	if e.store == nil {
		return nil
	}
	if !explicit && !e.countIgnored {
		return nil
	}
	now := e.clock.Now()
	if err := e.store.RecordRejection(ctx, recipient, caller, now); err != nil {
		return fmt.Errorf("recording rejection: %w", err)
	}

	pol, err := e.store.Policy(ctx, recipient)
	if err != nil {
		return fmt.Errorf("recording rejection: %w", err)
	}
	if pol.AutoBlockAfterRejects <= 0 {
		return nil
	}
	rejections, err := e.store.RejectionCount(ctx, recipient, caller)
	if err != nil {
		return fmt.Errorf("recording rejection: %w", err)
	}
	if rejections >= pol.AutoBlockAfterRejects {
		if err := e.store.Block(ctx, recipient, caller, true, now); err != nil {
			return fmt.Errorf("auto-block: %w", err)
		}
		e.logger.Info("auto-blocked caller",
			"caller", caller, "recipient", recipient, "rejections", rejections)
	}
	return nil
}
