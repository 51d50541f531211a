// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"time"

	"github.com/callvault/callvault/lib/ref"
	"github.com/callvault/callvault/policy"
	"github.com/callvault/callvault/wire"
)

// errNoPolicyStore refuses policy management frames in demo mode.
func errNoPolicyStore() *wire.Error {
	return wire.NewError(wire.CodeInvalidState, "policy management requires persistent storage")
}

func (s *Server) handlePolicyUpdate(ctx context.Context, connection *conn, owner ref.Address, frame wire.PolicyUpdate) error {
	if s.policyStore == nil {
		return errNoPolicyStore()
	}
	updated := policy.Policy{
		Owner:                 owner,
		AllowCallsFrom:        policy.Ruleset(frame.AllowCallsFrom),
		UnknownCallerBehavior: policy.UnknownBehavior(frame.UnknownCallerBehavior),
		MaxRingsPerSender:     frame.MaxRingsPerSender,
		RingWindowMinutes:     frame.RingWindowMinutes,
		AutoBlockAfterRejects: frame.AutoBlockAfterRejects,
		Frozen:                frame.Frozen,
		UpdatedAt:             s.clock.Now(),
	}
	if err := s.policyStore.SavePolicy(ctx, updated); err != nil {
		return err
	}
	s.logger.Info("policy updated", "owner", owner, "ruleset", frame.AllowCallsFrom, "frozen", frame.Frozen)
	return connection.Send(policyEvent(updated))
}

func (s *Server) handlePolicyGet(ctx context.Context, connection *conn, owner ref.Address) error {
	if s.policyStore == nil {
		return errNoPolicyStore()
	}
	current, err := s.policyStore.Policy(ctx, owner)
	if err != nil {
		return err
	}
	return connection.Send(policyEvent(current))
}

func policyEvent(p policy.Policy) wire.Event {
	return wire.MustEvent(wire.EventPolicy, wire.PolicyEvent{
		AllowCallsFrom:        string(p.AllowCallsFrom),
		UnknownCallerBehavior: string(p.UnknownCallerBehavior),
		MaxRingsPerSender:     p.MaxRingsPerSender,
		RingWindowMinutes:     p.RingWindowMinutes,
		AutoBlockAfterRejects: p.AutoBlockAfterRejects,
		Frozen:                p.Frozen,
	})
}

func (s *Server) handleOverrideUpdate(ctx context.Context, connection *conn, owner ref.Address, frame wire.OverrideUpdate) error {
	if s.policyStore == nil {
		return errNoPolicyStore()
	}
	if frame.Clear {
		if err := s.policyStore.ClearOverride(ctx, owner, frame.Contact); err != nil {
			return err
		}
		return connection.Send(wire.MustEvent(wire.EventSuccess, wire.Success{Message: "override cleared"}))
	}
	override := policy.Override{
		Owner:         owner,
		Contact:       frame.Contact,
		Permission:    policy.Permission(frame.Permission),
		ScheduleStart: frame.ScheduleStart,
		ScheduleEnd:   frame.ScheduleEnd,
	}
	if err := s.policyStore.SaveOverride(ctx, override); err != nil {
		return err
	}
	return connection.Send(wire.MustEvent(wire.EventSuccess, wire.Success{Message: "override saved"}))
}

func (s *Server) handlePassCreate(ctx context.Context, connection *conn, owner ref.Address, frame wire.PassCreate) error {
	if s.policyStore == nil {
		return errNoPolicyStore()
	}
	pass := policy.Pass{
		PassID:        frame.PassID,
		Owner:         owner,
		Type:          policy.PassType(frame.PassType),
		UsesRemaining: frame.Uses,
		CreatedAt:     s.clock.Now(),
	}
	if frame.ExpiresAt > 0 {
		pass.ExpiresAt = time.UnixMilli(frame.ExpiresAt)
	}
	if err := s.policyStore.CreatePass(ctx, pass); err != nil {
		return err
	}
	s.logger.Info("pass created", "owner", owner, "pass", frame.PassID, "type", frame.PassType)
	return connection.Send(wire.MustEvent(wire.EventSuccess, wire.Success{Message: "pass created"}))
}

func (s *Server) handlePassRevoke(ctx context.Context, connection *conn, owner ref.Address, frame wire.PassRevoke) error {
	if s.policyStore == nil {
		return errNoPolicyStore()
	}
	if err := s.policyStore.RevokePass(ctx, owner, frame.PassID); err != nil {
		return err
	}
	return connection.Send(wire.MustEvent(wire.EventSuccess, wire.Success{Message: "pass revoked"}))
}

func (s *Server) handlePassList(ctx context.Context, connection *conn, owner ref.Address) error {
	if s.policyStore == nil {
		return errNoPolicyStore()
	}
	passes, err := s.policyStore.Passes(ctx, owner)
	if err != nil {
		return err
	}
	entries := make([]wire.PassEntry, 0, len(passes))
	for _, pass := range passes {
		entry := wire.PassEntry{
			PassID:        pass.PassID,
			PassType:      string(pass.Type),
			UsesRemaining: pass.UsesRemaining,
			Burned:        pass.Burned,
			Revoked:       pass.Revoked,
		}
		if !pass.ExpiresAt.IsZero() {
			entry.ExpiresAt = pass.ExpiresAt.UnixMilli()
		}
		entries = append(entries, entry)
	}
	return connection.Send(wire.MustEvent(wire.EventPasses, wire.PassesEvent{Passes: entries}))
}

func (s *Server) handleBlockAdd(ctx context.Context, connection *conn, owner ref.Address, frame wire.BlockAdd) error {
	if s.policyStore == nil {
		return errNoPolicyStore()
	}
	if err := s.policyStore.Block(ctx, owner, frame.Blocked, false, s.clock.Now()); err != nil {
		return err
	}
	return connection.Send(wire.MustEvent(wire.EventSuccess, wire.Success{Message: "blocked"}))
}

func (s *Server) handleBlockRemove(ctx context.Context, connection *conn, owner ref.Address, frame wire.BlockRemove) error {
	if s.policyStore == nil {
		return errNoPolicyStore()
	}
	if err := s.policyStore.Unblock(ctx, owner, frame.Blocked); err != nil {
		return err
	}
	return connection.Send(wire.MustEvent(wire.EventSuccess, wire.Success{Message: "unblocked"}))
}

func (s *Server) handleBlockList(ctx context.Context, connection *conn, owner ref.Address) error {
	if s.policyStore == nil {
		return errNoPolicyStore()
	}
	blocked, err := s.policyStore.Blocked(ctx, owner)
	if err != nil {
		return err
	}
	return connection.Send(wire.MustEvent(wire.EventBlocks, wire.BlocksEvent{Blocked: blocked}))
}

func (s *Server) handleContactAdd(ctx context.Context, connection *conn, owner ref.Address, frame wire.ContactAdd) error {
	if s.policyStore == nil {
		return errNoPolicyStore()
	}
	if err := s.policyStore.AddContact(ctx, owner, frame.Contact, s.clock.Now()); err != nil {
		return err
	}
	return connection.Send(wire.MustEvent(wire.EventSuccess, wire.Success{Message: "contact added"}))
}

func (s *Server) handleContactRemove(ctx context.Context, connection *conn, owner ref.Address, frame wire.ContactRemove) error {
	if s.policyStore == nil {
		return errNoPolicyStore()
	}
	if err := s.policyStore.RemoveContact(ctx, owner, frame.Contact); err != nil {
		return err
	}
	return connection.Send(wire.MustEvent(wire.EventSuccess, wire.Success{Message: "contact removed"}))
}

func (s *Server) handleContactList(ctx context.Context, connection *conn, owner ref.Address) error {
	if s.policyStore == nil {
		return errNoPolicyStore()
	}
	contacts, err := s.policyStore.Contacts(ctx, owner)
	if err != nil {
		return err
	}
	return connection.Send(wire.MustEvent(wire.EventContacts, wire.ContactsEvent{Contacts: contacts}))
}
