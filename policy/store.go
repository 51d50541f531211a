// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/callvault/callvault/lib/ref"
	"github.com/callvault/callvault/lib/sqlitepool"
)

// Store is the durable state behind the engine.
type Store interface {
	Policy(ctx context.Context, owner ref.Address) (Policy, error)
	SavePolicy(ctx context.Context, policy Policy) error

	Override(ctx context.Context, owner, contact ref.Address) (Override, bool, error)
	SaveOverride(ctx context.Context, override Override) error
	ClearOverride(ctx context.Context, owner, contact ref.Address) error
	// ConsumeOverride atomically spends a one-time override. Returns
	// false when it was already consumed or does not exist.
	ConsumeOverride(ctx context.Context, owner, contact ref.Address) (bool, error)

	IsBlocked(ctx context.Context, owner, caller ref.Address) (bool, error)
	Block(ctx context.Context, owner, blocked ref.Address, auto bool, at time.Time) error
	Unblock(ctx context.Context, owner, blocked ref.Address) error
	Blocked(ctx context.Context, owner ref.Address) ([]ref.Address, error)

	IsContact(ctx context.Context, owner, contact ref.Address) (bool, error)
	AddContact(ctx context.Context, owner, contact ref.Address, at time.Time) error
	RemoveContact(ctx context.Context, owner, contact ref.Address) error
	Contacts(ctx context.Context, owner ref.Address) ([]ref.Address, error)

	CreatePass(ctx context.Context, pass Pass) error
	RevokePass(ctx context.Context, owner ref.Address, passID ref.PassID) error
	// RedeemPass atomically consumes a unit of pass capacity. Returns
	// false when the pass is revoked, burned, expired, or exhausted.
	RedeemPass(ctx context.Context, owner ref.Address, passID ref.PassID, now time.Time) (bool, error)
	Passes(ctx context.Context, owner ref.Address) ([]Pass, error)

	RecordRing(ctx context.Context, owner, caller ref.Address, at time.Time) error
	RingsSince(ctx context.Context, owner, caller ref.Address, since time.Time) (int, error)
	RecordRejection(ctx context.Context, owner, caller ref.Address, at time.Time) error
	RejectionCount(ctx context.Context, owner, caller ref.Address) (int, error)
}

// Schema creates the policy tables. Pass it to the pool's OnConnect
// alongside the other component schemas.
func Schema(conn *sqlite.Conn) error {
	return sqlitex.ExecuteScript(conn, `
		CREATE TABLE IF NOT EXISTS call_policies (
			owner                       TEXT    NOT NULL PRIMARY KEY,
			allow_calls_from            TEXT    NOT NULL,
			unknown_caller_behavior     TEXT    NOT NULL,
			max_rings_per_sender        INTEGER NOT NULL,
			ring_window_minutes         INTEGER NOT NULL,
			auto_block_after_rejections INTEGER NOT NULL,
			frozen                      INTEGER NOT NULL DEFAULT 0,
			updated_at                  INTEGER NOT NULL
		) WITHOUT ROWID;

		CREATE TABLE IF NOT EXISTS contact_overrides (
			owner          TEXT    NOT NULL,
			contact        TEXT    NOT NULL,
			permission     TEXT    NOT NULL,
			schedule_start INTEGER NOT NULL DEFAULT 0,
			schedule_end   INTEGER NOT NULL DEFAULT 0,
			consumed       INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (owner, contact)
		) WITHOUT ROWID;

		CREATE TABLE IF NOT EXISTS blocked_users (
			owner      TEXT    NOT NULL,
			blocked    TEXT    NOT NULL,
			auto       INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (owner, blocked)
		) WITHOUT ROWID;

		CREATE TABLE IF NOT EXISTS contacts (
			owner      TEXT    NOT NULL,
			contact    TEXT    NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (owner, contact)
		) WITHOUT ROWID;

		CREATE TABLE IF NOT EXISTS call_passes (
			pass_id        TEXT    NOT NULL PRIMARY KEY,
			owner          TEXT    NOT NULL,
			pass_type      TEXT    NOT NULL,
			uses_remaining INTEGER NOT NULL DEFAULT 0,
			expires_at     INTEGER NOT NULL DEFAULT 0,
			burned         INTEGER NOT NULL DEFAULT 0,
			revoked        INTEGER NOT NULL DEFAULT 0,
			created_at     INTEGER NOT NULL
		) WITHOUT ROWID;
		CREATE INDEX IF NOT EXISTS idx_passes_owner ON call_passes (owner);

		CREATE TABLE IF NOT EXISTS ring_attempts (
			owner  TEXT    NOT NULL,
			caller TEXT    NOT NULL,
			at     INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_rings_pair ON ring_attempts (owner, caller, at);

		CREATE TABLE IF NOT EXISTS call_rejections (
			owner  TEXT    NOT NULL,
			caller TEXT    NOT NULL,
			at     INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_rejections_pair ON call_rejections (owner, caller);
	`, nil)
}

// SQLiteStore implements Store on a connection pool whose OnConnect
// has run Schema.
type SQLiteStore struct {
	pool *sqlitepool.Pool
}

// NewSQLiteStore creates a policy store backed by the given pool.
func NewSQLiteStore(pool *sqlitepool.Pool) *SQLiteStore {
	return &SQLiteStore{pool: pool}
}

// Policy returns the owner's configuration, or DefaultPolicy when the
// owner has never saved one.
func (s *SQLiteStore) Policy(ctx context.Context, owner ref.Address) (Policy, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Policy{}, err
	}
	defer s.pool.Put(conn)

	policy := DefaultPolicy(owner)
	err = sqlitex.Execute(conn, `
		SELECT allow_calls_from, unknown_caller_behavior, max_rings_per_sender,
		       ring_window_minutes, auto_block_after_rejections, frozen, updated_at
		FROM call_policies WHERE owner = ?
	`, &sqlitex.ExecOptions{
		Args: []any{owner.String()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			policy.AllowCallsFrom = Ruleset(stmt.ColumnText(0))
			policy.UnknownCallerBehavior = UnknownBehavior(stmt.ColumnText(1))
			policy.MaxRingsPerSender = stmt.ColumnInt(2)
			policy.RingWindowMinutes = stmt.ColumnInt(3)
			policy.AutoBlockAfterRejects = stmt.ColumnInt(4)
			policy.Frozen = stmt.ColumnInt(5) != 0
			policy.UpdatedAt = time.UnixMilli(stmt.ColumnInt64(6))
			return nil
		},
	})
	if err != nil {
		return Policy{}, fmt.Errorf("loading policy: %w", err)
	}
	return policy, nil
}

// SavePolicy upserts the owner's configuration. Last write wins.
func (s *SQLiteStore) SavePolicy(ctx context.Context, policy Policy) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO call_policies (owner, allow_calls_from, unknown_caller_behavior,
			max_rings_per_sender, ring_window_minutes, auto_block_after_rejections,
			frozen, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner) DO UPDATE SET
			allow_calls_from            = excluded.allow_calls_from,
			unknown_caller_behavior     = excluded.unknown_caller_behavior,
			max_rings_per_sender        = excluded.max_rings_per_sender,
			ring_window_minutes         = excluded.ring_window_minutes,
			auto_block_after_rejections = excluded.auto_block_after_rejections,
			frozen                      = excluded.frozen,
			updated_at                  = excluded.updated_at
	`, &sqlitex.ExecOptions{
		Args: []any{
			policy.Owner.String(), string(policy.AllowCallsFrom),
			string(policy.UnknownCallerBehavior), policy.MaxRingsPerSender,
			policy.RingWindowMinutes, policy.AutoBlockAfterRejects,
			boolInt(policy.Frozen), policy.UpdatedAt.UnixMilli(),
		},
	})
	if err != nil {
		return fmt.Errorf("saving policy: %w", err)
	}
	return nil
}

// Override returns the override for the pair, if any.
func (s *SQLiteStore) Override(ctx context.Context, owner, contact ref.Address) (Override, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Override{}, false, err
	}
	defer s.pool.Put(conn)

	override := Override{Owner: owner, Contact: contact}
	found := false
	err = sqlitex.Execute(conn, `
		SELECT permission, schedule_start, schedule_end, consumed
		FROM contact_overrides WHERE owner = ? AND contact = ?
	`, &sqlitex.ExecOptions{
		Args: []any{owner.String(), contact.String()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			override.Permission = Permission(stmt.ColumnText(0))
			override.ScheduleStart = stmt.ColumnInt(1)
			override.ScheduleEnd = stmt.ColumnInt(2)
			override.Consumed = stmt.ColumnInt(3) != 0
			return nil
		},
	})
	if err != nil {
		return Override{}, false, fmt.Errorf("loading override: %w", err)
	}
	return override, found, nil
}

// SaveOverride upserts an override, resetting any consumed flag.
func (s *SQLiteStore) SaveOverride(ctx context.Context, override Override) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO contact_overrides (owner, contact, permission, schedule_start, schedule_end, consumed)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT (owner, contact) DO UPDATE SET
			permission     = excluded.permission,
			schedule_start = excluded.schedule_start,
			schedule_end   = excluded.schedule_end,
			consumed       = 0
	`, &sqlitex.ExecOptions{
		Args: []any{
			override.Owner.String(), override.Contact.String(),
			string(override.Permission), override.ScheduleStart, override.ScheduleEnd,
		},
	})
	if err != nil {
		return fmt.Errorf("saving override: %w", err)
	}
	return nil
}

// ClearOverride removes the override for the pair.
func (s *SQLiteStore) ClearOverride(ctx context.Context, owner, contact ref.Address) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		DELETE FROM contact_overrides WHERE owner = ? AND contact = ?
	`, &sqlitex.ExecOptions{Args: []any{owner.String(), contact.String()}})
	if err != nil {
		return fmt.Errorf("clearing override: %w", err)
	}
	return nil
}

// ConsumeOverride implements the atomic one-time spend.
func (s *SQLiteStore) ConsumeOverride(ctx context.Context, owner, contact ref.Address) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		UPDATE contact_overrides SET consumed = 1
		WHERE owner = ? AND contact = ? AND permission = ? AND consumed = 0
	`, &sqlitex.ExecOptions{
		Args: []any{owner.String(), contact.String(), string(PermitOneTime)},
	})
	if err != nil {
		return false, fmt.Errorf("consuming override: %w", err)
	}
	return conn.Changes() == 1, nil
}

// IsBlocked reports whether owner has blocked caller.
func (s *SQLiteStore) IsBlocked(ctx context.Context, owner, caller ref.Address) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, err
	}
	defer s.pool.Put(conn)

	blocked := false
	err = sqlitex.Execute(conn, `
		SELECT 1 FROM blocked_users WHERE owner = ? AND blocked = ?
	`, &sqlitex.ExecOptions{
		Args: []any{owner.String(), caller.String()},
		ResultFunc: func(*sqlite.Stmt) error {
			blocked = true
			return nil
		},
	})
	if err != nil {
		return false, fmt.Errorf("checking blocklist: %w", err)
	}
	return blocked, nil
}

// Block inserts a blocklist entry. Idempotent.
func (s *SQLiteStore) Block(ctx context.Context, owner, blocked ref.Address, auto bool, at time.Time) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO blocked_users (owner, blocked, auto, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (owner, blocked) DO NOTHING
	`, &sqlitex.ExecOptions{
		Args: []any{owner.String(), blocked.String(), boolInt(auto), at.UnixMilli()},
	})
	if err != nil {
		return fmt.Errorf("blocking address: %w", err)
	}
	return nil
}

// Unblock removes a blocklist entry and resets the pair's rejection
// history so a fresh auto-block requires fresh declines.
func (s *SQLiteStore) Unblock(ctx context.Context, owner, blocked ref.Address) (err error) {
	conn, takeErr := s.pool.Take(ctx)
	if takeErr != nil {
		return takeErr
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("unblocking address: %w", err)
	}
	defer endTransaction(&err)

	if err = sqlitex.Execute(conn, `
		DELETE FROM blocked_users WHERE owner = ? AND blocked = ?
	`, &sqlitex.ExecOptions{Args: []any{owner.String(), blocked.String()}}); err != nil {
		return fmt.Errorf("unblocking address: %w", err)
	}
	if err = sqlitex.Execute(conn, `
		DELETE FROM call_rejections WHERE owner = ? AND caller = ?
	`, &sqlitex.ExecOptions{Args: []any{owner.String(), blocked.String()}}); err != nil {
		return fmt.Errorf("clearing rejection history: %w", err)
	}
	return nil
}

// Blocked lists the owner's blocklist.
func (s *SQLiteStore) Blocked(ctx context.Context, owner ref.Address) ([]ref.Address, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var out []ref.Address
	err = sqlitex.Execute(conn, `
		SELECT blocked FROM blocked_users WHERE owner = ? ORDER BY created_at
	`, &sqlitex.ExecOptions{
		Args: []any{owner.String()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			address, parseErr := ref.ParseAddress(stmt.ColumnText(0))
			if parseErr != nil {
				return parseErr
			}
			out = append(out, address)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("listing blocklist: %w", err)
	}
	return out, nil
}

// IsContact reports whether contact is in owner's contact list.
func (s *SQLiteStore) IsContact(ctx context.Context, owner, contact ref.Address) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, err
	}
	defer s.pool.Put(conn)

	known := false
	err = sqlitex.Execute(conn, `
		SELECT 1 FROM contacts WHERE owner = ? AND contact = ?
	`, &sqlitex.ExecOptions{
		Args: []any{owner.String(), contact.String()},
		ResultFunc: func(*sqlite.Stmt) error {
			known = true
			return nil
		},
	})
	if err != nil {
		return false, fmt.Errorf("checking contact: %w", err)
	}
	return known, nil
}

// AddContact records contact in owner's contact list. Idempotent.
func (s *SQLiteStore) AddContact(ctx context.Context, owner, contact ref.Address, at time.Time) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO contacts (owner, contact, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (owner, contact) DO NOTHING
	`, &sqlitex.ExecOptions{
		Args: []any{owner.String(), contact.String(), at.UnixMilli()},
	})
	if err != nil {
		return fmt.Errorf("adding contact: %w", err)
	}
	return nil
}

// RemoveContact drops contact from owner's contact list. Removing an
// absent contact is a no-op.
func (s *SQLiteStore) RemoveContact(ctx context.Context, owner, contact ref.Address) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		DELETE FROM contacts WHERE owner = ? AND contact = ?
	`, &sqlitex.ExecOptions{
		Args: []any{owner.String(), contact.String()},
	})
	if err != nil {
		return fmt.Errorf("removing contact: %w", err)
	}
	return nil
}

// Contacts lists owner's contacts, oldest first.
func (s *SQLiteStore) Contacts(ctx context.Context, owner ref.Address) ([]ref.Address, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var out []ref.Address
	err = sqlitex.Execute(conn, `
		SELECT contact FROM contacts WHERE owner = ? ORDER BY created_at, contact
	`, &sqlitex.ExecOptions{
		Args: []any{owner.String()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			address, parseErr := ref.ParseAddress(stmt.ColumnText(0))
			if parseErr != nil {
				return parseErr
			}
			out = append(out, address)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("listing contacts: %w", err)
	}
	return out, nil
}

// CreatePass stores a new pass.
func (s *SQLiteStore) CreatePass(ctx context.Context, pass Pass) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	var expiresAt int64
	if !pass.ExpiresAt.IsZero() {
		expiresAt = pass.ExpiresAt.UnixMilli()
	}
	err = sqlitex.Execute(conn, `
		INSERT INTO call_passes (pass_id, owner, pass_type, uses_remaining, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, &sqlitex.ExecOptions{
		Args: []any{
			pass.PassID.String(), pass.Owner.String(), string(pass.Type),
			pass.UsesRemaining, expiresAt, pass.CreatedAt.UnixMilli(),
		},
	})
	if err != nil {
		return fmt.Errorf("creating pass: %w", err)
	}
	return nil
}

// RevokePass revokes a pass the owner holds.
func (s *SQLiteStore) RevokePass(ctx context.Context, owner ref.Address, passID ref.PassID) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		UPDATE call_passes SET revoked = 1 WHERE pass_id = ? AND owner = ?
	`, &sqlitex.ExecOptions{Args: []any{passID.String(), owner.String()}})
	if err != nil {
		return fmt.Errorf("revoking pass: %w", err)
	}
	return nil
}

// RedeemPass consumes one unit of capacity in a single guarded update.
// SQLite serializes writers, so of two concurrent redemptions of the
// last unit exactly one observes the guard as true.
func (s *SQLiteStore) RedeemPass(ctx context.Context, owner ref.Address, passID ref.PassID, now time.Time) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		UPDATE call_passes SET
			uses_remaining = CASE WHEN pass_type = 'limited'
				THEN uses_remaining - 1 ELSE uses_remaining END,
			burned = CASE
				WHEN pass_type = 'one_time' THEN 1
				WHEN pass_type = 'limited' AND uses_remaining <= 1 THEN 1
				ELSE burned END
		WHERE pass_id = ? AND owner = ? AND revoked = 0 AND burned = 0
			AND (pass_type != 'limited' OR uses_remaining > 0)
			AND (pass_type != 'expiring' OR expires_at > ?)
	`, &sqlitex.ExecOptions{
		Args: []any{passID.String(), owner.String(), now.UnixMilli()},
	})
	if err != nil {
		return false, fmt.Errorf("redeeming pass: %w", err)
	}
	return conn.Changes() == 1, nil
}

// Passes lists the owner's passes, newest first.
func (s *SQLiteStore) Passes(ctx context.Context, owner ref.Address) ([]Pass, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var out []Pass
	err = sqlitex.Execute(conn, `
		SELECT pass_id, pass_type, uses_remaining, expires_at, burned, revoked, created_at
		FROM call_passes WHERE owner = ? ORDER BY created_at DESC
	`, &sqlitex.ExecOptions{
		Args: []any{owner.String()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			passID, parseErr := ref.ParsePassID(stmt.ColumnText(0))
			if parseErr != nil {
				return parseErr
			}
			pass := Pass{
				PassID:        passID,
				Owner:         owner,
				Type:          PassType(stmt.ColumnText(1)),
				UsesRemaining: stmt.ColumnInt(2),
				Burned:        stmt.ColumnInt(4) != 0,
				Revoked:       stmt.ColumnInt(5) != 0,
				CreatedAt:     time.UnixMilli(stmt.ColumnInt64(6)),
			}
			if expiresAt := stmt.ColumnInt64(3); expiresAt > 0 {
				pass.ExpiresAt = time.UnixMilli(expiresAt)
			}
			out = append(out, pass)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("listing passes: %w", err)
	}
	return out, nil
}

// RecordRing logs a ring attempt toward the rate guard.
func (s *SQLiteStore) RecordRing(ctx context.Context, owner, caller ref.Address, at time.Time) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO ring_attempts (owner, caller, at) VALUES (?, ?, ?)
	`, &sqlitex.ExecOptions{
		Args: []any{owner.String(), caller.String(), at.UnixMilli()},
	})
	if err != nil {
		return fmt.Errorf("recording ring: %w", err)
	}
	return nil
}

// RingsSince counts ring attempts for the pair since the given time.
func (s *SQLiteStore) RingsSince(ctx context.Context, owner, caller ref.Address, since time.Time) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	count := 0
	err = sqlitex.Execute(conn, `
		SELECT COUNT(*) FROM ring_attempts WHERE owner = ? AND caller = ? AND at > ?
	`, &sqlitex.ExecOptions{
		Args: []any{owner.String(), caller.String(), since.UnixMilli()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("counting rings: %w", err)
	}
	return count, nil
}

// RecordRejection logs a declined or ignored call attempt.
func (s *SQLiteStore) RecordRejection(ctx context.Context, owner, caller ref.Address, at time.Time) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO call_rejections (owner, caller, at) VALUES (?, ?, ?)
	`, &sqlitex.ExecOptions{
		Args: []any{owner.String(), caller.String(), at.UnixMilli()},
	})
	if err != nil {
		return fmt.Errorf("recording rejection: %w", err)
	}
	return nil
}

// RejectionCount counts cumulative rejections for the pair.
func (s *SQLiteStore) RejectionCount(ctx context.Context, owner, caller ref.Address) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	count := 0
	err = sqlitex.Execute(conn, `
		SELECT COUNT(*) FROM call_rejections WHERE owner = ? AND caller = ?
	`, &sqlitex.ExecOptions{
		Args: []any{owner.String(), caller.String()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("counting rejections: %w", err)
	}
	return count, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
