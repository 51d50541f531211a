// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"context"
	"fmt"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/callvault/callvault/lib/ref"
	"github.com/callvault/callvault/lib/sqlitepool"
)

// NonceSchema creates the nonce table. Pass it to the pool's OnConnect
// alongside the other component schemas.
func NonceSchema(conn *sqlite.Conn) error {
	return sqlitex.ExecuteScript(conn, `
		CREATE TABLE IF NOT EXISTS consumed_nonces (
			address    TEXT    NOT NULL,
			nonce      TEXT    NOT NULL,
			expires_at INTEGER NOT NULL,
			PRIMARY KEY (address, nonce)
		) WITHOUT ROWID;
		CREATE INDEX IF NOT EXISTS idx_nonces_expiry
			ON consumed_nonces (expires_at);
	`, nil)
}

// SQLiteNonceStore persists consumed nonces so replay detection
// survives restarts. The primary-key constraint provides the atomic
// consume: of two concurrent inserts for the same pair, SQLite commits
// exactly one.
type SQLiteNonceStore struct {
	pool *sqlitepool.Pool
}

// NewSQLiteNonceStore creates a nonce store backed by the given pool.
// The pool's OnConnect must have run NonceSchema.
func NewSQLiteNonceStore(pool *sqlitepool.Pool) *SQLiteNonceStore {
	return &SQLiteNonceStore{pool: pool}
}

// Consume implements NonceStore.
func (s *SQLiteNonceStore) Consume(ctx context.Context, address ref.Address, nonce string, expiresAt time.Time) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO consumed_nonces (address, nonce, expires_at)
		VALUES (?, ?, ?)
	`, &sqlitex.ExecOptions{
		Args: []any{address.String(), nonce, expiresAt.UnixMilli()},
	})
	if err != nil {
		if sqlite.ErrCode(err) == sqlite.ResultConstraintPrimaryKey {
			return ErrNonceReplayed
		}
		return fmt.Errorf("inserting nonce: %w", err)
	}
	return nil
}

// PruneExpired implements NonceStore.
func (s *SQLiteNonceStore) PruneExpired(ctx context.Context, now time.Time) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		DELETE FROM consumed_nonces WHERE expires_at <= ?
	`, &sqlitex.ExecOptions{
		Args: []any{now.UnixMilli()},
	})
	if err != nil {
		return 0, fmt.Errorf("pruning nonces: %w", err)
	}
	return conn.Changes(), nil
}

// MemoryNonceStore is an in-process NonceStore for tests and demo
// mode. Replay detection does not survive a restart.
type MemoryNonceStore struct {
	mu   sync.Mutex
	seen map[memoryNonceKey]time.Time
}

type memoryNonceKey struct {
	address string
	nonce   string
}

// NewMemoryNonceStore creates an empty in-memory nonce store.
func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{seen: make(map[memoryNonceKey]time.Time)}
}

// Consume implements NonceStore.
func (m *MemoryNonceStore) Consume(_ context.Context, address ref.Address, nonce string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryNonceKey{address: address.String(), nonce: nonce}
	if _, exists := m.seen[key]; exists {
		return ErrNonceReplayed
	}
	m.seen[key] = expiresAt
	return nil
}

// PruneExpired implements NonceStore.
func (m *MemoryNonceStore) PruneExpired(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, expiresAt := range m.seen {
		if !expiresAt.After(now) {
			delete(m.seen, key)
			removed++
		}
	}
	return removed, nil
}
