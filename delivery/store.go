// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/callvault/callvault/lib/ref"
	"github.com/callvault/callvault/lib/sqlitepool"
)

// Message statuses. Sending and failed exist only client-side; the
// server records sent, delivered, and read.
const (
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// compressThreshold is the content size above which bodies are stored
// zstd-compressed.
const compressThreshold = 512

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// ErrUnknownMessage reports an operation against a message the store
// has never seen.
var ErrUnknownMessage = errors.New("unknown message")

// Stored is one persisted message.
type Stored struct {
	MessageID       ref.MessageID
	ConvoID         ref.ConvoID
	From            ref.Address
	To              ref.Address
	ContentType     string
	Content         []byte
	Seq             uint64
	ServerTimestamp time.Time
	Status          string
	Tombstoned      bool
}

// Schema creates the message tables. Pass it to the pool's OnConnect
// alongside the other component schemas.
func Schema(conn *sqlite.Conn) error {
	return sqlitex.ExecuteScript(conn, `
		CREATE TABLE IF NOT EXISTS messages (
			message_id       TEXT    NOT NULL PRIMARY KEY,
			convo_id         TEXT    NOT NULL,
			from_address     TEXT    NOT NULL,
			to_address       TEXT    NOT NULL,
			content_type     TEXT    NOT NULL,
			content          BLOB    NOT NULL,
			compressed       INTEGER NOT NULL DEFAULT 0,
			idempotency_key  TEXT    NOT NULL UNIQUE,
			seq              INTEGER NOT NULL,
			server_timestamp INTEGER NOT NULL,
			status           TEXT    NOT NULL,
			tombstoned       INTEGER NOT NULL DEFAULT 0
		) WITHOUT ROWID;
		CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_convo_seq
			ON messages (convo_id, seq);
		CREATE INDEX IF NOT EXISTS idx_messages_pending
			ON messages (to_address, status, server_timestamp, seq);

		CREATE TABLE IF NOT EXISTS convo_seqs (
			convo_id TEXT    NOT NULL PRIMARY KEY,
			next     INTEGER NOT NULL
		) WITHOUT ROWID;

		CREATE TABLE IF NOT EXISTS message_reactions (
			message_id TEXT    NOT NULL,
			author     TEXT    NOT NULL,
			emoji      TEXT    NOT NULL,
			removed    INTEGER NOT NULL DEFAULT 0,
			at         INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_reactions_message
			ON message_reactions (message_id);

		CREATE TABLE IF NOT EXISTS message_edits (
			message_id TEXT    NOT NULL,
			content    BLOB    NOT NULL,
			compressed INTEGER NOT NULL DEFAULT 0,
			at         INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_edits_message
			ON message_edits (message_id);
	`, nil)
}

// Store persists messages and their append-only mutations.
type Store struct {
	pool *sqlitepool.Pool
}

// NewStore creates a message store backed by the given pool. The
// pool's OnConnect must have run Schema.
func NewStore(pool *sqlitepool.Pool) *Store {
	return &Store{pool: pool}
}

func compress(content []byte) (data []byte, compressed bool) {
	if len(content) < compressThreshold {
		return content, false
	}
	return zstdEncoder.EncodeAll(content, nil), true
}

func decompress(data []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return data, nil
	}
	return zstdDecoder.DecodeAll(data, nil)
}

// InsertResult is the outcome of an Insert.
type InsertResult struct {
	Duplicate       bool
	Seq             uint64
	ServerTimestamp time.Time
}

// Insert persists a message, assigning the conversation's next
// sequence number, unless the message id or idempotency key was seen
// before, in which case the original assignment is returned with
// Duplicate set. Runs in one immediate transaction, so the duplicate
// check and the sequence assignment cannot race a concurrent submit.
func (s *Store) Insert(ctx context.Context, msg Stored, idempotencyKey string) (result InsertResult, err error) {
	conn, takeErr := s.pool.Take(ctx)
	if takeErr != nil {
		return InsertResult{}, takeErr
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return InsertResult{}, fmt.Errorf("inserting message: %w", err)
	}
	defer endTransaction(&err)

	// Duplicate check: same message id or same idempotency key.
	found := false
	err = sqlitex.Execute(conn, `
		SELECT seq, server_timestamp FROM messages
		WHERE message_id = ? OR idempotency_key = ?
	`, &sqlitex.ExecOptions{
		Args: []any{msg.MessageID.String(), idempotencyKey},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			result = InsertResult{
				Duplicate:       true,
				Seq:             uint64(stmt.ColumnInt64(0)),
				ServerTimestamp: time.UnixMilli(stmt.ColumnInt64(1)),
			}
			return nil
		},
	})
	if err != nil {
		return InsertResult{}, fmt.Errorf("duplicate check: %w", err)
	}
	if found {
		return result, nil
	}

	var seq uint64
	err = sqlitex.Execute(conn, `
		INSERT INTO convo_seqs (convo_id, next) VALUES (?, 1)
		ON CONFLICT (convo_id) DO UPDATE SET next = next + 1
		RETURNING next
	`, &sqlitex.ExecOptions{
		Args: []any{msg.ConvoID.String()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			seq = uint64(stmt.ColumnInt64(0))
			return nil
		},
	})
	if err != nil {
		return InsertResult{}, fmt.Errorf("assigning sequence: %w", err)
	}

	content, compressed := compress(msg.Content)
	err = sqlitex.Execute(conn, `
		INSERT INTO messages (message_id, convo_id, from_address, to_address,
			content_type, content, compressed, idempotency_key, seq,
			server_timestamp, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, &sqlitex.ExecOptions{
		Args: []any{
			msg.MessageID.String(), msg.ConvoID.String(), msg.From.String(),
			msg.To.String(), msg.ContentType, content, boolInt(compressed),
			idempotencyKey, int64(seq), msg.ServerTimestamp.UnixMilli(),
			StatusSent,
		},
	})
	if err != nil {
		return InsertResult{}, fmt.Errorf("inserting message: %w", err)
	}
	return InsertResult{Seq: seq, ServerTimestamp: msg.ServerTimestamp}, nil
}

// Get loads one message.
func (s *Store) Get(ctx context.Context, messageID ref.MessageID) (Stored, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Stored{}, err
	}
	defer s.pool.Put(conn)

	var msg Stored
	found := false
	err = sqlitex.Execute(conn, `
		SELECT message_id, convo_id, from_address, to_address, content_type,
		       content, compressed, seq, server_timestamp, status, tombstoned
		FROM messages WHERE message_id = ?
	`, &sqlitex.ExecOptions{
		Args: []any{messageID.String()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			var scanErr error
			msg, scanErr = scanMessage(stmt)
			return scanErr
		},
	})
	if err != nil {
		return Stored{}, fmt.Errorf("loading message: %w", err)
	}
	if !found {
		return Stored{}, ErrUnknownMessage
	}
	return msg, nil
}

func scanMessage(stmt *sqlite.Stmt) (Stored, error) {
	messageID, err := ref.ParseMessageID(stmt.ColumnText(0))
	if err != nil {
		return Stored{}, err
	}
	convoID, err := ref.ParseConvoID(stmt.ColumnText(1))
	if err != nil {
		return Stored{}, err
	}
	from, err := ref.ParseAddress(stmt.ColumnText(2))
	if err != nil {
		return Stored{}, err
	}
	to, err := ref.ParseAddress(stmt.ColumnText(3))
	if err != nil {
		return Stored{}, err
	}
	content := make([]byte, stmt.ColumnLen(5))
	stmt.ColumnBytes(5, content)
	content, err = decompress(content, stmt.ColumnInt(6) != 0)
	if err != nil {
		return Stored{}, fmt.Errorf("decompressing content: %w", err)
	}
	return Stored{
		MessageID:       messageID,
		ConvoID:         convoID,
		From:            from,
		To:              to,
		ContentType:     stmt.ColumnText(4),
		Content:         content,
		Seq:             uint64(stmt.ColumnInt64(7)),
		ServerTimestamp: time.UnixMilli(stmt.ColumnInt64(8)),
		Status:          stmt.ColumnText(9),
		Tombstoned:      stmt.ColumnInt(10) != 0,
	}, nil
}

// Pending lists undelivered messages addressed to the recipient,
// ordered for backlog flush: conversation sequence order within each
// conversation, arrival order across them.
func (s *Store) Pending(ctx context.Context, to ref.Address) ([]Stored, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var out []Stored
	err = sqlitex.Execute(conn, `
		SELECT message_id, convo_id, from_address, to_address, content_type,
		       content, compressed, seq, server_timestamp, status, tombstoned
		FROM messages
		WHERE to_address = ? AND status = ? AND tombstoned = 0
		ORDER BY server_timestamp, seq
	`, &sqlitex.ExecOptions{
		Args: []any{to.String(), StatusSent},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			msg, scanErr := scanMessage(stmt)
			if scanErr != nil {
				return scanErr
			}
			out = append(out, msg)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("listing pending messages: %w", err)
	}
	return out, nil
}

// MarkDelivered advances a message from sent to delivered. Only the
// recipient's acknowledgment does this; delivery is never inferred.
func (s *Store) MarkDelivered(ctx context.Context, messageID ref.MessageID, to ref.Address) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		UPDATE messages SET status = ?
		WHERE message_id = ? AND to_address = ? AND status = ?
	`, &sqlitex.ExecOptions{
		Args: []any{StatusDelivered, messageID.String(), to.String(), StatusSent},
	})
	if err != nil {
		return fmt.Errorf("marking delivered: %w", err)
	}
	return nil
}

// MarkRead advances every delivered message in the conversation up to
// and including seq, returning the senders who should hear about it.
func (s *Store) MarkRead(ctx context.Context, convoID ref.ConvoID, reader ref.Address, upToSeq uint64) ([]ref.Address, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	seen := make(map[ref.Address]bool)
	var senders []ref.Address
	err = sqlitex.Execute(conn, `
		UPDATE messages SET status = ?
		WHERE convo_id = ? AND to_address = ? AND seq <= ? AND status != ?
		RETURNING from_address
	`, &sqlitex.ExecOptions{
		Args: []any{StatusRead, convoID.String(), reader.String(), int64(upToSeq), StatusRead},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			sender, parseErr := ref.ParseAddress(stmt.ColumnText(0))
			if parseErr != nil {
				return parseErr
			}
			if !seen[sender] {
				seen[sender] = true
				senders = append(senders, sender)
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marking read: %w", err)
	}
	return senders, nil
}

// AddReaction appends a reaction record.
func (s *Store) AddReaction(ctx context.Context, messageID ref.MessageID, author ref.Address, emoji string, removed bool, at time.Time) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO message_reactions (message_id, author, emoji, removed, at)
		VALUES (?, ?, ?, ?, ?)
	`, &sqlitex.ExecOptions{
		Args: []any{messageID.String(), author.String(), emoji, boolInt(removed), at.UnixMilli()},
	})
	if err != nil {
		return fmt.Errorf("adding reaction: %w", err)
	}
	return nil
}

// AppendEdit records a new revision and updates the served content.
// The revision history is append-only.
func (s *Store) AppendEdit(ctx context.Context, messageID ref.MessageID, content []byte, at time.Time) (err error) {
	conn, takeErr := s.pool.Take(ctx)
	if takeErr != nil {
		return takeErr
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("appending edit: %w", err)
	}
	defer endTransaction(&err)

	compressed, isCompressed := compress(content)
	if err = sqlitex.Execute(conn, `
		INSERT INTO message_edits (message_id, content, compressed, at)
		VALUES (?, ?, ?, ?)
	`, &sqlitex.ExecOptions{
		Args: []any{messageID.String(), compressed, boolInt(isCompressed), at.UnixMilli()},
	}); err != nil {
		return fmt.Errorf("appending edit: %w", err)
	}
	if err = sqlitex.Execute(conn, `
		UPDATE messages SET content = ?, compressed = ? WHERE message_id = ?
	`, &sqlitex.ExecOptions{
		Args: []any{compressed, boolInt(isCompressed), messageID.String()},
	}); err != nil {
		return fmt.Errorf("updating message content: %w", err)
	}
	if conn.Changes() == 0 {
		return ErrUnknownMessage
	}
	return nil
}

// Tombstone hides a message's content without deleting the record.
func (s *Store) Tombstone(ctx context.Context, messageID ref.MessageID, sender ref.Address) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		UPDATE messages SET tombstoned = 1, content = X'', compressed = 0
		WHERE message_id = ? AND from_address = ?
	`, &sqlitex.ExecOptions{
		Args: []any{messageID.String(), sender.String()},
	})
	if err != nil {
		return fmt.Errorf("tombstoning message: %w", err)
	}
	if conn.Changes() == 0 {
		return ErrUnknownMessage
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
