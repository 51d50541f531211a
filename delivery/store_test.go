// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"zombiezen.com/go/sqlite"

	"github.com/callvault/callvault/lib/ref"
	"github.com/callvault/callvault/lib/sqlitepool"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:      filepath.Join(t.TempDir(), "store.db"),
		PoolSize:  4,
		OnConnect: func(conn *sqlite.Conn) error { return Schema(conn) },
	})
	if err != nil {
		t.Fatalf("opening pool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return NewStore(pool)
}

func insertMessage(t *testing.T, store *Store, content []byte) Stored {
	t.Helper()
	msg := Stored{
		MessageID:       ref.NewMessageID(),
		ConvoID:         ref.DirectConvo(alice, bob),
		From:            alice,
		To:              bob,
		ContentType:     "text/plain",
		Content:         content,
		ServerTimestamp: testEpoch,
	}
	if _, err := store.Insert(context.Background(), msg, msg.MessageID.String()+":1"); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return msg
}

func TestLargeContentRoundTrips(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	// Well over the compression threshold, and compressible.
	content := bytes.Repeat([]byte("the quick brown fox "), 200)
	msg := insertMessage(t, store, content)

	got, err := store.Get(ctx, msg.MessageID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got.Content, content) {
		t.Fatalf("content mismatch: got %d bytes, want %d", len(got.Content), len(content))
	}
}

func TestSmallContentStoredVerbatim(t *testing.T) {
	data, compressed := compress([]byte("short"))
	if compressed {
		t.Fatal("small content was compressed")
	}
	if string(data) != "short" {
		t.Fatalf("data = %q", data)
	}
}

func TestMarkDeliveredIsMonotonic(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	msg := insertMessage(t, store, []byte("advance once"))

	if err := store.MarkDelivered(ctx, msg.MessageID, bob); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	senders, err := store.MarkRead(ctx, msg.ConvoID, bob, 1)
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if len(senders) != 1 || senders[0] != alice {
		t.Fatalf("senders = %v, want [alice]", senders)
	}

	// A late delivered receipt must not regress read back to delivered.
	if err := store.MarkDelivered(ctx, msg.MessageID, bob); err != nil {
		t.Fatalf("late MarkDelivered: %v", err)
	}
	got, err := store.Get(ctx, msg.MessageID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusRead {
		t.Fatalf("status = %s, want read", got.Status)
	}
}

func TestTombstoneRequiresSender(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	msg := insertMessage(t, store, []byte("mine"))

	if err := store.Tombstone(ctx, msg.MessageID, bob); err == nil {
		t.Fatal("Tombstone by non-sender succeeded")
	}
	if err := store.Tombstone(ctx, msg.MessageID, alice); err != nil {
		t.Fatalf("Tombstone by sender: %v", err)
	}
}
