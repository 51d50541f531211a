// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"zombiezen.com/go/sqlite"

	"github.com/callvault/callvault/lib/clock"
	"github.com/callvault/callvault/lib/codec"
	"github.com/callvault/callvault/lib/ref"
	"github.com/callvault/callvault/lib/sqlitepool"
	"github.com/callvault/callvault/notify"
	"github.com/callvault/callvault/wire"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var (
	alice = ref.MustParseAddress("alice")
	bob   = ref.MustParseAddress("bob")
)

// fakeConns is an in-memory stand-in for the connection registry.
type fakeConns struct {
	mu     sync.Mutex
	online map[ref.Address]bool
	events map[ref.Address][]wire.Event
}

func newFakeConns() *fakeConns {
	return &fakeConns{
		online: make(map[ref.Address]bool),
		events: make(map[ref.Address][]wire.Event),
	}
}

func (f *fakeConns) setOnline(address ref.Address, online bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[address] = online
}

func (f *fakeConns) Online(address ref.Address) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[address]
}

func (f *fakeConns) Deliver(address ref.Address, event wire.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.online[address] {
		return errors.New("offline")
	}
	f.events[address] = append(f.events[address], event)
	return nil
}

func (f *fakeConns) eventsOf(address ref.Address, eventType wire.EventType) []wire.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []wire.Event
	for _, event := range f.events[address] {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

func decodeBody[T any](t *testing.T, event wire.Event) T {
	t.Helper()
	var body T
	if err := codec.Unmarshal(event.Body, &body); err != nil {
		t.Fatalf("decoding %s body: %v", event.Type, err)
	}
	return body
}

func newTestPipeline(t *testing.T) (*Pipeline, *Store, *fakeConns, *notify.Memory, *clock.FakeClock) {
	t.Helper()
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:      filepath.Join(t.TempDir(), "messages.db"),
		PoolSize:  4,
		OnConnect: func(conn *sqlite.Conn) error { return Schema(conn) },
	})
	if err != nil {
		t.Fatalf("opening pool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	store := NewStore(pool)
	conns := newFakeConns()
	pushes := notify.NewMemory()
	fake := clock.Fake(testEpoch)
	pipeline := NewPipeline(Config{
		Store:    store,
		Conns:    conns,
		Notifier: pushes,
		Clock:    fake,
	})
	return pipeline, store, conns, pushes, fake
}

func newSend(to ref.Address, content string) wire.MsgSend {
	messageID := ref.NewMessageID()
	return wire.MsgSend{
		MessageID:      messageID,
		To:             to,
		ContentType:    "text/plain",
		Content:        []byte(content),
		IdempotencyKey: messageID.String() + ":1",
	}
}

func TestSubmitPersistsBeforeAck(t *testing.T) {
	ctx := context.Background()
	pipeline, store, _, pushes, _ := newTestPipeline(t)

	frame := newSend(bob, "hello")
	ack, err := pipeline.Submit(ctx, alice, frame)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if ack.Status != wire.AckReceived {
		t.Fatalf("ack status = %s, want received", ack.Status)
	}
	if ack.Seq != 1 {
		t.Fatalf("seq = %d, want 1", ack.Seq)
	}

	stored, err := store.Get(ctx, frame.MessageID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != StatusSent {
		t.Fatalf("status = %s, want sent", stored.Status)
	}
	if !bytes.Equal(stored.Content, frame.Content) {
		t.Fatalf("content = %q, want %q", stored.Content, frame.Content)
	}

	// Recipient was offline, so a push notification went out.
	sent := pushes.Sent()
	if len(sent) != 1 || sent[0].Kind != notify.KindNewMessage {
		t.Fatalf("pushes = %+v, want one new_message", sent)
	}
}

func TestResendWithSameKeyIsDuplicate(t *testing.T) {
	ctx := context.Background()
	pipeline, _, _, _, _ := newTestPipeline(t)

	frame := newSend(bob, "once")
	first, err := pipeline.Submit(ctx, alice, frame)
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	second, err := pipeline.Submit(ctx, alice, frame)
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if second.Status != wire.AckDuplicate {
		t.Fatalf("second ack status = %s, want duplicate", second.Status)
	}
	if second.Seq != first.Seq {
		t.Fatalf("duplicate seq = %d, want original %d", second.Seq, first.Seq)
	}

	// Only one message actually exists in the conversation.
	next := newSend(bob, "two")
	ack, err := pipeline.Submit(ctx, alice, next)
	if err != nil {
		t.Fatalf("third Submit: %v", err)
	}
	if ack.Seq != 2 {
		t.Fatalf("seq after duplicate = %d, want 2", ack.Seq)
	}
}

func TestLiveRelayMarksDelivered(t *testing.T) {
	ctx := context.Background()
	pipeline, store, conns, _, _ := newTestPipeline(t)
	conns.setOnline(bob, true)

	frame := newSend(bob, "live")
	if _, err := pipeline.Submit(ctx, alice, frame); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	incoming := conns.eventsOf(bob, wire.EventMsgIncoming)
	if len(incoming) != 1 {
		t.Fatalf("incoming events = %d, want 1", len(incoming))
	}
	body := decodeBody[wire.MsgIncoming](t, incoming[0])
	if body.MessageID != frame.MessageID || body.From != alice {
		t.Fatalf("incoming = %+v", body)
	}

	stored, err := store.Get(ctx, frame.MessageID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != StatusDelivered {
		t.Fatalf("status = %s, want delivered", stored.Status)
	}
}

func TestBacklogFlushesInSequenceOrder(t *testing.T) {
	ctx := context.Background()
	pipeline, store, conns, _, _ := newTestPipeline(t)

	var sent []ref.MessageID
	for _, text := range []string{"one", "two", "three"} {
		frame := newSend(bob, text)
		if _, err := pipeline.Submit(ctx, alice, frame); err != nil {
			t.Fatalf("Submit %q: %v", text, err)
		}
		sent = append(sent, frame.MessageID)
	}

	conns.setOnline(bob, true)
	pipeline.FlushBacklog(ctx, bob, func(event wire.Event) error {
		return conns.Deliver(bob, event)
	})

	incoming := conns.eventsOf(bob, wire.EventMsgIncoming)
	if len(incoming) != 3 {
		t.Fatalf("incoming events = %d, want 3", len(incoming))
	}
	for i, event := range incoming {
		body := decodeBody[wire.MsgIncoming](t, event)
		if body.MessageID != sent[i] {
			t.Fatalf("event %d = %s, want %s", i, body.MessageID, sent[i])
		}
		if body.Seq != uint64(i+1) {
			t.Fatalf("event %d seq = %d, want %d", i, body.Seq, i+1)
		}
	}

	// Nothing remains pending after the flush.
	pending, err := store.Pending(ctx, bob)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending after flush = %d, want 0", len(pending))
	}
}

func TestOversizedMessageRefused(t *testing.T) {
	ctx := context.Background()
	pipeline, _, _, _, _ := newTestPipeline(t)

	frame := newSend(bob, "")
	frame.Content = make([]byte, defaultMaxContentBytes+1)
	_, err := pipeline.Submit(ctx, alice, frame)
	var wireErr *wire.Error
	if !errors.As(err, &wireErr) || wireErr.Code != wire.CodeQuotaExceeded {
		t.Fatalf("error = %v, want quota_exceeded", err)
	}
}

func TestReadReceiptNotifiesSender(t *testing.T) {
	ctx := context.Background()
	pipeline, _, conns, _, _ := newTestPipeline(t)

	frame := newSend(bob, "read me")
	ack, err := pipeline.Submit(ctx, alice, frame)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	conns.setOnline(alice, true)
	convoID := ref.DirectConvo(alice, bob)
	if err := pipeline.Read(ctx, bob, wire.MsgRead{ConvoID: convoID, UpToSeq: ack.Seq}); err != nil {
		t.Fatalf("Read: %v", err)
	}

	statuses := conns.eventsOf(alice, wire.EventMsgStatus)
	if len(statuses) != 1 {
		t.Fatalf("status events = %d, want 1", len(statuses))
	}
	body := decodeBody[wire.MsgStatus](t, statuses[0])
	if body.Status != StatusRead || body.UpToSeq != ack.Seq {
		t.Fatalf("status = %+v", body)
	}
	// Read receipts cover a conversation prefix, not one message; the
	// event must round-trip with the message ID absent.
	if !body.MessageID.IsZero() {
		t.Fatalf("MessageID = %v, want zero", body.MessageID)
	}
}

func TestDeliveredReceiptRejectsNonRecipient(t *testing.T) {
	ctx := context.Background()
	pipeline, _, _, _, _ := newTestPipeline(t)

	frame := newSend(bob, "for bob")
	if _, err := pipeline.Submit(ctx, alice, frame); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	err := pipeline.Delivered(ctx, alice, frame.MessageID)
	var wireErr *wire.Error
	if !errors.As(err, &wireErr) || wireErr.Code != wire.CodeInvalidState {
		t.Fatalf("error = %v, want invalid_state", err)
	}
}

func TestReactionPropagatesToPeer(t *testing.T) {
	ctx := context.Background()
	pipeline, _, conns, _, _ := newTestPipeline(t)

	frame := newSend(bob, "react to this")
	if _, err := pipeline.Submit(ctx, alice, frame); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	conns.setOnline(alice, true)
	if err := pipeline.React(ctx, bob, wire.MsgReaction{MessageID: frame.MessageID, Emoji: "+1"}); err != nil {
		t.Fatalf("React: %v", err)
	}

	updates := conns.eventsOf(alice, wire.EventMsgUpdate)
	if len(updates) != 1 {
		t.Fatalf("update events = %d, want 1", len(updates))
	}
	body := decodeBody[wire.MsgUpdate](t, updates[0])
	if body.Kind != wire.UpdateReaction || body.Emoji != "+1" || body.From != bob {
		t.Fatalf("update = %+v", body)
	}

	// An outsider cannot react.
	carol := ref.MustParseAddress("carol")
	err := pipeline.React(ctx, carol, wire.MsgReaction{MessageID: frame.MessageID, Emoji: "+1"})
	var wireErr *wire.Error
	if !errors.As(err, &wireErr) || wireErr.Code != wire.CodeInvalidState {
		t.Fatalf("outsider reaction error = %v, want invalid_state", err)
	}
}

func TestEditIsSenderOnlyAndAppendOnly(t *testing.T) {
	ctx := context.Background()
	pipeline, store, conns, _, _ := newTestPipeline(t)

	frame := newSend(bob, "orignal")
	if _, err := pipeline.Submit(ctx, alice, frame); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// The recipient cannot edit.
	err := pipeline.Edit(ctx, bob, wire.MsgEdit{MessageID: frame.MessageID, Content: []byte("nope")})
	var wireErr *wire.Error
	if !errors.As(err, &wireErr) || wireErr.Code != wire.CodeInvalidState {
		t.Fatalf("recipient edit error = %v, want invalid_state", err)
	}

	conns.setOnline(bob, true)
	if err := pipeline.Edit(ctx, alice, wire.MsgEdit{MessageID: frame.MessageID, Content: []byte("original")}); err != nil {
		t.Fatalf("Edit: %v", err)
	}

	stored, err := store.Get(ctx, frame.MessageID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(stored.Content) != "original" {
		t.Fatalf("content after edit = %q", stored.Content)
	}

	updates := conns.eventsOf(bob, wire.EventMsgUpdate)
	if len(updates) != 1 {
		t.Fatalf("update events = %d, want 1", len(updates))
	}
	body := decodeBody[wire.MsgUpdate](t, updates[0])
	if body.Kind != wire.UpdateEdit || string(body.Content) != "original" {
		t.Fatalf("update = %+v", body)
	}
}

func TestUnsendTombstonesAndBlocksEdits(t *testing.T) {
	ctx := context.Background()
	pipeline, store, conns, _, _ := newTestPipeline(t)

	frame := newSend(bob, "regret")
	if _, err := pipeline.Submit(ctx, alice, frame); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	conns.setOnline(bob, true)
	if err := pipeline.Unsend(ctx, alice, wire.MsgUnsend{MessageID: frame.MessageID}); err != nil {
		t.Fatalf("Unsend: %v", err)
	}

	stored, err := store.Get(ctx, frame.MessageID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !stored.Tombstoned || len(stored.Content) != 0 {
		t.Fatalf("tombstoned = %v content = %q, want empty tombstone", stored.Tombstoned, stored.Content)
	}

	err = pipeline.Edit(ctx, alice, wire.MsgEdit{MessageID: frame.MessageID, Content: []byte("undo")})
	var wireErr *wire.Error
	if !errors.As(err, &wireErr) || wireErr.Code != wire.CodeInvalidState {
		t.Fatalf("edit after unsend error = %v, want invalid_state", err)
	}

	updates := conns.eventsOf(bob, wire.EventMsgUpdate)
	if len(updates) != 1 {
		t.Fatalf("update events = %d, want 1", len(updates))
	}
	if body := decodeBody[wire.MsgUpdate](t, updates[0]); body.Kind != wire.UpdateUnsend {
		t.Fatalf("update kind = %s, want unsend", body.Kind)
	}
}

func TestTypingIndicatorIsBestEffort(t *testing.T) {
	pipeline, _, conns, _, _ := newTestPipeline(t)
	convoID := ref.DirectConvo(alice, bob)

	// Offline recipient: the indicator is dropped, not queued.
	pipeline.Typing(alice, wire.MsgTyping{To: bob, ConvoID: convoID, Active: true})
	if events := conns.eventsOf(bob, wire.EventMsgTyping); len(events) != 0 {
		t.Fatalf("queued typing events = %d, want 0", len(events))
	}

	conns.setOnline(bob, true)
	pipeline.Typing(alice, wire.MsgTyping{To: bob, ConvoID: convoID, Active: true})
	events := conns.eventsOf(bob, wire.EventMsgTyping)
	if len(events) != 1 {
		t.Fatalf("typing events = %d, want 1", len(events))
	}
	if body := decodeBody[wire.MsgTypingEvent](t, events[0]); body.From != alice || !body.Active {
		t.Fatalf("typing = %+v", body)
	}
}

func TestSequencesAreIndependentPerConversation(t *testing.T) {
	ctx := context.Background()
	pipeline, _, _, _, _ := newTestPipeline(t)
	carol := ref.MustParseAddress("carol")

	for i := 0; i < 3; i++ {
		if _, err := pipeline.Submit(ctx, alice, newSend(bob, "to bob")); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	ack, err := pipeline.Submit(ctx, alice, newSend(carol, "to carol"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if ack.Seq != 1 {
		t.Fatalf("carol convo seq = %d, want 1", ack.Seq)
	}
}
