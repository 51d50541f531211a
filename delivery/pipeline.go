// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/callvault/callvault/lib/clock"
	"github.com/callvault/callvault/lib/ref"
	"github.com/callvault/callvault/notify"
	"github.com/callvault/callvault/wire"
)

// Conns is the pipeline's view of the connection registry.
type Conns interface {
	Deliver(address ref.Address, event wire.Event) error
	Online(address ref.Address) bool
}

// Config configures a Pipeline.
type Config struct {
	Store    *Store
	Conns    Conns
	Notifier notify.Notifier
	Clock    clock.Clock
	Logger   *slog.Logger

	// MaxContentBytes caps a single message body. Oversized
	// submissions are refused with a quota error.
	MaxContentBytes int
}

const defaultMaxContentBytes = 64 * 1024

// Pipeline is the server half of message delivery.
type Pipeline struct {
	store    *Store
	conns    Conns
	notifier notify.Notifier
	clock    clock.Clock
	logger   *slog.Logger
	maxBytes int

	// convoLocks serializes sequence assignment per conversation so
	// ordering is decided exactly once per message.
	mu         sync.Mutex
	convoLocks map[ref.ConvoID]*sync.Mutex
}

// NewPipeline creates a pipeline.
func NewPipeline(cfg Config) *Pipeline {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.NewMemory()
	}
	if cfg.MaxContentBytes <= 0 {
		cfg.MaxContentBytes = defaultMaxContentBytes
	}
	return &Pipeline{
		store:      cfg.Store,
		conns:      cfg.Conns,
		notifier:   cfg.Notifier,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		maxBytes:   cfg.MaxContentBytes,
		convoLocks: make(map[ref.ConvoID]*sync.Mutex),
	}
}

func (p *Pipeline) convoLock(convoID ref.ConvoID) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.convoLocks[convoID]
	if !ok {
		lock = &sync.Mutex{}
		p.convoLocks[convoID] = lock
	}
	return lock
}

// Submit handles a verified msg:send. The acknowledgment is returned
// only after the durable write commits; a duplicate submission gets
// the original sequence assignment back with status duplicate, which
// the sender must treat as success.
func (p *Pipeline) Submit(ctx context.Context, sender ref.Address, frame wire.MsgSend) (wire.MsgAck, error) {
	if len(frame.Content) > p.maxBytes {
		return wire.MsgAck{}, wire.NewError(wire.CodeQuotaExceeded, "message too large")
	}
	convoID := ref.DirectConvo(sender, frame.To)

	lock := p.convoLock(convoID)
	lock.Lock()
	now := p.clock.Now()
	result, err := p.store.Insert(ctx, Stored{
		MessageID:       frame.MessageID,
		ConvoID:         convoID,
		From:            sender,
		To:              frame.To,
		ContentType:     frame.ContentType,
		Content:         frame.Content,
		ServerTimestamp: now,
	}, frame.IdempotencyKey)
	lock.Unlock()
	if err != nil {
		p.logger.Error("message persist failed", "message", frame.MessageID, "error", err)
		return wire.MsgAck{}, wire.NewError(wire.CodeSendFailed, "message could not be stored")
	}

	ack := wire.MsgAck{
		MessageID:       frame.MessageID,
		Status:          wire.AckReceived,
		Seq:             result.Seq,
		ServerTimestamp: result.ServerTimestamp.UnixMilli(),
	}
	if result.Duplicate {
		ack.Status = wire.AckDuplicate
		return ack, nil
	}

	if p.conns.Online(frame.To) {
		p.relay(ctx, Stored{
			MessageID:       frame.MessageID,
			ConvoID:         convoID,
			From:            sender,
			To:              frame.To,
			ContentType:     frame.ContentType,
			Content:         frame.Content,
			Seq:             result.Seq,
			ServerTimestamp: now,
		})
	} else {
		p.push(ctx, frame.To, notify.KindNewMessage, map[string]any{
			"message_id": frame.MessageID.String(),
			"from":       sender.String(),
		})
	}
	return ack, nil
}

// relay sends the message to its live recipient and marks it
// delivered.
func (p *Pipeline) relay(ctx context.Context, msg Stored) {
	p.relayVia(ctx, msg, func(event wire.Event) error {
		return p.conns.Deliver(msg.To, event)
	})
}

// relayVia sends the message through an explicit send path. Backlog
// flushing supplies the registering connection's direct writer, which
// bypasses the registry while its send lock is held.
func (p *Pipeline) relayVia(ctx context.Context, msg Stored, send func(wire.Event) error) {
	event := wire.MustEvent(wire.EventMsgIncoming, wire.MsgIncoming{
		MessageID:       msg.MessageID,
		ConvoID:         msg.ConvoID,
		From:            msg.From,
		ContentType:     msg.ContentType,
		Content:         msg.Content,
		Seq:             msg.Seq,
		ServerTimestamp: msg.ServerTimestamp.UnixMilli(),
	})
	if err := send(event); err != nil {
		// Recipient dropped between the online check and the send; the
		// message stays pending for the next registration.
		p.logger.Debug("live relay failed", "message", msg.MessageID, "error", err)
		return
	}
	if err := p.store.MarkDelivered(ctx, msg.MessageID, msg.To); err != nil {
		p.logger.Warn("marking delivered", "message", msg.MessageID, "error", err)
	}
}

func (p *Pipeline) push(ctx context.Context, recipient ref.Address, kind string, payload any) {
	if err := p.notifier.Notify(ctx, recipient, kind, payload); err != nil {
		p.logger.Warn("push notification failed", "kind", kind, "recipient", recipient, "error", err)
	}
}

// FlushBacklog relays every pending message for a registering address,
// in sequence order, through the connection's direct writer. Wired as
// a registry OnRegister hook, which runs before the registry releases
// the connection for live deliveries: no concurrently submitted
// message can overtake the backlog.
func (p *Pipeline) FlushBacklog(ctx context.Context, address ref.Address, send func(wire.Event) error) {
	pending, err := p.store.Pending(ctx, address)
	if err != nil {
		p.logger.Error("backlog load failed", "address", address, "error", err)
		return
	}
	for _, msg := range pending {
		p.relayVia(ctx, msg, send)
	}
	if len(pending) > 0 {
		p.logger.Info("backlog flushed", "address", address, "messages", len(pending))
	}
}

// Delivered handles msg:delivered from the recipient and tells the
// sender, if reachable.
func (p *Pipeline) Delivered(ctx context.Context, who ref.Address, messageID ref.MessageID) error {
	msg, err := p.store.Get(ctx, messageID)
	if errors.Is(err, ErrUnknownMessage) {
		return wire.NewError(wire.CodeInvalidFrame, "unknown message")
	}
	if err != nil {
		return wire.AsError(err)
	}
	if msg.To != who {
		return wire.NewError(wire.CodeInvalidState, "not the recipient")
	}
	if err := p.store.MarkDelivered(ctx, messageID, who); err != nil {
		return wire.AsError(err)
	}
	p.sendStatus(msg.From, wire.MsgStatus{
		MessageID: messageID,
		ConvoID:   msg.ConvoID,
		Status:    StatusDelivered,
	})
	return nil
}

// Read handles msg:read: the reader has seen the conversation up to a
// sequence number. Senders are told best effort.
func (p *Pipeline) Read(ctx context.Context, reader ref.Address, frame wire.MsgRead) error {
	senders, err := p.store.MarkRead(ctx, frame.ConvoID, reader, frame.UpToSeq)
	if err != nil {
		return wire.AsError(err)
	}
	for _, sender := range senders {
		p.sendStatus(sender, wire.MsgStatus{
			ConvoID: frame.ConvoID,
			Status:  StatusRead,
			UpToSeq: frame.UpToSeq,
		})
	}
	return nil
}

// Typing relays a typing indicator. Never persisted, never queued; a
// missed indicator is simply lost.
func (p *Pipeline) Typing(from ref.Address, frame wire.MsgTyping) {
	event := wire.MustEvent(wire.EventMsgTyping, wire.MsgTypingEvent{
		ConvoID: frame.ConvoID,
		From:    from,
		Active:  frame.Active,
	})
	if err := p.conns.Deliver(frame.To, event); err != nil {
		p.logger.Debug("typing indicator dropped", "to", frame.To)
	}
}

// React handles msg:reaction from either conversation participant.
func (p *Pipeline) React(ctx context.Context, sender ref.Address, frame wire.MsgReaction) error {
	msg, err := p.store.Get(ctx, frame.MessageID)
	if errors.Is(err, ErrUnknownMessage) {
		return wire.NewError(wire.CodeInvalidFrame, "unknown message")
	}
	if err != nil {
		return wire.AsError(err)
	}
	if msg.From != sender && msg.To != sender {
		return wire.NewError(wire.CodeInvalidState, "not a participant")
	}
	if err := p.store.AddReaction(ctx, frame.MessageID, sender, frame.Emoji, frame.Remove, p.clock.Now()); err != nil {
		return wire.AsError(err)
	}

	peer := msg.From
	if sender == msg.From {
		peer = msg.To
	}
	p.sendUpdate(peer, wire.MsgUpdate{
		MessageID: frame.MessageID,
		ConvoID:   msg.ConvoID,
		From:      sender,
		Kind:      wire.UpdateReaction,
		Emoji:     frame.Emoji,
		Remove:    frame.Remove,
	})
	return nil
}

// Edit handles msg:edit. Sender only; revisions are append-only.
func (p *Pipeline) Edit(ctx context.Context, sender ref.Address, frame wire.MsgEdit) error {
	if len(frame.Content) > p.maxBytes {
		return wire.NewError(wire.CodeQuotaExceeded, "message too large")
	}
	msg, err := p.store.Get(ctx, frame.MessageID)
	if errors.Is(err, ErrUnknownMessage) {
		return wire.NewError(wire.CodeInvalidFrame, "unknown message")
	}
	if err != nil {
		return wire.AsError(err)
	}
	if msg.From != sender {
		return wire.NewError(wire.CodeInvalidState, "only the sender may edit")
	}
	if msg.Tombstoned {
		return wire.NewError(wire.CodeInvalidState, "message was unsent")
	}
	if err := p.store.AppendEdit(ctx, frame.MessageID, frame.Content, p.clock.Now()); err != nil {
		return wire.AsError(err)
	}
	p.sendUpdate(msg.To, wire.MsgUpdate{
		MessageID: frame.MessageID,
		ConvoID:   msg.ConvoID,
		From:      sender,
		Kind:      wire.UpdateEdit,
		Content:   frame.Content,
	})
	return nil
}

// Unsend handles msg:unsend. The record stays; the content is gone.
func (p *Pipeline) Unsend(ctx context.Context, sender ref.Address, frame wire.MsgUnsend) error {
	msg, err := p.store.Get(ctx, frame.MessageID)
	if errors.Is(err, ErrUnknownMessage) {
		return wire.NewError(wire.CodeInvalidFrame, "unknown message")
	}
	if err != nil {
		return wire.AsError(err)
	}
	if msg.From != sender {
		return wire.NewError(wire.CodeInvalidState, "only the sender may unsend")
	}
	if err := p.store.Tombstone(ctx, frame.MessageID, sender); err != nil {
		return wire.AsError(err)
	}
	p.sendUpdate(msg.To, wire.MsgUpdate{
		MessageID: frame.MessageID,
		ConvoID:   msg.ConvoID,
		From:      sender,
		Kind:      wire.UpdateUnsend,
	})
	return nil
}

func (p *Pipeline) sendStatus(to ref.Address, status wire.MsgStatus) {
	if err := p.conns.Deliver(to, wire.MustEvent(wire.EventMsgStatus, status)); err != nil {
		p.logger.Debug("status update dropped", "to", to)
	}
}

func (p *Pipeline) sendUpdate(to ref.Address, update wire.MsgUpdate) {
	if err := p.conns.Deliver(to, wire.MustEvent(wire.EventMsgUpdate, update)); err != nil {
		p.logger.Debug("message update dropped", "to", to)
	}
}
