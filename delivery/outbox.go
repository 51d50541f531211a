// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/callvault/callvault/lib/clock"
	"github.com/callvault/callvault/lib/ref"
	"github.com/callvault/callvault/wire"
)

// SendFunc submits a queued message to the server and returns its
// acknowledgment. A transport failure or a timeout is an error; an
// explicit ack, including a duplicate ack, is success.
type SendFunc func(ctx context.Context, frame wire.MsgSend) (wire.MsgAck, error)

// OutboxConfig configures an Outbox.
type OutboxConfig struct {
	Send   SendFunc
	Clock  clock.Clock
	Logger *slog.Logger

	// MaxAttempts bounds retries before a message is marked failed and
	// surfaced to the caller. Defaults to 5.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry; each further
	// retry doubles it. Defaults to 2 seconds.
	InitialBackoff time.Duration

	// OnResult is called once per message with its final ack, or with
	// a failed-status ack after the retry ceiling. Optional.
	OnResult func(messageID ref.MessageID, ack wire.MsgAck, failed bool)
}

// QueuedSend is one message awaiting acknowledgment.
type QueuedSend struct {
	Frame    wire.MsgSend
	Attempts int
	Status   string
}

// Outbox is the client half of at-least-once delivery: every send is
// queued with its idempotency key and retried with exponential backoff
// until the server acknowledges it or the retry ceiling is hit. The
// key makes retries safe; a resend that raced a lost ack comes back as
// a duplicate ack, which counts as success.
type Outbox struct {
	send        SendFunc
	clock       clock.Clock
	logger      *slog.Logger
	maxAttempts int
	backoff     time.Duration
	onResult    func(ref.MessageID, wire.MsgAck, bool)

	mu      sync.Mutex
	pending map[ref.MessageID]*outboxEntry
}

type outboxEntry struct {
	queued QueuedSend
	timer  *clock.Timer
}

// NewOutbox creates an outbox.
func NewOutbox(cfg OutboxConfig) *Outbox {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 2 * time.Second
	}
	return &Outbox{
		send:        cfg.Send,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.InitialBackoff,
		onResult:    cfg.OnResult,
		pending:     make(map[ref.MessageID]*outboxEntry),
	}
}

// Enqueue queues a message and makes the first send attempt. The
// message stays pending until an ack arrives or retries run out.
func (o *Outbox) Enqueue(ctx context.Context, frame wire.MsgSend) {
	o.mu.Lock()
	if _, exists := o.pending[frame.MessageID]; exists {
		o.mu.Unlock()
		return
	}
	o.pending[frame.MessageID] = &outboxEntry{
		queued: QueuedSend{Frame: frame, Status: StatusSending},
	}
	o.mu.Unlock()

	o.attempt(ctx, frame.MessageID)
}

// Status reports the queued state of a message, if still pending.
func (o *Outbox) Status(messageID ref.MessageID) (QueuedSend, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry, ok := o.pending[messageID]
	if !ok {
		return QueuedSend{}, false
	}
	return entry.queued, true
}

// PendingCount reports how many messages await acknowledgment.
func (o *Outbox) PendingCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

func (o *Outbox) attempt(ctx context.Context, messageID ref.MessageID) {
	o.mu.Lock()
	entry, ok := o.pending[messageID]
	if !ok {
		o.mu.Unlock()
		return
	}
	entry.queued.Attempts++
	attempts := entry.queued.Attempts
	frame := entry.queued.Frame
	o.mu.Unlock()

	ack, err := o.send(ctx, frame)
	if err == nil && ack.Status != wire.AckError {
		o.resolve(messageID, ack, false)
		return
	}
	if err != nil {
		o.logger.Debug("send attempt failed", "message", messageID, "attempt", attempts, "error", err)
	} else {
		o.logger.Debug("send rejected", "message", messageID, "attempt", attempts, "code", ack.Code)
	}

	if attempts >= o.maxAttempts {
		o.logger.Warn("message failed after retries", "message", messageID, "attempts", attempts)
		o.resolve(messageID, wire.MsgAck{MessageID: messageID, Status: wire.AckError, Code: ack.Code}, true)
		return
	}

	delay := o.backoff << (attempts - 1)
	o.mu.Lock()
	if current, still := o.pending[messageID]; still {
		current.timer = o.clock.AfterFunc(delay, func() {
			o.attempt(ctx, messageID)
		})
	}
	o.mu.Unlock()
}

// resolve removes the message from the queue and reports its outcome.
func (o *Outbox) resolve(messageID ref.MessageID, ack wire.MsgAck, failed bool) {
	o.mu.Lock()
	entry, ok := o.pending[messageID]
	if ok {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(o.pending, messageID)
	}
	o.mu.Unlock()
	if ok && o.onResult != nil {
		o.onResult(messageID, ack, failed)
	}
}

// Cancel drops a pending message without sending it again.
func (o *Outbox) Cancel(messageID ref.MessageID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry, ok := o.pending[messageID]
	if !ok {
		return false
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(o.pending, messageID)
	return true
}
