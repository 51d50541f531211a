// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

// Package notify hands events to the push-notification dispatcher when
// a recipient has no live connection. Delivery mechanics past the
// broker are someone else's problem; this package only publishes.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/callvault/callvault/lib/ref"
)

// Kinds of notification-worthy events.
const (
	KindIncomingCall = "incoming_call"
	KindMissedCall   = "missed_call"
	KindCallRequest  = "call_request"
	KindNewMessage   = "new_message"
	KindRoomInvite   = "room_invite"
)

// Notifier publishes one notification per offline recipient per
// notification-worthy event. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Notify(ctx context.Context, recipient ref.Address, kind string, payload any) error
	Close() error
}

// notification is the published body.
type notification struct {
	Recipient string `json:"recipient_address"`
	Kind      string `json:"type"`
	Payload   any    `json:"payload,omitempty"`
}

// AMQPNotifier publishes notifications to a durable topic exchange.
// The routing key is the notification kind, so downstream workers can
// bind per kind.
type AMQPNotifier struct {
	conn     *amqp091.Connection
	exchange string
	logger   *slog.Logger
}

// DialAMQP connects to the broker and declares the exchange.
func DialAMQP(url, exchange string, logger *slog.Logger) (*AMQPNotifier, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing broker: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	defer channel.Close()
	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declaring exchange %q: %w", exchange, err)
	}
	return &AMQPNotifier{conn: conn, exchange: exchange, logger: logger}, nil
}

// Notify implements Notifier.
func (n *AMQPNotifier) Notify(ctx context.Context, recipient ref.Address, kind string, payload any) error {
	channel, err := n.conn.Channel()
	if err != nil {
		return fmt.Errorf("opening channel: %w", err)
	}
	defer channel.Close()

	body, err := json.Marshal(notification{
		Recipient: recipient.String(),
		Kind:      kind,
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}

	err = channel.PublishWithContext(ctx, n.exchange, kind, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publishing %s notification: %w", kind, err)
	}
	n.logger.Debug("notification published", "kind", kind, "recipient", recipient)
	return nil
}

// Close implements Notifier.
func (n *AMQPNotifier) Close() error {
	return n.conn.Close()
}

// Recorded is one captured notification.
type Recorded struct {
	Recipient ref.Address
	Kind      string
	Payload   any
}

// Memory captures notifications in process, for tests and demo mode.
type Memory struct {
	mu   sync.Mutex
	sent []Recorded
}

// NewMemory creates an empty in-memory notifier.
func NewMemory() *Memory {
	return &Memory{}
}

// Notify implements Notifier.
func (m *Memory) Notify(_ context.Context, recipient ref.Address, kind string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, Recorded{Recipient: recipient, Kind: kind, Payload: payload})
	return nil
}

// Close implements Notifier.
func (m *Memory) Close() error { return nil }

// Sent returns a copy of everything captured so far.
func (m *Memory) Sent() []Recorded {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Recorded(nil), m.sent...)
}
