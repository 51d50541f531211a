// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"fmt"

	"github.com/callvault/callvault/lib/codec"
	"github.com/callvault/callvault/lib/ref"
)

// EventType discriminates server-to-client events.
type EventType string

const (
	EventSuccess EventType = "success"
	EventError   EventType = "error"
	EventPong    EventType = "pong"

	EventMsgAck      EventType = "msg:ack"
	EventMsgIncoming EventType = "msg:incoming"
	EventMsgStatus   EventType = "msg:status"
	EventMsgTyping   EventType = "msg:typing"
	EventMsgUpdate   EventType = "msg:update"

	EventCallIncoming      EventType = "call:incoming"
	EventCallWaiting       EventType = "call:waiting"
	EventCallAccepted      EventType = "call:accepted"
	EventCallRejected      EventType = "call:rejected"
	EventCallEnded         EventType = "call:ended"
	EventCallHeld          EventType = "call:held"
	EventCallResumed       EventType = "call:resumed"
	EventCallUnavailable   EventType = "call:unavailable"
	EventCallRequest       EventType = "call:request"
	EventCallRequestUpdate EventType = "call:request_update"

	EventSignal     EventType = "signal"
	EventMeshSignal EventType = "mesh:signal"

	EventRoomCreated EventType = "room:created"
	EventRoomJoined  EventType = "room:joined"
	EventRoomLeft    EventType = "room:left"
	EventRoomLocked  EventType = "room:locked"
	EventRoomEnded   EventType = "room:ended"

	EventPolicy   EventType = "policy"
	EventPasses   EventType = "passes"
	EventBlocks   EventType = "blocks"
	EventContacts EventType = "contacts"
)

// Event is the outer wire shape for server-to-client traffic. No
// envelope: the transport connection authenticates the server.
type Event struct {
	Type EventType        `cbor:"type"`
	Body codec.RawMessage `cbor:"body,omitempty"`
}

// NewEvent wraps a body value into an Event.
func NewEvent(eventType EventType, body any) (Event, error) {
	if body == nil {
		return Event{Type: eventType}, nil
	}
	encoded, err := codec.Marshal(body)
	if err != nil {
		return Event{}, fmt.Errorf("encoding %s event: %w", eventType, err)
	}
	return Event{Type: eventType, Body: encoded}, nil
}

// MustEvent is NewEvent that panics on encoding failure. Event bodies
// are server-constructed structs; a failure is a programming error.
func MustEvent(eventType EventType, body any) Event {
	event, err := NewEvent(eventType, body)
	if err != nil {
		panic(err)
	}
	return event
}

// Success reports a completed connection-level operation, e.g.
// registration.
type Success struct {
	Message string `cbor:"message"`
}

// ErrorEvent mirrors Error onto the wire.
type ErrorEvent struct {
	Code              ErrorCode `cbor:"code"`
	Message           string    `cbor:"message"`
	Retryable         bool      `cbor:"retryable,omitempty"`
	RetryAfterSeconds int       `cbor:"retry_after_seconds,omitempty"`
}

// ErrorEventOf converts a protocol error into its wire event.
func ErrorEventOf(err *Error) Event {
	return MustEvent(EventError, ErrorEvent{
		Code:              err.Code,
		Message:           err.Message,
		Retryable:         err.Retryable,
		RetryAfterSeconds: err.RetryAfterSeconds,
	})
}

// AckStatus is the outcome of a message submission.
type AckStatus string

const (
	AckReceived  AckStatus = "received"
	AckDuplicate AckStatus = "duplicate"
	AckError     AckStatus = "error"
)

// MsgAck acknowledges a msg:send. Duplicate is a success: the sender
// must stop retrying.
type MsgAck struct {
	MessageID       ref.MessageID `cbor:"message_id"`
	Status          AckStatus     `cbor:"status"`
	Seq             uint64        `cbor:"seq,omitempty"`
	ServerTimestamp int64         `cbor:"server_timestamp,omitempty"`
	Code            ErrorCode     `cbor:"code,omitempty"`
}

// MsgIncoming delivers a message to its recipient, live or as backlog
// flushed after registration.
type MsgIncoming struct {
	MessageID       ref.MessageID `cbor:"message_id"`
	ConvoID         ref.ConvoID   `cbor:"convo_id"`
	From            ref.Address   `cbor:"from"`
	ContentType     string        `cbor:"content_type"`
	Content         []byte        `cbor:"content"`
	Seq             uint64        `cbor:"seq"`
	ServerTimestamp int64         `cbor:"server_timestamp"`
}

// MsgStatus tells a sender that a message advanced to delivered or
// read. Delivered receipts name the message; read receipts cover a
// whole conversation prefix and carry no message ID.
type MsgStatus struct {
	MessageID ref.MessageID `cbor:"message_id,omitzero"`
	ConvoID   ref.ConvoID   `cbor:"convo_id"`
	Status    string        `cbor:"status"`
	UpToSeq   uint64        `cbor:"up_to_seq,omitempty"`
}

// MsgTypingEvent relays a typing indicator. Best effort only.
type MsgTypingEvent struct {
	ConvoID ref.ConvoID `cbor:"convo_id"`
	From    ref.Address `cbor:"from"`
	Active  bool        `cbor:"active"`
}

// MsgUpdateKind enumerates append-only message mutations.
type MsgUpdateKind string

const (
	UpdateReaction MsgUpdateKind = "reaction"
	UpdateEdit     MsgUpdateKind = "edit"
	UpdateUnsend   MsgUpdateKind = "unsend"
)

// MsgUpdate propagates a reaction, edit, or unsend to the other
// participant.
type MsgUpdate struct {
	MessageID ref.MessageID `cbor:"message_id"`
	ConvoID   ref.ConvoID   `cbor:"convo_id"`
	From      ref.Address   `cbor:"from"`
	Kind      MsgUpdateKind `cbor:"kind"`
	Emoji     string        `cbor:"emoji,omitempty"`
	Remove    bool          `cbor:"remove,omitempty"`
	Content   []byte        `cbor:"content,omitempty"`
}

// CallIncoming rings the recipient.
type CallIncoming struct {
	CallID ref.CallID  `cbor:"call_id"`
	From   ref.Address `cbor:"from"`
	Video  bool        `cbor:"video,omitempty"`
}

// CallWaiting surfaces a second inbound call while the recipient is
// active. The client renders it as a banner.
type CallWaiting struct {
	CallID ref.CallID  `cbor:"call_id"`
	From   ref.Address `cbor:"from"`
	Video  bool        `cbor:"video,omitempty"`
}

// CallStateEvent reports a lifecycle transition of a call the
// recipient participates in.
type CallStateEvent struct {
	CallID ref.CallID `cbor:"call_id"`

	// By is the participant that drove the transition, when relevant.
	By ref.Address `cbor:"by,omitzero"`

	// Reason qualifies call:ended: "hangup", "missed", "declined",
	// "disconnected", "merged".
	Reason string `cbor:"reason,omitempty"`

	// RoomID is set when Reason is "merged": the room the call
	// continued in.
	RoomID ref.RoomID `cbor:"room_id,omitzero"`
}

// CallUnavailable tells the caller the recipient cannot ring. Not an
// error: the client routes to voicemail or notification fallback.
type CallUnavailable struct {
	CallID ref.CallID `cbor:"call_id"`

	// Voicemail is true when the recipient has voicemail or
	// do-not-disturb enabled and the client should offer it.
	Voicemail bool `cbor:"voicemail,omitempty"`
}

// CallRequestEvent surfaces a pending ask-to-call to its recipient.
type CallRequestEvent struct {
	RequestID string      `cbor:"request_id"`
	From      ref.Address `cbor:"from"`
	ExpiresAt int64       `cbor:"expires_at"`
}

// CallRequestUpdate tells the requester how their ask resolved.
type CallRequestUpdate struct {
	RequestID string `cbor:"request_id"`
	Status    string `cbor:"status"` // accepted, declined, expired
}

// SignalEvent relays a session-negotiation payload to a call
// participant.
type SignalEvent struct {
	CallID  ref.CallID       `cbor:"call_id"`
	From    ref.Address      `cbor:"from"`
	Kind    FrameType        `cbor:"kind"` // webrtc:offer, webrtc:answer, webrtc:ice
	Payload codec.RawMessage `cbor:"payload"`
}

// MeshSignalEvent relays a session-negotiation payload within a room.
type MeshSignalEvent struct {
	RoomID  ref.RoomID       `cbor:"room_id"`
	From    ref.Address      `cbor:"from"`
	Kind    FrameType        `cbor:"kind"` // mesh:offer, mesh:answer, mesh:ice
	Payload codec.RawMessage `cbor:"payload"`
}

// RoomEvent reports room lifecycle and roster changes.
type RoomEvent struct {
	RoomID ref.RoomID `cbor:"room_id"`

	// Participant is the address that joined or left, for
	// room:joined and room:left.
	Participant ref.Address `cbor:"participant,omitzero"`

	// Host is the room's host address.
	Host ref.Address `cbor:"host,omitzero"`

	// Locked reports the lock flag for room:locked.
	Locked bool `cbor:"locked,omitempty"`

	// Roster lists current participants for room:created and
	// room:joined events sent to the joining party.
	Roster []RoomParticipant `cbor:"roster,omitempty"`
}

// RoomParticipant is one roster entry.
type RoomParticipant struct {
	Address  ref.Address `cbor:"address"`
	JoinedAt int64       `cbor:"joined_at"`
	IsHost   bool        `cbor:"is_host,omitempty"`
	Muted    bool        `cbor:"muted,omitempty"`
	VideoOn  bool        `cbor:"video_on,omitempty"`
}

// PolicyEvent answers policy:get.
type PolicyEvent struct {
	AllowCallsFrom        string `cbor:"allow_calls_from"`
	UnknownCallerBehavior string `cbor:"unknown_caller_behavior"`
	MaxRingsPerSender     int    `cbor:"max_rings_per_sender"`
	RingWindowMinutes     int    `cbor:"ring_window_minutes"`
	AutoBlockAfterRejects int    `cbor:"auto_block_after_rejections"`
	Frozen                bool   `cbor:"frozen,omitempty"`
}

// PassEntry is one pass in a pass:list response.
type PassEntry struct {
	PassID        ref.PassID `cbor:"pass_id"`
	PassType      string     `cbor:"pass_type"`
	UsesRemaining int        `cbor:"uses_remaining,omitempty"`
	ExpiresAt     int64      `cbor:"expires_at,omitempty"`
	Burned        bool       `cbor:"burned,omitempty"`
	Revoked       bool       `cbor:"revoked,omitempty"`
}

// PassesEvent answers pass:list.
type PassesEvent struct {
	Passes []PassEntry `cbor:"passes"`
}

// BlocksEvent answers block:list.
type BlocksEvent struct {
	Blocked []ref.Address `cbor:"blocked"`
}

// ContactsEvent answers contact:list.
type ContactsEvent struct {
	Contacts []ref.Address `cbor:"contacts"`
}
