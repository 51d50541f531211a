// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"fmt"

	"github.com/callvault/callvault/envelope"
	"github.com/callvault/callvault/lib/codec"
	"github.com/callvault/callvault/lib/ref"
)

// FrameType discriminates the inbound tagged union.
type FrameType string

// Connection-bound frame types. These are authorized by the address
// binding established at registration, not by a signature.
const (
	TypeRegister FrameType = "register"
	TypePing     FrameType = "ping"

	TypeCallAccept FrameType = "call:accept"
	TypeCallReject FrameType = "call:reject"
	TypeCallEnd    FrameType = "call:end"
	TypeCallHold   FrameType = "call:hold"
	TypeCallResume FrameType = "call:resume"
	TypeCallMerge  FrameType = "call:merge"

	TypeWebRTCOffer  FrameType = "webrtc:offer"
	TypeWebRTCAnswer FrameType = "webrtc:answer"
	TypeWebRTCICE    FrameType = "webrtc:ice"
	TypeMeshOffer    FrameType = "mesh:offer"
	TypeMeshAnswer   FrameType = "mesh:answer"
	TypeMeshICE      FrameType = "mesh:ice"

	TypeRoomCreate FrameType = "room:create"
	TypeRoomJoin   FrameType = "room:join"
	TypeRoomLeave  FrameType = "room:leave"
	TypeRoomLock   FrameType = "room:lock"
	TypeRoomEnd    FrameType = "room:end"

	TypeMsgDelivered FrameType = "msg:delivered"
	TypeMsgRead      FrameType = "msg:read"
	TypeMsgTyping    FrameType = "msg:typing"

	TypePolicyGet   FrameType = "policy:get"
	TypePassList    FrameType = "pass:list"
	TypeBlockList   FrameType = "block:list"
	TypeContactList FrameType = "contact:list"
)

// Signed frame types. These mutate durable state or initiate reach,
// so they must arrive inside a verified envelope.
const (
	TypeCallInit            FrameType = "call:init"
	TypeCallRequestResponse FrameType = "call:request_response"

	TypeMsgSend     FrameType = "msg:send"
	TypeMsgReaction FrameType = "msg:reaction"
	TypeMsgEdit     FrameType = "msg:edit"
	TypeMsgUnsend   FrameType = "msg:unsend"

	TypePolicyUpdate   FrameType = "policy:update"
	TypeOverrideUpdate FrameType = "override:update"
	TypePassCreate     FrameType = "pass:create"
	TypePassRevoke     FrameType = "pass:revoke"
	TypeBlockAdd       FrameType = "block:add"
	TypeBlockRemove    FrameType = "block:remove"
	TypeContactAdd     FrameType = "contact:add"
	TypeContactRemove  FrameType = "contact:remove"
	TypeWalletVerify   FrameType = "wallet:verify"
)

// signedTypes is the set of frame types that require an envelope.
var signedTypes = map[FrameType]bool{
	TypeCallInit:            true,
	TypeCallRequestResponse: true,
	TypeMsgSend:             true,
	TypeMsgReaction:         true,
	TypeMsgEdit:             true,
	TypeMsgUnsend:           true,
	TypePolicyUpdate:        true,
	TypeOverrideUpdate:      true,
	TypePassCreate:          true,
	TypePassRevoke:          true,
	TypeBlockAdd:            true,
	TypeBlockRemove:         true,
	TypeContactAdd:          true,
	TypeContactRemove:       true,
	TypeWalletVerify:        true,
}

// Signed reports whether frames of type t must carry an envelope.
func (t FrameType) Signed() bool { return signedTypes[t] }

// Frame is the outer wire shape for inbound traffic. Exactly one of
// Body and Envelope is set, depending on whether the type is signed.
type Frame struct {
	Type     FrameType          `cbor:"type"`
	Body     codec.RawMessage   `cbor:"body,omitempty"`
	Envelope *envelope.Envelope `cbor:"envelope,omitempty"`
}

// Register binds the connection to an address. Unsigned in the wire
// protocol: registration claims reachability, it does not prove
// identity. Signed frames later on the same connection must present an
// envelope whose authenticated sender matches the registered address.
type Register struct {
	Address ref.Address `cbor:"address"`
}

func (r Register) Validate() error {
	if r.Address.IsZero() {
		return fmt.Errorf("register: address is required")
	}
	return nil
}

// Ping is a liveness probe. The server answers with a pong event.
type Ping struct{}

func (Ping) Validate() error { return nil }

// CallInit asks to start a call. The policy engine is consulted
// exactly once, here; everything after admission is relay.
type CallInit struct {
	CallID ref.CallID  `cbor:"call_id"`
	To     ref.Address `cbor:"to"`

	// Pass is an optional call pass presented by a non-contact.
	Pass ref.PassID `cbor:"pass,omitempty"`

	// Video requests a video call. Subject to plan entitlements.
	Video bool `cbor:"video,omitempty"`
}

func (c CallInit) Validate() error {
	if c.CallID.IsZero() {
		return fmt.Errorf("call:init: call_id is required")
	}
	if c.To.IsZero() {
		return fmt.Errorf("call:init: to is required")
	}
	return nil
}

// CallAccept answers a ringing call.
type CallAccept struct {
	CallID ref.CallID `cbor:"call_id"`
}

func (c CallAccept) Validate() error {
	if c.CallID.IsZero() {
		return fmt.Errorf("call:accept: call_id is required")
	}
	return nil
}

// CallReject declines a ringing call. Rejections feed the caller's
// auto-block counter on the recipient's side.
type CallReject struct {
	CallID ref.CallID `cbor:"call_id"`
}

func (c CallReject) Validate() error {
	if c.CallID.IsZero() {
		return fmt.Errorf("call:reject: call_id is required")
	}
	return nil
}

// CallEnd terminates a call from any non-terminal state.
type CallEnd struct {
	CallID ref.CallID `cbor:"call_id"`
}

func (c CallEnd) Validate() error {
	if c.CallID.IsZero() {
		return fmt.Errorf("call:end: call_id is required")
	}
	return nil
}

// CallHold parks an active or ringing call.
type CallHold struct {
	CallID ref.CallID `cbor:"call_id"`
}

func (c CallHold) Validate() error {
	if c.CallID.IsZero() {
		return fmt.Errorf("call:hold: call_id is required")
	}
	return nil
}

// CallResume takes a held call back to active.
type CallResume struct {
	CallID ref.CallID `cbor:"call_id"`
}

func (c CallResume) Validate() error {
	if c.CallID.IsZero() {
		return fmt.Errorf("call:resume: call_id is required")
	}
	return nil
}

// CallMerge joins two calls held by the sender into a room. Merging is
// a plan entitlement: the sender presents its session token and the
// server checks the token's merge grant before touching either call.
type CallMerge struct {
	First  ref.CallID `cbor:"first_call_id"`
	Second ref.CallID `cbor:"second_call_id"`

	// SessionToken is the raw minted token from the session endpoint.
	SessionToken []byte `cbor:"session_token,omitempty"`
}

func (c CallMerge) Validate() error {
	if c.First.IsZero() || c.Second.IsZero() {
		return fmt.Errorf("call:merge: both call IDs are required")
	}
	if c.First.String() == c.Second.String() {
		return fmt.Errorf("call:merge: cannot merge a call with itself")
	}
	return nil
}

// CallRequestResponse resolves a pending ask-to-call request.
type CallRequestResponse struct {
	RequestID string `cbor:"request_id"`
	Accept    bool   `cbor:"accept"`
}

func (c CallRequestResponse) Validate() error {
	if c.RequestID == "" {
		return fmt.Errorf("call:request_response: request_id is required")
	}
	return nil
}

// Signal relays a session-negotiation payload within a direct call.
// The Payload is never inspected: the coordinator only checks that
// sender and To are current participants of the call.
type Signal struct {
	CallID  ref.CallID       `cbor:"call_id"`
	To      ref.Address      `cbor:"to"`
	Payload codec.RawMessage `cbor:"payload"`
}

func (s Signal) Validate() error {
	if s.CallID.IsZero() {
		return fmt.Errorf("signal: call_id is required")
	}
	if s.To.IsZero() {
		return fmt.Errorf("signal: to is required")
	}
	if len(s.Payload) == 0 {
		return fmt.Errorf("signal: payload is required")
	}
	return nil
}

// MeshSignal relays a session-negotiation payload within a room,
// addressed to one peer of the mesh.
type MeshSignal struct {
	RoomID  ref.RoomID       `cbor:"room_id"`
	To      ref.Address      `cbor:"to"`
	Payload codec.RawMessage `cbor:"payload"`
}

func (s MeshSignal) Validate() error {
	if s.RoomID.IsZero() {
		return fmt.Errorf("mesh signal: room_id is required")
	}
	if s.To.IsZero() {
		return fmt.Errorf("mesh signal: to is required")
	}
	if len(s.Payload) == 0 {
		return fmt.Errorf("mesh signal: payload is required")
	}
	return nil
}

// RoomCreate opens a new room with the sender as host.
type RoomCreate struct {
	// Invite lists addresses to notify of the new room.
	Invite []ref.Address `cbor:"invite,omitempty"`
}

func (RoomCreate) Validate() error { return nil }

// RoomJoin enters an existing room.
type RoomJoin struct {
	RoomID ref.RoomID `cbor:"room_id"`
}

func (r RoomJoin) Validate() error {
	if r.RoomID.IsZero() {
		return fmt.Errorf("room:join: room_id is required")
	}
	return nil
}

// RoomLeave exits a room without ending it.
type RoomLeave struct {
	RoomID ref.RoomID `cbor:"room_id"`
}

func (r RoomLeave) Validate() error {
	if r.RoomID.IsZero() {
		return fmt.Errorf("room:leave: room_id is required")
	}
	return nil
}

// RoomLock rejects new joins without touching existing participants.
// Host only.
type RoomLock struct {
	RoomID ref.RoomID `cbor:"room_id"`
	Locked bool       `cbor:"locked"`
}

func (r RoomLock) Validate() error {
	if r.RoomID.IsZero() {
		return fmt.Errorf("room:lock: room_id is required")
	}
	return nil
}

// RoomEnd terminates the room for everyone. Host only.
type RoomEnd struct {
	RoomID ref.RoomID `cbor:"room_id"`
}

func (r RoomEnd) Validate() error {
	if r.RoomID.IsZero() {
		return fmt.Errorf("room:end: room_id is required")
	}
	return nil
}

// MsgSend submits a message. The idempotency key is the anchor for
// at-least-once delivery: resubmissions after a lost acknowledgment
// reuse it and receive a duplicate ack.
type MsgSend struct {
	MessageID ref.MessageID `cbor:"message_id"`
	To        ref.Address   `cbor:"to"`

	// ContentType distinguishes text from attachment references.
	ContentType string `cbor:"content_type"`

	// Content is the message body or an attachment reference. The
	// server stores and relays it without interpretation.
	Content []byte `cbor:"content"`

	// IdempotencyKey is messageID+nonce, assigned by the sender.
	IdempotencyKey string `cbor:"idempotency_key"`
}

func (m MsgSend) Validate() error {
	if m.MessageID.IsZero() {
		return fmt.Errorf("msg:send: message_id is required")
	}
	if m.To.IsZero() {
		return fmt.Errorf("msg:send: to is required")
	}
	if m.IdempotencyKey == "" {
		return fmt.Errorf("msg:send: idempotency_key is required")
	}
	if len(m.Content) == 0 {
		return fmt.Errorf("msg:send: content is required")
	}
	return nil
}

// MsgDelivered acknowledges receipt of a relayed message.
type MsgDelivered struct {
	MessageID ref.MessageID `cbor:"message_id"`
}

func (m MsgDelivered) Validate() error {
	if m.MessageID.IsZero() {
		return fmt.Errorf("msg:delivered: message_id is required")
	}
	return nil
}

// MsgRead reports that the reader has seen the conversation up to a
// sequence number. Client-driven; the server never infers reads.
type MsgRead struct {
	ConvoID ref.ConvoID `cbor:"convo_id"`
	UpToSeq uint64      `cbor:"up_to_seq"`
}

func (m MsgRead) Validate() error {
	if m.ConvoID.IsZero() {
		return fmt.Errorf("msg:read: convo_id is required")
	}
	return nil
}

// MsgTyping is a best-effort typing indicator. Never queued for
// offline replay; a missed typing event is simply lost.
type MsgTyping struct {
	To      ref.Address `cbor:"to"`
	ConvoID ref.ConvoID `cbor:"convo_id"`
	Active  bool        `cbor:"active"`
}

func (m MsgTyping) Validate() error {
	if m.To.IsZero() {
		return fmt.Errorf("msg:typing: to is required")
	}
	return nil
}

// MsgReaction appends or removes a reaction on a message.
type MsgReaction struct {
	MessageID ref.MessageID `cbor:"message_id"`
	Emoji     string        `cbor:"emoji"`
	Remove    bool          `cbor:"remove,omitempty"`
}

func (m MsgReaction) Validate() error {
	if m.MessageID.IsZero() {
		return fmt.Errorf("msg:reaction: message_id is required")
	}
	if m.Emoji == "" {
		return fmt.Errorf("msg:reaction: emoji is required")
	}
	return nil
}

// MsgEdit appends a new revision of a message's content. Sender only.
type MsgEdit struct {
	MessageID ref.MessageID `cbor:"message_id"`
	Content   []byte        `cbor:"content"`
}

func (m MsgEdit) Validate() error {
	if m.MessageID.IsZero() {
		return fmt.Errorf("msg:edit: message_id is required")
	}
	if len(m.Content) == 0 {
		return fmt.Errorf("msg:edit: content is required")
	}
	return nil
}

// MsgUnsend tombstones a message. The record survives; the content is
// no longer served.
type MsgUnsend struct {
	MessageID ref.MessageID `cbor:"message_id"`
}

func (m MsgUnsend) Validate() error {
	if m.MessageID.IsZero() {
		return fmt.Errorf("msg:unsend: message_id is required")
	}
	return nil
}

// PolicyUpdate replaces the owner's call policy (last write wins).
type PolicyUpdate struct {
	AllowCallsFrom        string `cbor:"allow_calls_from"`
	UnknownCallerBehavior string `cbor:"unknown_caller_behavior"`
	MaxRingsPerSender     int    `cbor:"max_rings_per_sender"`
	RingWindowMinutes     int    `cbor:"ring_window_minutes"`
	AutoBlockAfterRejects int    `cbor:"auto_block_after_rejections"`
	Frozen                bool   `cbor:"frozen,omitempty"`
}

func (p PolicyUpdate) Validate() error {
	switch p.AllowCallsFrom {
	case "contacts", "anyone", "invite_only":
	default:
		return fmt.Errorf("policy:update: allow_calls_from %q invalid", p.AllowCallsFrom)
	}
	switch p.UnknownCallerBehavior {
	case "block", "request", "ring_unknown":
	default:
		return fmt.Errorf("policy:update: unknown_caller_behavior %q invalid", p.UnknownCallerBehavior)
	}
	if p.MaxRingsPerSender < 0 || p.RingWindowMinutes < 0 || p.AutoBlockAfterRejects < 0 {
		return fmt.Errorf("policy:update: counters must be non-negative")
	}
	return nil
}

// PolicyGet fetches the owner's current policy.
type PolicyGet struct{}

func (PolicyGet) Validate() error { return nil }

// OverrideUpdate sets or clears a per-contact override.
type OverrideUpdate struct {
	Contact    ref.Address `cbor:"contact"`
	Permission string      `cbor:"permission"`

	// ScheduleStart/ScheduleEnd bound a "scheduled" permission, in
	// minutes from midnight UTC.
	ScheduleStart int `cbor:"schedule_start,omitempty"`
	ScheduleEnd   int `cbor:"schedule_end,omitempty"`

	// Clear removes the override entirely.
	Clear bool `cbor:"clear,omitempty"`
}

func (o OverrideUpdate) Validate() error {
	if o.Contact.IsZero() {
		return fmt.Errorf("override:update: contact is required")
	}
	if o.Clear {
		return nil
	}
	switch o.Permission {
	case "always", "scheduled", "one_time", "blocked":
	default:
		return fmt.Errorf("override:update: permission %q invalid", o.Permission)
	}
	if o.Permission == "scheduled" {
		if o.ScheduleStart < 0 || o.ScheduleStart >= 24*60 || o.ScheduleEnd < 0 || o.ScheduleEnd >= 24*60 {
			return fmt.Errorf("override:update: schedule minutes out of range")
		}
	}
	return nil
}

// PassCreate mints a call pass owned by the sender.
type PassCreate struct {
	PassID   ref.PassID `cbor:"pass_id"`
	PassType string     `cbor:"pass_type"`

	// Uses is the redemption budget for limited passes.
	Uses int `cbor:"uses,omitempty"`

	// ExpiresAt is the Unix-millisecond expiry for expiring passes.
	ExpiresAt int64 `cbor:"expires_at,omitempty"`
}

func (p PassCreate) Validate() error {
	if p.PassID.IsZero() {
		return fmt.Errorf("pass:create: pass_id is required")
	}
	switch p.PassType {
	case "one_time":
	case "limited":
		if p.Uses <= 0 {
			return fmt.Errorf("pass:create: limited pass needs uses > 0")
		}
	case "expiring":
		if p.ExpiresAt <= 0 {
			return fmt.Errorf("pass:create: expiring pass needs expires_at")
		}
	default:
		return fmt.Errorf("pass:create: pass_type %q invalid", p.PassType)
	}
	return nil
}

// PassRevoke revokes a pass the sender owns.
type PassRevoke struct {
	PassID ref.PassID `cbor:"pass_id"`
}

func (p PassRevoke) Validate() error {
	if p.PassID.IsZero() {
		return fmt.Errorf("pass:revoke: pass_id is required")
	}
	return nil
}

// PassList fetches the sender's passes.
type PassList struct{}

func (PassList) Validate() error { return nil }

// BlockAdd unilaterally blocks an address.
type BlockAdd struct {
	Blocked ref.Address `cbor:"blocked"`
}

func (b BlockAdd) Validate() error {
	if b.Blocked.IsZero() {
		return fmt.Errorf("block:add: blocked is required")
	}
	return nil
}

// BlockRemove unblocks a previously blocked address.
type BlockRemove struct {
	Blocked ref.Address `cbor:"blocked"`
}

func (b BlockRemove) Validate() error {
	if b.Blocked.IsZero() {
		return fmt.Errorf("block:remove: blocked is required")
	}
	return nil
}

// BlockList fetches the sender's blocklist.
type BlockList struct{}

func (BlockList) Validate() error { return nil }

// ContactAdd records an address in the sender's contact list. With the
// default contacts ruleset this is what admits a caller without an
// override or pass.
type ContactAdd struct {
	Contact ref.Address `cbor:"contact"`
}

func (c ContactAdd) Validate() error {
	if c.Contact.IsZero() {
		return fmt.Errorf("contact:add: contact is required")
	}
	return nil
}

// ContactRemove drops an address from the sender's contact list.
type ContactRemove struct {
	Contact ref.Address `cbor:"contact"`
}

func (c ContactRemove) Validate() error {
	if c.Contact.IsZero() {
		return fmt.Errorf("contact:remove: contact is required")
	}
	return nil
}

// ContactList fetches the sender's contact list.
type ContactList struct{}

func (ContactList) Validate() error { return nil }

// WalletVerify proves control of a key by signing a server challenge.
// The envelope signature itself is the proof; the body carries the
// challenge being answered.
type WalletVerify struct {
	Challenge string `cbor:"challenge"`
}

func (w WalletVerify) Validate() error {
	if w.Challenge == "" {
		return fmt.Errorf("wallet:verify: challenge is required")
	}
	return nil
}
