// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"crypto/ed25519"
	"errors"
	"testing"
	"time"

	"github.com/callvault/callvault/envelope"
	"github.com/callvault/callvault/lib/codec"
	"github.com/callvault/callvault/lib/ref"
)

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := codec.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestDecodeFrameRoundTrip(t *testing.T) {
	body := mustMarshal(t, Register{Address: ref.MustParseAddress("alice")})
	raw := mustMarshal(t, Frame{Type: TypeRegister, Body: body})

	frame, err := DecodeFrame(raw)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if frame.Type != TypeRegister {
		t.Fatalf("type = %q, want %q", frame.Type, TypeRegister)
	}

	decoded, err := DecodeBody(frame.Type, frame.Body)
	if err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	reg, ok := decoded.(*Register)
	if !ok {
		t.Fatalf("decoded %T, want *Register", decoded)
	}
	if reg.Address.String() != "alice" {
		t.Fatalf("address = %q, want alice", reg.Address)
	}
}

func TestDecodeFrameRejectsMalformed(t *testing.T) {
	if _, err := DecodeFrame([]byte{0xff, 0x00}); err == nil {
		t.Fatal("expected error for malformed frame")
	}

	raw := mustMarshal(t, Frame{})
	_, err := DecodeFrame(raw)
	var wireErr *Error
	if !errors.As(err, &wireErr) || wireErr.Code != CodeInvalidFrame {
		t.Fatalf("err = %v, want %s", err, CodeInvalidFrame)
	}
}

func TestDecodeFrameSignedNeedsEnvelope(t *testing.T) {
	body := mustMarshal(t, MsgSend{
		MessageID:      ref.NewMessageID(),
		To:             ref.MustParseAddress("bob"),
		ContentType:    "text/plain",
		Content:        []byte("hi"),
		IdempotencyKey: "k1",
	})
	raw := mustMarshal(t, Frame{Type: TypeMsgSend, Body: body})

	_, err := DecodeFrame(raw)
	var wireErr *Error
	if !errors.As(err, &wireErr) || wireErr.Code != CodeBadSignature {
		t.Fatalf("err = %v, want %s", err, CodeBadSignature)
	}
}

func TestDecodeFrameUnsignedRejectsEnvelope(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	from, err := ref.DeriveAddress(pub)
	if err != nil {
		t.Fatalf("derive address: %v", err)
	}
	env, err := envelope.Sign(priv, from, Ping{}, "nonce-1", time.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	raw := mustMarshal(t, Frame{Type: TypePing, Envelope: &env})
	_, decodeErr := DecodeFrame(raw)
	var wireErr *Error
	if !errors.As(decodeErr, &wireErr) || wireErr.Code != CodeInvalidFrame {
		t.Fatalf("err = %v, want %s", decodeErr, CodeInvalidFrame)
	}
}

func TestDecodeBodyUnknownType(t *testing.T) {
	_, err := DecodeBody(FrameType("no:such"), nil)
	var wireErr *Error
	if !errors.As(err, &wireErr) || wireErr.Code != CodeUnknownType {
		t.Fatalf("err = %v, want %s", err, CodeUnknownType)
	}
}

func TestDecodeBodyValidates(t *testing.T) {
	tests := []struct {
		name      string
		frameType FrameType
		body      any
		wantErr   bool
	}{
		{"register without address", TypeRegister, Register{}, true},
		{"call init without target", TypeCallInit, CallInit{CallID: ref.NewCallID()}, true},
		{"call merge same call", TypeCallMerge, func() CallMerge {
			id := ref.NewCallID()
			return CallMerge{First: id, Second: id}
		}(), true},
		{"signal without payload", TypeWebRTCOffer, Signal{CallID: ref.NewCallID(), To: ref.MustParseAddress("bob")}, true},
		{"msg send without idempotency key", TypeMsgSend, MsgSend{
			MessageID:   ref.NewMessageID(),
			To:          ref.MustParseAddress("bob"),
			ContentType: "text/plain",
			Content:     []byte("hi"),
		}, true},
		{"policy with bad ruleset", TypePolicyUpdate, PolicyUpdate{AllowCallsFrom: "nobody", UnknownCallerBehavior: "block"}, true},
		{"override schedule out of range", TypeOverrideUpdate, OverrideUpdate{
			Contact:       ref.MustParseAddress("bob"),
			Permission:    "scheduled",
			ScheduleStart: 9 * 60,
			ScheduleEnd:   24*60 + 1,
		}, true},
		{"limited pass without uses", TypePassCreate, PassCreate{PassID: ref.NewPassID(), PassType: "limited"}, true},
		{"valid one-time pass", TypePassCreate, PassCreate{PassID: ref.NewPassID(), PassType: "one_time"}, false},
		{"valid policy", TypePolicyUpdate, PolicyUpdate{
			AllowCallsFrom:        "contacts",
			UnknownCallerBehavior: "request",
			MaxRingsPerSender:     3,
			RingWindowMinutes:     10,
		}, false},
		{"valid override clear", TypeOverrideUpdate, OverrideUpdate{Contact: ref.MustParseAddress("bob"), Clear: true}, false},
		{"ping empty body", TypePing, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var raw []byte
			if tt.body != nil {
				raw = mustMarshal(t, tt.body)
			}
			_, err := DecodeBody(tt.frameType, raw)
			if tt.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("DecodeBody: %v", err)
			}
		})
	}
}

func TestSignedCoversMutatingTypes(t *testing.T) {
	signed := []FrameType{
		TypeCallInit, TypeCallRequestResponse, TypeMsgSend, TypeMsgReaction,
		TypeMsgEdit, TypeMsgUnsend, TypePolicyUpdate, TypeOverrideUpdate,
		TypePassCreate, TypePassRevoke, TypeBlockAdd, TypeBlockRemove,
		TypeContactAdd, TypeContactRemove, TypeWalletVerify,
	}
	for _, frameType := range signed {
		if !frameType.Signed() {
			t.Errorf("%s should require a signed envelope", frameType)
		}
	}
	unsigned := []FrameType{
		TypeRegister, TypePing, TypeCallAccept, TypeCallEnd,
		TypeWebRTCOffer, TypeMeshICE, TypeRoomJoin, TypeMsgDelivered,
		TypeMsgTyping, TypePolicyGet, TypePassList, TypeBlockList,
		TypeContactList,
	}
	for _, frameType := range unsigned {
		if frameType.Signed() {
			t.Errorf("%s should not require an envelope", frameType)
		}
	}
}

func TestErrorMapping(t *testing.T) {
	if got := AuthError(envelope.ErrNonceReplayed).Code; got != CodeNonceExpired {
		t.Fatalf("replay mapped to %s", got)
	}
	if got := AuthError(envelope.ErrClockDrift).Code; got != CodeClockDrift {
		t.Fatalf("drift mapped to %s", got)
	}
	if got := AuthError(errors.New("boom")).Code; got != CodeBadSignature {
		t.Fatalf("unknown auth error mapped to %s", got)
	}

	wrapped := AsError(errors.New("database exploded"))
	if wrapped.Code != CodeInternal {
		t.Fatalf("AsError code = %s", wrapped.Code)
	}
	if wrapped.Message == "database exploded" {
		t.Fatal("internal error text must not leak to clients")
	}

	rate := NewRetryableError(CodeRateLimited, "slow down", 30)
	if !rate.Retryable || rate.RetryAfterSeconds != 30 {
		t.Fatalf("retryable error = %+v", rate)
	}
}

func TestEventRoundTrip(t *testing.T) {
	ack := MsgAck{
		MessageID:       ref.NewMessageID(),
		Status:          AckReceived,
		Seq:             7,
		ServerTimestamp: 1700000000000,
	}
	event := MustEvent(EventMsgAck, ack)

	raw := mustMarshal(t, event)
	var decoded Event
	if err := codec.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if decoded.Type != EventMsgAck {
		t.Fatalf("type = %q", decoded.Type)
	}
	var got MsgAck
	if err := codec.Unmarshal(decoded.Body, &got); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if got.Seq != 7 || got.Status != AckReceived {
		t.Fatalf("ack = %+v", got)
	}
}

// Read receipts carry a conversation and a sequence bound but no
// message ID; the zero ID must be omitted, not rejected, when the
// event is encoded.
func TestReadStatusEventEncodesWithoutMessageID(t *testing.T) {
	event := MustEvent(EventMsgStatus, MsgStatus{
		ConvoID: ref.DirectConvo(ref.MustParseAddress("alice"), ref.MustParseAddress("bob")),
		Status:  "read",
		UpToSeq: 3,
	})

	var got MsgStatus
	if err := codec.Unmarshal(event.Body, &got); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if !got.MessageID.IsZero() {
		t.Fatalf("MessageID = %v, want zero", got.MessageID)
	}
	if got.Status != "read" || got.UpToSeq != 3 {
		t.Fatalf("status = %+v", got)
	}
}
