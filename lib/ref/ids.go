// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

//nolint:dupl // CallID, RoomID, MessageID, and PassID are structurally identical by design — distinct types for compile-time safety.
package ref

import (
	"fmt"

	"github.com/google/uuid"
)

// CallID identifies one direct call for its whole lifecycle.
type CallID struct{ id string }

// NewCallID generates a fresh call identifier.
func NewCallID() CallID { return CallID{id: "call-" + uuid.NewString()} }

// ParseCallID validates a raw call ID string.
func ParseCallID(raw string) (CallID, error) {
	if raw == "" {
		return CallID{}, fmt.Errorf("call ID is empty")
	}
	return CallID{id: raw}, nil
}

// String returns the raw call ID.
func (c CallID) String() string { return c.id }

// IsZero reports whether the CallID is the zero value.
func (c CallID) IsZero() bool { return c.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (c CallID) MarshalText() ([]byte, error) {
	if c.id == "" {
		return nil, fmt.Errorf("cannot marshal zero CallID")
	}
	return []byte(c.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *CallID) UnmarshalText(data []byte) error {
	parsed, err := ParseCallID(string(data))
	if err != nil {
		return fmt.Errorf("unmarshal CallID: %w", err)
	}
	*c = parsed
	return nil
}

// RoomID identifies a multi-party call room.
type RoomID struct{ id string }

// NewRoomID generates a fresh room identifier.
func NewRoomID() RoomID { return RoomID{id: "room-" + uuid.NewString()} }

// ParseRoomID validates a raw room ID string.
func ParseRoomID(raw string) (RoomID, error) {
	if raw == "" {
		return RoomID{}, fmt.Errorf("room ID is empty")
	}
	return RoomID{id: raw}, nil
}

// String returns the raw room ID.
func (r RoomID) String() string { return r.id }

// IsZero reports whether the RoomID is the zero value.
func (r RoomID) IsZero() bool { return r.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (r RoomID) MarshalText() ([]byte, error) {
	if r.id == "" {
		return nil, fmt.Errorf("cannot marshal zero RoomID")
	}
	return []byte(r.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *RoomID) UnmarshalText(data []byte) error {
	parsed, err := ParseRoomID(string(data))
	if err != nil {
		return fmt.Errorf("unmarshal RoomID: %w", err)
	}
	*r = parsed
	return nil
}

// MessageID identifies one message. Assigned by the sender so that a
// resubmission after a lost acknowledgment reuses the same ID (the
// idempotency anchor).
type MessageID struct{ id string }

// NewMessageID generates a fresh message identifier.
func NewMessageID() MessageID { return MessageID{id: "msg-" + uuid.NewString()} }

// ParseMessageID validates a raw message ID string.
func ParseMessageID(raw string) (MessageID, error) {
	if raw == "" {
		return MessageID{}, fmt.Errorf("message ID is empty")
	}
	return MessageID{id: raw}, nil
}

// String returns the raw message ID.
func (m MessageID) String() string { return m.id }

// IsZero reports whether the MessageID is the zero value.
func (m MessageID) IsZero() bool { return m.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (m MessageID) MarshalText() ([]byte, error) {
	if m.id == "" {
		return nil, fmt.Errorf("cannot marshal zero MessageID")
	}
	return []byte(m.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *MessageID) UnmarshalText(data []byte) error {
	parsed, err := ParseMessageID(string(data))
	if err != nil {
		return fmt.Errorf("unmarshal MessageID: %w", err)
	}
	*m = parsed
	return nil
}

// PassID identifies a call pass (capability token).
type PassID struct{ id string }

// NewPassID generates a fresh pass identifier.
func NewPassID() PassID { return PassID{id: "pass-" + uuid.NewString()} }

// ParsePassID validates a raw pass ID string.
func ParsePassID(raw string) (PassID, error) {
	if raw == "" {
		return PassID{}, fmt.Errorf("pass ID is empty")
	}
	return PassID{id: raw}, nil
}

// String returns the raw pass ID.
func (p PassID) String() string { return p.id }

// IsZero reports whether the PassID is the zero value.
func (p PassID) IsZero() bool { return p.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (p PassID) MarshalText() ([]byte, error) {
	if p.id == "" {
		return nil, fmt.Errorf("cannot marshal zero PassID")
	}
	return []byte(p.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *PassID) UnmarshalText(data []byte) error {
	parsed, err := ParsePassID(string(data))
	if err != nil {
		return fmt.Errorf("unmarshal PassID: %w", err)
	}
	*p = parsed
	return nil
}
