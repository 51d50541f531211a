// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
)

func testKey(t *testing.T) ed25519.PublicKey {
	t.Helper()
	public, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return public
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "simple_handle", input: "alice"},
		{name: "with_separators", input: "test_user_a.01-x"},
		{name: "too_short", input: "ab", wantErr: true},
		{name: "uppercase_rejected", input: "Alice", wantErr: true},
		{name: "whitespace_rejected", input: "al ice", wantErr: true},
		{name: "colon_rejected", input: "alice:server", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := ParseAddress(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseAddress(%q) succeeded, want error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAddress(%q): %v", tt.input, err)
			}
			if addr.String() != tt.input {
				t.Fatalf("String() = %q, want %q", addr.String(), tt.input)
			}
		})
	}
}

func TestDeriveAddressBelongsToKey(t *testing.T) {
	public := testKey(t)

	addr, err := DeriveAddress(public)
	if err != nil {
		t.Fatalf("DeriveAddress: %v", err)
	}
	if !addr.IsDerived() {
		t.Fatalf("derived address %q not recognized as derived", addr)
	}
	if !addr.BelongsTo(public) {
		t.Fatalf("derived address %q does not belong to its own key", addr)
	}

	// Reparsing the handle must preserve the binding.
	reparsed, err := ParseAddress(addr.String())
	if err != nil {
		t.Fatalf("ParseAddress(derived): %v", err)
	}
	if !reparsed.BelongsTo(public) {
		t.Fatal("reparsed address lost its key binding")
	}

	other := testKey(t)
	if addr.BelongsTo(other) {
		t.Fatal("address claims to belong to an unrelated key")
	}
}

func TestDeriveAddressRotation(t *testing.T) {
	public := testKey(t)

	first, err := DeriveAddress(public)
	if err != nil {
		t.Fatalf("DeriveAddress: %v", err)
	}
	second, err := DeriveAddress(public)
	if err != nil {
		t.Fatalf("DeriveAddress: %v", err)
	}

	// Two handles for one key: different addresses, same binding.
	if first.String() == second.String() {
		t.Fatalf("two derivations produced the same handle %q", first)
	}
	if !first.BelongsTo(public) || !second.BelongsTo(public) {
		t.Fatal("rotated handle lost its key binding")
	}
}

func TestFreeFormAddressBelongsToNoKey(t *testing.T) {
	addr := MustParseAddress("legacy_user_7")
	if addr.IsDerived() {
		t.Fatal("free-form handle reported as derived")
	}
	if addr.BelongsTo(testKey(t)) {
		t.Fatal("free-form handle claims a key binding")
	}
}

func TestDirectConvoDeterministic(t *testing.T) {
	alice := MustParseAddress("alice")
	bob := MustParseAddress("bob")

	forward := DirectConvo(alice, bob)
	reverse := DirectConvo(bob, alice)
	if forward.String() != reverse.String() {
		t.Fatalf("convo ID depends on participant order: %q vs %q", forward, reverse)
	}

	// Duplicates collapse.
	withDup := DirectConvo(alice, bob, alice)
	if withDup.String() != forward.String() {
		t.Fatalf("duplicate participant changed convo ID: %q vs %q", withDup, forward)
	}

	other := DirectConvo(alice, MustParseAddress("carol"))
	if other.String() == forward.String() {
		t.Fatal("distinct participant sets produced the same convo ID")
	}
}

func TestZeroValueMarshalRejected(t *testing.T) {
	if _, err := (Address{}).MarshalText(); err == nil {
		t.Error("zero Address marshaled without error")
	}
	if _, err := (CallID{}).MarshalText(); err == nil {
		t.Error("zero CallID marshaled without error")
	}
	if _, err := (ConvoID{}).MarshalText(); err == nil {
		t.Error("zero ConvoID marshaled without error")
	}
}

func TestNewIDsArePrefixedAndUnique(t *testing.T) {
	call := NewCallID()
	if call.IsZero() {
		t.Fatal("NewCallID returned zero value")
	}
	if call.String() == NewCallID().String() {
		t.Fatal("two call IDs collided")
	}
	if got := NewRoomID().String()[:5]; got != "room-" {
		t.Fatalf("room ID prefix = %q, want %q", got, "room-")
	}
	if got := NewMessageID().String()[:4]; got != "msg-" {
		t.Fatalf("message ID prefix = %q, want %q", got, "msg-")
	}
}
