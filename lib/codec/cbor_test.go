// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

func TestDeterministicMapEncoding(t *testing.T) {
	// Two maps with the same entries inserted in different orders must
	// encode to identical bytes — a signature over one must verify
	// against a re-encoding of the other.
	first := map[string]any{"to": "cv1abc", "from": "cv1def", "body": "hi"}
	second := map[string]any{"body": "hi", "from": "cv1def", "to": "cv1abc"}

	firstBytes, err := Marshal(first)
	if err != nil {
		t.Fatalf("Marshal(first): %v", err)
	}
	secondBytes, err := Marshal(second)
	if err != nil {
		t.Fatalf("Marshal(second): %v", err)
	}
	if !bytes.Equal(firstBytes, secondBytes) {
		t.Fatalf("deterministic encoding produced different bytes:\n%x\n%x", firstBytes, secondBytes)
	}
}

func TestUnknownFieldsIgnored(t *testing.T) {
	type v1 struct {
		Body string `cbor:"body"`
	}
	type v2 struct {
		Body  string `cbor:"body"`
		Extra int    `cbor:"extra"`
	}

	data, err := Marshal(v2{Body: "hello", Extra: 7})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded v1
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal with unknown field: %v", err)
	}
	if decoded.Body != "hello" {
		t.Fatalf("Body = %q, want %q", decoded.Body, "hello")
	}
}

func TestAnyTargetDecodesToStringKeyedMap(t *testing.T) {
	data, err := Marshal(map[string]any{"sdp": "v=0", "kind": "offer"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	m, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if m["kind"] != "offer" {
		t.Fatalf("kind = %v, want offer", m["kind"])
	}
}

func TestStreamRoundTrip(t *testing.T) {
	type frame struct {
		Type string `cbor:"type"`
		Seq  uint64 `cbor:"seq"`
	}

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for i := 0; i < 3; i++ {
		if err := enc.Encode(frame{Type: "ping", Seq: uint64(i)}); err != nil {
			t.Fatalf("Encode(%d): %v", i, err)
		}
	}

	dec := NewDecoder(&buf)
	for i := 0; i < 3; i++ {
		var f frame
		if err := dec.Decode(&f); err != nil {
			t.Fatalf("Decode(%d): %v", i, err)
		}
		if f.Seq != uint64(i) {
			t.Fatalf("Seq = %d, want %d", f.Seq, i)
		}
	}
}
