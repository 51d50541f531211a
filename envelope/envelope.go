// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/callvault/callvault/lib/codec"
	"github.com/callvault/callvault/lib/ref"
)

// Envelope is a signed payload plus the material needed to
// authenticate it. The Payload is opaque CBOR; the frame layer decodes
// it only after verification succeeds.
type Envelope struct {
	// Payload is the canonical CBOR encoding of the action body.
	Payload codec.RawMessage `cbor:"payload"`

	// From is the claimed sender address. The Verifier confirms it
	// was derived from PublicKey before trusting it.
	From ref.Address `cbor:"from"`

	// PublicKey is the sender's Ed25519 public key (32 bytes).
	PublicKey []byte `cbor:"from_pubkey"`

	// Nonce is a single-use value. The (From, Nonce) pair may be
	// consumed exactly once within the replay horizon.
	Nonce string `cbor:"nonce"`

	// Timestamp is the sender's clock at signing time, in Unix
	// milliseconds. Must fall within the Verifier's skew window.
	Timestamp int64 `cbor:"timestamp"`

	// Signature is a 64-byte Ed25519 signature over the canonical
	// encoding of (Payload, From, Nonce, Timestamp).
	Signature []byte `cbor:"signature"`
}

// signedPortion is what the signature covers. Encoding it as its own
// struct (rather than concatenating fields by hand) keeps the signed
// bytes canonical: deterministic CBOR sorts the keys the same way on
// every peer.
type signedPortion struct {
	Payload codec.RawMessage `cbor:"payload"`
	From    ref.Address      `cbor:"from"`
	Nonce   string           `cbor:"nonce"`
	// Timestamp in Unix milliseconds.
	Timestamp int64 `cbor:"timestamp"`
}

// Sign builds an envelope for the given payload value. The payload is
// marshaled to canonical CBOR, the signed portion is assembled, and
// the whole is signed with the sender's private key.
func Sign(privateKey ed25519.PrivateKey, from ref.Address, payload any, nonce string, now time.Time) (Envelope, error) {
	payloadBytes, err := codec.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding envelope payload: %w", err)
	}

	timestamp := now.UnixMilli()
	signed, err := codec.Marshal(signedPortion{
		Payload:   payloadBytes,
		From:      from,
		Nonce:     nonce,
		Timestamp: timestamp,
	})
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding signed portion: %w", err)
	}

	return Envelope{
		Payload:   payloadBytes,
		From:      from,
		PublicKey: privateKey.Public().(ed25519.PublicKey),
		Nonce:     nonce,
		Timestamp: timestamp,
		Signature: ed25519.Sign(privateKey, signed),
	}, nil
}

// signedBytes re-encodes the signed portion of a received envelope for
// verification.
func (e Envelope) signedBytes() ([]byte, error) {
	return codec.Marshal(signedPortion{
		Payload:   e.Payload,
		From:      e.From,
		Nonce:     e.Nonce,
		Timestamp: e.Timestamp,
	})
}
