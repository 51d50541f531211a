// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package sessiontoken

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/callvault/callvault/lib/codec"
	"github.com/callvault/callvault/lib/ref"
)

// signatureSize is the fixed size of an Ed25519 signature.
const signatureSize = ed25519.SignatureSize // 64 bytes

// Plan names the subscription tier a session token was minted under.
type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

// Token is the CBOR-encoded payload of a call session token.
type Token struct {
	// Address is the client's full CallVault address. The signaling
	// server checks it against the registered connection; a token
	// minted for one address is useless on another.
	Address ref.Address `cbor:"1,keyasint"`

	// Nonce is a unique hex string binding this token to one session
	// grant. Clients echo it when opening the call session.
	Nonce string `cbor:"2,keyasint"`

	// Plan is the tier the entitlements below were derived from.
	Plan Plan `cbor:"3,keyasint"`

	// AllowTurn grants use of the TURN relay. Without it the client
	// gets STUN-only ICE configuration.
	AllowTurn bool `cbor:"4,keyasint"`

	// AllowVideo grants video calls; voice is always allowed.
	AllowVideo bool `cbor:"5,keyasint"`

	// AllowMerge grants merging held calls into a room.
	AllowMerge bool `cbor:"6,keyasint"`

	// IssuedAt is a Unix timestamp (seconds) of when the token was
	// minted.
	IssuedAt int64 `cbor:"7,keyasint"`

	// ExpiresAt is a Unix timestamp (seconds) after which the token
	// is no longer valid.
	ExpiresAt int64 `cbor:"8,keyasint"`
}

// Errors returned by Verify and related functions.
var (
	ErrTokenTooShort    = errors.New("sessiontoken: token too short for signature")
	ErrInvalidSignature = errors.New("sessiontoken: invalid Ed25519 signature")
	ErrTokenExpired     = errors.New("sessiontoken: token has expired")
	ErrAddressMismatch  = errors.New("sessiontoken: address does not match")
)

// Entitlements maps a plan to its session grants.
func Entitlements(plan Plan) (allowTurn, allowVideo, allowMerge bool) {
	switch plan {
	case PlanPro:
		return true, true, true
	default:
		return false, true, false
	}
}

// NewNonce returns a fresh random nonce as a hex string.
func NewNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("sessiontoken: generating nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Mint signs a Token with the server's private key and returns the raw
// wire-format bytes: CBOR-encoded payload followed by the 64-byte
// Ed25519 signature.
func Mint(privateKey ed25519.PrivateKey, token *Token) ([]byte, error) {
	payload, err := codec.Marshal(token)
	if err != nil {
		return nil, fmt.Errorf("sessiontoken: encoding token payload: %w", err)
	}

	signature := ed25519.Sign(privateKey, payload)

	result := make([]byte, len(payload)+signatureSize)
	copy(result, payload)
	copy(result[len(payload):], signature)

	return result, nil
}

// Verify splits the raw token bytes, verifies the Ed25519 signature,
// CBOR-decodes the payload, and checks expiry. Returns the decoded
// Token on success.
func Verify(publicKey ed25519.PublicKey, tokenBytes []byte) (*Token, error) {
	return VerifyAt(publicKey, tokenBytes, time.Now())
}

// VerifyAt is like Verify but accepts an explicit time for expiry
// checks. This supports deterministic testing.
func VerifyAt(publicKey ed25519.PublicKey, tokenBytes []byte, now time.Time) (*Token, error) {
	if len(tokenBytes) <= signatureSize {
		return nil, ErrTokenTooShort
	}

	splitPoint := len(tokenBytes) - signatureSize
	payload := tokenBytes[:splitPoint]
	signature := tokenBytes[splitPoint:]

	if !ed25519.Verify(publicKey, payload, signature) {
		return nil, ErrInvalidSignature
	}

	var token Token
	if err := codec.Unmarshal(payload, &token); err != nil {
		return nil, fmt.Errorf("sessiontoken: decoding token payload: %w", err)
	}

	if now.Unix() >= token.ExpiresAt {
		return nil, ErrTokenExpired
	}

	return &token, nil
}

// VerifyForAddress combines Verify with an address check. This is the
// standard verification path on the signaling server: verify the
// signature, check expiry, and confirm the token was minted for the
// connection presenting it.
func VerifyForAddress(publicKey ed25519.PublicKey, tokenBytes []byte, address ref.Address, now time.Time) (*Token, error) {
	token, err := VerifyAt(publicKey, tokenBytes, now)
	if err != nil {
		return nil, err
	}

	if token.Address != address {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrAddressMismatch, token.Address, address)
	}

	return token, nil
}
