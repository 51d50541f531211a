// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// addressPrefix marks key-derived addresses. Handles without the
// prefix are legacy/demo handles that cannot be bound to a key.
const addressPrefix = "cv1"

// keyPartBytes is how many bytes of the public-key digest go into the
// address. 10 bytes (16 base32 characters) is enough to make handle
// collisions for distinct keys impractical while keeping addresses
// typeable.
const keyPartBytes = 10

// suffixBytes is the size of the random rotation suffix.
const suffixBytes = 5

// handleEncoding is unpadded lowercase base32. Addresses appear in
// logs and URLs; lowercase avoids case-sensitivity surprises.
var handleEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

const (
	minAddressLength = 3
	maxAddressLength = 64
)

// Address is a stable routing handle — the unit of reachability.
// A key-derived address has the form cv1<keypart>-<suffix> where
// keypart is a digest of the owner's Ed25519 public key and suffix is
// random, so one key can hold several rotatable handles.
type Address struct {
	handle string
}

// ParseAddress validates a raw handle string. It accepts both
// key-derived addresses and free-form handles (lowercase letters,
// digits, '.', '_', '-'); only key-derived addresses can later be
// bound to a public key with BelongsTo.
func ParseAddress(raw string) (Address, error) {
	if len(raw) < minAddressLength || len(raw) > maxAddressLength {
		return Address{}, fmt.Errorf("address %q: length %d outside [%d, %d]", raw, len(raw), minAddressLength, maxAddressLength)
	}
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-':
		default:
			return Address{}, fmt.Errorf("address %q: invalid character %q", raw, r)
		}
	}
	return Address{handle: raw}, nil
}

// MustParseAddress is ParseAddress that panics on error. Test fixtures
// only.
func MustParseAddress(raw string) Address {
	addr, err := ParseAddress(raw)
	if err != nil {
		panic(err)
	}
	return addr
}

// DeriveAddress constructs a new key-derived address for the given
// public key with a fresh random rotation suffix.
func DeriveAddress(publicKey ed25519.PublicKey) (Address, error) {
	suffix := make([]byte, suffixBytes)
	if _, err := rand.Read(suffix); err != nil {
		return Address{}, fmt.Errorf("generating address suffix: %w", err)
	}
	return deriveAddressWithSuffix(publicKey, suffix), nil
}

func deriveAddressWithSuffix(publicKey ed25519.PublicKey, suffix []byte) Address {
	digest := blake3.Sum256(publicKey)
	keyPart := strings.ToLower(handleEncoding.EncodeToString(digest[:keyPartBytes]))
	suffixPart := strings.ToLower(handleEncoding.EncodeToString(suffix))
	return Address{handle: addressPrefix + keyPart + "-" + suffixPart}
}

// BelongsTo reports whether this address was derived from the given
// public key. Free-form handles (no cv1 prefix) belong to no key.
func (a Address) BelongsTo(publicKey ed25519.PublicKey) bool {
	rest, ok := strings.CutPrefix(a.handle, addressPrefix)
	if !ok {
		return false
	}
	keyPart, _, ok := strings.Cut(rest, "-")
	if !ok {
		return false
	}
	digest := blake3.Sum256(publicKey)
	want := strings.ToLower(handleEncoding.EncodeToString(digest[:keyPartBytes]))
	return keyPart == want
}

// IsDerived reports whether the address carries the key-derived
// prefix.
func (a Address) IsDerived() bool {
	return strings.HasPrefix(a.handle, addressPrefix)
}

// String returns the raw handle.
func (a Address) String() string { return a.handle }

// IsZero reports whether the Address is the zero value.
func (a Address) IsZero() bool { return a.handle == "" }

// MarshalText implements encoding.TextMarshaler. Returns an error for
// the zero Address, since serializing an empty handle would produce
// ambiguous wire data.
func (a Address) MarshalText() ([]byte, error) {
	if a.handle == "" {
		return nil, fmt.Errorf("cannot marshal zero Address")
	}
	return []byte(a.handle), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(data []byte) error {
	parsed, err := ParseAddress(string(data))
	if err != nil {
		return fmt.Errorf("unmarshal Address: %w", err)
	}
	*a = parsed
	return nil
}
