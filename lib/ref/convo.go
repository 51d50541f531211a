// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

// ConvoID identifies a durable ordered conversation. For direct
// conversations it is a deterministic digest of the sorted participant
// addresses, so both sides compute the same ID without coordination.
type ConvoID struct {
	id string
}

// DirectConvo computes the conversation ID for a set of participants.
// Addresses are deduplicated and sorted before hashing; participant
// order never changes the result.
func DirectConvo(participants ...Address) ConvoID {
	handles := make([]string, 0, len(participants))
	seen := make(map[string]bool, len(participants))
	for _, p := range participants {
		if seen[p.String()] {
			continue
		}
		seen[p.String()] = true
		handles = append(handles, p.String())
	}
	sort.Strings(handles)

	hasher := blake3.New()
	for _, h := range handles {
		// NUL separator keeps ("ab","c") distinct from ("a","bc").
		hasher.Write([]byte(h))
		hasher.Write([]byte{0})
	}
	digest := hasher.Sum(nil)
	return ConvoID{id: "cnv" + strings.ToLower(handleEncoding.EncodeToString(digest[:15]))}
}

// ParseConvoID validates a raw conversation ID string.
func ParseConvoID(raw string) (ConvoID, error) {
	if raw == "" {
		return ConvoID{}, fmt.Errorf("conversation ID is empty")
	}
	return ConvoID{id: raw}, nil
}

// String returns the raw conversation ID.
func (c ConvoID) String() string { return c.id }

// IsZero reports whether the ConvoID is the zero value.
func (c ConvoID) IsZero() bool { return c.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (c ConvoID) MarshalText() ([]byte, error) {
	if c.id == "" {
		return nil, fmt.Errorf("cannot marshal zero ConvoID")
	}
	return []byte(c.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ConvoID) UnmarshalText(data []byte) error {
	parsed, err := ParseConvoID(string(data))
	if err != nil {
		return fmt.Errorf("unmarshal ConvoID: %w", err)
	}
	*c = parsed
	return nil
}
