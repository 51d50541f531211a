// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package call

import (
	"sync"
	"time"

	"github.com/callvault/callvault/lib/ref"
	"github.com/callvault/callvault/wire"
)

// RoomState is a room's lifecycle position.
type RoomState string

const (
	RoomActive RoomState = "active"
	RoomEnded  RoomState = "ended"
)

// Member is one roster entry. LeftAt stays zero while the member is
// present.
type Member struct {
	Address  ref.Address
	JoinedAt time.Time
	LeftAt   time.Time
	IsHost   bool
	Muted    bool
	VideoOn  bool
}

// Room is a multi-party call. The roster is append-only: leaving sets
// LeftAt rather than deleting the entry, so the call history survives.
type Room struct {
	ID   ref.RoomID
	Host ref.Address

	mu     sync.Mutex
	state  RoomState
	locked bool
	roster map[ref.Address]*Member
}

// State returns the current state.
func (r *Room) State() RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Locked reports whether new joins are rejected.
func (r *Room) Locked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.locked
}

// present returns members who have not left, caller holds no lock.
func (r *Room) present() []*Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presentLocked()
}

func (r *Room) presentLocked() []*Member {
	var out []*Member
	for _, member := range r.roster {
		if member.LeftAt.IsZero() {
			out = append(out, member)
		}
	}
	return out
}

// isPresent reports whether address is currently in the room.
func (r *Room) isPresent(address ref.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	member, ok := r.roster[address]
	return ok && member.LeftAt.IsZero()
}

func (r *Room) rosterEventLocked() []wire.RoomParticipant {
	var out []wire.RoomParticipant
	for _, member := range r.roster {
		if !member.LeftAt.IsZero() {
			continue
		}
		out = append(out, wire.RoomParticipant{
			Address:  member.Address,
			JoinedAt: member.JoinedAt.UnixMilli(),
			IsHost:   member.IsHost,
			Muted:    member.Muted,
			VideoOn:  member.VideoOn,
		})
	}
	return out
}
