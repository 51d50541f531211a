// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package call

import (
	"context"
	"time"

	"github.com/callvault/callvault/lib/ref"
	"github.com/callvault/callvault/notify"
	"github.com/callvault/callvault/wire"
)

// CreateRoom handles room:create. The creator is the host and joins
// immediately; invitees are told the room exists and join on their
// own.
func (c *Coordinator) CreateRoom(ctx context.Context, host ref.Address, frame wire.RoomCreate) (ref.RoomID, error) {
	room := &Room{
		ID:     ref.NewRoomID(),
		Host:   host,
		state:  RoomActive,
		roster: make(map[ref.Address]*Member),
	}
	room.roster[host] = &Member{Address: host, JoinedAt: c.clock.Now(), IsHost: true}

	c.mu.Lock()
	c.rooms[room.ID] = room
	c.mu.Unlock()

	room.mu.Lock()
	roster := room.rosterEventLocked()
	room.mu.Unlock()
	c.send(host, wire.MustEvent(wire.EventRoomCreated, wire.RoomEvent{
		RoomID: room.ID,
		Host:   host,
		Roster: roster,
	}))

	for _, invitee := range frame.Invite {
		if invitee == host {
			continue
		}
		event := wire.MustEvent(wire.EventRoomCreated, wire.RoomEvent{RoomID: room.ID, Host: host})
		if c.conns.Online(invitee) {
			c.send(invitee, event)
		} else {
			c.push(ctx, invitee, notify.KindRoomInvite, map[string]any{
				"room_id": room.ID.String(),
				"host":    host.String(),
			})
		}
	}
	c.logger.Info("room created", "room", room.ID, "host", host, "invited", len(frame.Invite))
	return room.ID, nil
}

// JoinRoom handles room:join. A locked or ended room rejects the join;
// existing participants are unaffected either way.
func (c *Coordinator) JoinRoom(_ context.Context, who ref.Address, roomID ref.RoomID) error {
	room, ok := c.Room(roomID)
	if !ok {
		return wire.NewError(wire.CodeInvalidState, "no such room")
	}

	room.mu.Lock()
	if room.state != RoomActive {
		room.mu.Unlock()
		return wire.NewError(wire.CodeInvalidState, "room has ended")
	}
	if room.locked {
		room.mu.Unlock()
		return wire.NewError(wire.CodeInvalidState, "room is locked")
	}
	if member, rejoined := room.roster[who]; rejoined {
		if member.LeftAt.IsZero() {
			room.mu.Unlock()
			return wire.NewError(wire.CodeInvalidState, "already in the room")
		}
		member.LeftAt = time.Time{}
		member.JoinedAt = c.clock.Now()
	} else {
		room.roster[who] = &Member{Address: who, JoinedAt: c.clock.Now()}
	}
	roster := room.rosterEventLocked()
	room.mu.Unlock()

	for _, participant := range roster {
		event := wire.RoomEvent{RoomID: roomID, Participant: who}
		if participant.Address == who {
			// The joiner also gets the current roster.
			event.Host = room.Host
			event.Roster = roster
		}
		c.send(participant.Address, wire.MustEvent(wire.EventRoomJoined, event))
	}
	return nil
}

// LeaveRoom handles room:leave. The last participant out turns off the
// lights: an empty room ends.
func (c *Coordinator) LeaveRoom(_ context.Context, who ref.Address, roomID ref.RoomID) error {
	room, ok := c.Room(roomID)
	if !ok {
		return wire.NewError(wire.CodeInvalidState, "no such room")
	}

	room.mu.Lock()
	member, present := room.roster[who]
	if room.state != RoomActive || !present || !member.LeftAt.IsZero() {
		room.mu.Unlock()
		return wire.NewError(wire.CodeInvalidState, "not in the room")
	}
	member.LeftAt = c.clock.Now()
	remaining := room.presentLocked()
	emptied := len(remaining) == 0
	if emptied {
		room.state = RoomEnded
	}
	room.mu.Unlock()

	if emptied {
		c.mu.Lock()
		delete(c.rooms, roomID)
		c.mu.Unlock()
		c.logger.Info("room emptied", "room", roomID)
		return nil
	}
	for _, participant := range remaining {
		c.send(participant.Address, wire.MustEvent(wire.EventRoomLeft, wire.RoomEvent{
			RoomID:      roomID,
			Participant: who,
		}))
	}
	return nil
}

// LockRoom handles room:lock. Host only.
func (c *Coordinator) LockRoom(_ context.Context, who ref.Address, frame wire.RoomLock) error {
	room, ok := c.Room(frame.RoomID)
	if !ok {
		return wire.NewError(wire.CodeInvalidState, "no such room")
	}
	if who != room.Host {
		return wire.NewError(wire.CodeInvalidState, "only the host may lock")
	}

	room.mu.Lock()
	if room.state != RoomActive {
		room.mu.Unlock()
		return wire.NewError(wire.CodeInvalidState, "room has ended")
	}
	room.locked = frame.Locked
	remaining := room.presentLocked()
	room.mu.Unlock()

	for _, participant := range remaining {
		c.send(participant.Address, wire.MustEvent(wire.EventRoomLocked, wire.RoomEvent{
			RoomID: frame.RoomID,
			Locked: frame.Locked,
		}))
	}
	return nil
}

// EndRoom handles room:end. Host only; everyone present hears the
// ended event before the record goes away.
func (c *Coordinator) EndRoom(_ context.Context, who ref.Address, roomID ref.RoomID) error {
	room, ok := c.Room(roomID)
	if !ok {
		return wire.NewError(wire.CodeInvalidState, "no such room")
	}
	if who != room.Host {
		return wire.NewError(wire.CodeInvalidState, "only the host may end the room")
	}

	room.mu.Lock()
	if room.state != RoomActive {
		room.mu.Unlock()
		return wire.NewError(wire.CodeInvalidState, "room has ended")
	}
	room.state = RoomEnded
	remaining := room.presentLocked()
	room.mu.Unlock()

	c.mu.Lock()
	delete(c.rooms, roomID)
	c.mu.Unlock()

	for _, participant := range remaining {
		c.send(participant.Address, wire.MustEvent(wire.EventRoomEnded, wire.RoomEvent{RoomID: roomID}))
	}
	c.logger.Info("room ended", "room", roomID, "by", who)
	return nil
}

// MeshRelay handles mesh:offer/answer/ice within a room. Same rules as
// the direct relay: membership checked, payload untouched.
func (c *Coordinator) MeshRelay(_ context.Context, sender ref.Address, kind wire.FrameType, frame wire.MeshSignal) error {
	room, ok := c.Room(frame.RoomID)
	if !ok {
		return wire.NewError(wire.CodeInvalidState, "no such room")
	}
	if !room.isPresent(sender) || !room.isPresent(frame.To) || sender == frame.To {
		return wire.NewError(wire.CodeInvalidState, "not a participant")
	}
	c.send(frame.To, wire.MustEvent(wire.EventMeshSignal, wire.MeshSignalEvent{
		RoomID:  frame.RoomID,
		From:    sender,
		Kind:    kind,
		Payload: frame.Payload,
	}))
	return nil
}
