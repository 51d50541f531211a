// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package call

import (
	"context"
	"testing"

	"github.com/callvault/callvault/lib/codec"
	"github.com/callvault/callvault/lib/ref"
	"github.com/callvault/callvault/notify"
	"github.com/callvault/callvault/wire"
)

func TestCreateRoomInvites(t *testing.T) {
	ctx := context.Background()
	conns := newFakeConns(alice, bob)
	coordinator, _, pushes := newTestCoordinator(t, conns)

	roomID, err := coordinator.CreateRoom(ctx, alice, wire.RoomCreate{Invite: []ref.Address{bob, carol}})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	created := decodeBody[wire.RoomEvent](t, conns.lastEvent(t, alice))
	if created.RoomID != roomID || created.Host != alice || len(created.Roster) != 1 {
		t.Fatalf("host event = %+v", created)
	}
	if _, found := conns.findEvent(bob, wire.EventRoomCreated); !found {
		t.Fatal("online invitee should receive room:created")
	}
	// Carol is offline: her invite goes out as a push.
	sent := pushes.Sent()
	if len(sent) != 1 || sent[0].Kind != notify.KindRoomInvite || sent[0].Recipient != carol {
		t.Fatalf("pushes = %+v, want one room_invite to carol", sent)
	}
}

func TestJoinAndLeaveRoom(t *testing.T) {
	ctx := context.Background()
	conns := newFakeConns(alice, bob, carol)
	coordinator, _, _ := newTestCoordinator(t, conns)

	roomID, err := coordinator.CreateRoom(ctx, alice, wire.RoomCreate{})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if err := coordinator.JoinRoom(ctx, bob, roomID); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	joined := decodeBody[wire.RoomEvent](t, conns.lastEvent(t, bob))
	if joined.Participant != bob || len(joined.Roster) != 2 {
		t.Fatalf("joiner event = %+v, want roster of 2", joined)
	}
	if event, found := conns.findEvent(alice, wire.EventRoomJoined); !found {
		t.Fatal("existing members should hear room:joined")
	} else if decodeBody[wire.RoomEvent](t, event).Participant != bob {
		t.Fatal("join event should name the joiner")
	}

	// Double join is rejected without disturbing the roster.
	wantWireError(t, coordinator.JoinRoom(ctx, bob, roomID), wire.CodeInvalidState)

	if err := coordinator.LeaveRoom(ctx, bob, roomID); err != nil {
		t.Fatalf("LeaveRoom: %v", err)
	}
	left := decodeBody[wire.RoomEvent](t, conns.lastEvent(t, alice))
	if left.Participant != bob {
		t.Fatalf("leave event = %+v", left)
	}
	room, _ := coordinator.Room(roomID)
	if len(room.present()) != 1 {
		t.Fatalf("roster size = %d, want 1", len(room.present()))
	}

	// Bob can rejoin after leaving.
	if err := coordinator.JoinRoom(ctx, bob, roomID); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
}

func TestLastLeaveEndsRoom(t *testing.T) {
	ctx := context.Background()
	conns := newFakeConns(alice)
	coordinator, _, _ := newTestCoordinator(t, conns)

	roomID, err := coordinator.CreateRoom(ctx, alice, wire.RoomCreate{})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if err := coordinator.LeaveRoom(ctx, alice, roomID); err != nil {
		t.Fatalf("LeaveRoom: %v", err)
	}
	if _, ok := coordinator.Room(roomID); ok {
		t.Fatal("empty room should be removed")
	}
}

func TestLockRejectsNewJoinsOnly(t *testing.T) {
	ctx := context.Background()
	conns := newFakeConns(alice, bob, carol)
	coordinator, _, _ := newTestCoordinator(t, conns)

	roomID, err := coordinator.CreateRoom(ctx, alice, wire.RoomCreate{})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if err := coordinator.JoinRoom(ctx, bob, roomID); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	// Only the host may lock.
	wantWireError(t, coordinator.LockRoom(ctx, bob, wire.RoomLock{RoomID: roomID, Locked: true}), wire.CodeInvalidState)
	if err := coordinator.LockRoom(ctx, alice, wire.RoomLock{RoomID: roomID, Locked: true}); err != nil {
		t.Fatalf("LockRoom: %v", err)
	}

	wantWireError(t, coordinator.JoinRoom(ctx, carol, roomID), wire.CodeInvalidState)
	room, _ := coordinator.Room(roomID)
	if len(room.present()) != 2 {
		t.Fatal("lock must not disturb existing participants")
	}

	// Unlock admits again.
	if err := coordinator.LockRoom(ctx, alice, wire.RoomLock{RoomID: roomID, Locked: false}); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := coordinator.JoinRoom(ctx, carol, roomID); err != nil {
		t.Fatalf("JoinRoom after unlock: %v", err)
	}
}

func TestEndRoomHostOnly(t *testing.T) {
	ctx := context.Background()
	conns := newFakeConns(alice, bob)
	coordinator, _, _ := newTestCoordinator(t, conns)

	roomID, err := coordinator.CreateRoom(ctx, alice, wire.RoomCreate{})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if err := coordinator.JoinRoom(ctx, bob, roomID); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	wantWireError(t, coordinator.EndRoom(ctx, bob, roomID), wire.CodeInvalidState)
	if err := coordinator.EndRoom(ctx, alice, roomID); err != nil {
		t.Fatalf("EndRoom: %v", err)
	}
	if _, ok := coordinator.Room(roomID); ok {
		t.Fatal("ended room should be removed")
	}
	if _, found := conns.findEvent(bob, wire.EventRoomEnded); !found {
		t.Fatal("participants must hear room:ended before removal")
	}
}

func TestMeshRelayMembership(t *testing.T) {
	ctx := context.Background()
	conns := newFakeConns(alice, bob, carol)
	coordinator, _, _ := newTestCoordinator(t, conns)

	roomID, err := coordinator.CreateRoom(ctx, alice, wire.RoomCreate{})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if err := coordinator.JoinRoom(ctx, bob, roomID); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	payload, _ := codec.Marshal(map[string]any{"candidate": "host"})
	signal := wire.MeshSignal{RoomID: roomID, To: bob, Payload: payload}
	if err := coordinator.MeshRelay(ctx, alice, wire.TypeMeshICE, signal); err != nil {
		t.Fatalf("MeshRelay: %v", err)
	}
	relayed := decodeBody[wire.MeshSignalEvent](t, conns.lastEvent(t, bob))
	if relayed.From != alice || relayed.Kind != wire.TypeMeshICE {
		t.Fatalf("relayed = %+v", relayed)
	}

	// Carol never joined.
	wantWireError(t, coordinator.MeshRelay(ctx, carol, wire.TypeMeshICE, signal), wire.CodeInvalidState)
	outsider := wire.MeshSignal{RoomID: roomID, To: carol, Payload: payload}
	wantWireError(t, coordinator.MeshRelay(ctx, alice, wire.TypeMeshICE, outsider), wire.CodeInvalidState)
}
