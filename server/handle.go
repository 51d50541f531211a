// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"

	"github.com/callvault/callvault/lib/ref"
	"github.com/callvault/callvault/sessiontoken"
	"github.com/callvault/callvault/wire"
)

// handleFrame decodes, authenticates, and dispatches one frame. All
// failures are reported to the originating connection only.
func (s *Server) handleFrame(ctx context.Context, connection *conn, raw []byte) {
	frame, err := wire.DecodeFrame(raw)
	if err != nil {
		s.sendError(connection, wire.AsError(err))
		return
	}

	// Registration is the only frame accepted before an address is
	// bound to the connection.
	sender := connection.registeredAddress()
	if frame.Type == wire.TypeRegister {
		s.handleRegister(ctx, connection, frame)
		return
	}
	if sender.IsZero() {
		s.sendError(connection, wire.NewError(wire.CodeNotRegistered, "register before sending frames"))
		return
	}

	body := []byte(frame.Body)
	if frame.Type.Signed() {
		payload, authenticated, err := s.verifier.Verify(ctx, *frame.Envelope)
		if err != nil {
			s.sendError(connection, wire.AuthError(err))
			return
		}
		if authenticated != sender {
			s.sendError(connection, wire.NewError(wire.CodeBadSignature, "envelope sender does not match registered address"))
			return
		}
		body = payload
	}

	decoded, err := wire.DecodeBody(frame.Type, body)
	if err != nil {
		s.sendError(connection, wire.AsError(err))
		return
	}

	if err := s.dispatch(ctx, connection, sender, frame.Type, decoded); err != nil {
		s.sendError(connection, wire.AsError(err))
	}
}

// handleRegister binds the connection to an address. Re-registration
// of the same address elsewhere evicts this connection (last writer
// wins); registration here cancels any disconnect grace timers the
// address had running.
func (s *Server) handleRegister(ctx context.Context, connection *conn, frame wire.Frame) {
	decoded, err := wire.DecodeBody(wire.TypeRegister, frame.Body)
	if err != nil {
		s.sendError(connection, wire.AsError(err))
		return
	}
	register := decoded.(*wire.Register)

	connection.setAddress(register.Address)
	s.registry.Register(ctx, register.Address, connection)
	s.coordinator.Reconnected(register.Address)

	s.logger.Info("address registered", "address", register.Address)
	if err := connection.Send(wire.MustEvent(wire.EventSuccess, wire.Success{Message: "registered"})); err != nil {
		s.logger.Debug("registration ack dropped", "address", register.Address)
	}
}

// dispatch routes a decoded frame to its handler.
func (s *Server) dispatch(ctx context.Context, connection *conn, sender ref.Address, frameType wire.FrameType, body wire.FrameBody) error {
	switch v := body.(type) {
	case *wire.Ping:
		return connection.Send(wire.Event{Type: wire.EventPong})

	case *wire.CallInit:
		return s.coordinator.Init(ctx, sender, *v)
	case *wire.CallAccept:
		return s.coordinator.Accept(ctx, sender, v.CallID)
	case *wire.CallReject:
		return s.coordinator.Reject(ctx, sender, v.CallID)
	case *wire.CallEnd:
		return s.coordinator.End(ctx, sender, v.CallID)
	case *wire.CallHold:
		return s.coordinator.Hold(ctx, sender, v.CallID)
	case *wire.CallResume:
		return s.coordinator.Resume(ctx, sender, v.CallID)
	case *wire.CallMerge:
		if err := s.checkMergeEntitlement(sender, v.SessionToken); err != nil {
			return err
		}
		return s.coordinator.Merge(ctx, sender, *v)
	case *wire.CallRequestResponse:
		return s.coordinator.RespondRequest(ctx, sender, *v)

	case *wire.Signal:
		return s.coordinator.Relay(ctx, sender, frameType, *v)
	case *wire.MeshSignal:
		return s.coordinator.MeshRelay(ctx, sender, frameType, *v)

	case *wire.RoomCreate:
		_, err := s.coordinator.CreateRoom(ctx, sender, *v)
		return err
	case *wire.RoomJoin:
		return s.coordinator.JoinRoom(ctx, sender, v.RoomID)
	case *wire.RoomLeave:
		return s.coordinator.LeaveRoom(ctx, sender, v.RoomID)
	case *wire.RoomLock:
		return s.coordinator.LockRoom(ctx, sender, *v)
	case *wire.RoomEnd:
		return s.coordinator.EndRoom(ctx, sender, v.RoomID)

	case *wire.MsgSend:
		if s.pipeline == nil {
			return wire.NewError(wire.CodeInvalidState, "messaging requires persistent storage")
		}
		ack, err := s.pipeline.Submit(ctx, sender, *v)
		if err != nil {
			return err
		}
		return connection.Send(wire.MustEvent(wire.EventMsgAck, ack))
	case *wire.MsgDelivered:
		if s.pipeline == nil {
			return wire.NewError(wire.CodeInvalidState, "messaging requires persistent storage")
		}
		return s.pipeline.Delivered(ctx, sender, v.MessageID)
	case *wire.MsgRead:
		if s.pipeline == nil {
			return wire.NewError(wire.CodeInvalidState, "messaging requires persistent storage")
		}
		return s.pipeline.Read(ctx, sender, *v)
	case *wire.MsgTyping:
		if s.pipeline == nil {
			return nil
		}
		s.pipeline.Typing(sender, *v)
		return nil
	case *wire.MsgReaction:
		if s.pipeline == nil {
			return wire.NewError(wire.CodeInvalidState, "messaging requires persistent storage")
		}
		return s.pipeline.React(ctx, sender, *v)
	case *wire.MsgEdit:
		if s.pipeline == nil {
			return wire.NewError(wire.CodeInvalidState, "messaging requires persistent storage")
		}
		return s.pipeline.Edit(ctx, sender, *v)
	case *wire.MsgUnsend:
		if s.pipeline == nil {
			return wire.NewError(wire.CodeInvalidState, "messaging requires persistent storage")
		}
		return s.pipeline.Unsend(ctx, sender, *v)

	case *wire.PolicyUpdate:
		return s.handlePolicyUpdate(ctx, connection, sender, *v)
	case *wire.PolicyGet:
		return s.handlePolicyGet(ctx, connection, sender)
	case *wire.OverrideUpdate:
		return s.handleOverrideUpdate(ctx, connection, sender, *v)
	case *wire.PassCreate:
		return s.handlePassCreate(ctx, connection, sender, *v)
	case *wire.PassRevoke:
		return s.handlePassRevoke(ctx, connection, sender, *v)
	case *wire.PassList:
		return s.handlePassList(ctx, connection, sender)
	case *wire.BlockAdd:
		return s.handleBlockAdd(ctx, connection, sender, *v)
	case *wire.BlockRemove:
		return s.handleBlockRemove(ctx, connection, sender, *v)
	case *wire.BlockList:
		return s.handleBlockList(ctx, connection, sender)
	case *wire.ContactAdd:
		return s.handleContactAdd(ctx, connection, sender, *v)
	case *wire.ContactRemove:
		return s.handleContactRemove(ctx, connection, sender, *v)
	case *wire.ContactList:
		return s.handleContactList(ctx, connection, sender)

	case *wire.WalletVerify:
		// The verified envelope is the proof of key control; the
		// challenge rode inside it.
		return connection.Send(wire.MustEvent(wire.EventSuccess, wire.Success{Message: "key verified"}))

	default:
		return wire.NewError(wire.CodeUnknownType, "unhandled frame type")
	}
}

// checkMergeEntitlement verifies the session token a call:merge
// presents and confirms its plan grants merging. With no session key
// configured the gate is open.
func (s *Server) checkMergeEntitlement(sender ref.Address, token []byte) error {
	if s.sessionKey == nil {
		return nil
	}
	parsed, err := sessiontoken.VerifyForAddress(s.sessionKey, token, sender, s.clock.Now())
	if err != nil {
		return wire.NewError(wire.CodeBadSignature, "merge requires a valid session token")
	}
	if !parsed.AllowMerge {
		return wire.NewError(wire.CodeCallBlocked, "plan does not include call merge")
	}
	return nil
}
