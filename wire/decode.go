// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"fmt"

	"github.com/callvault/callvault/lib/codec"
)

// FrameBody is a decoded, validated frame payload. Callers type-switch
// on the concrete variant.
type FrameBody interface {
	Validate() error
}

// DecodeFrame parses the outer frame shape. Body and envelope are left
// opaque; DecodeBody finishes the job after any required envelope
// verification.
func DecodeFrame(data []byte) (Frame, error) {
	var frame Frame
	if err := codec.Unmarshal(data, &frame); err != nil {
		return Frame{}, NewError(CodeInvalidFrame, "malformed frame")
	}
	if frame.Type == "" {
		return Frame{}, NewError(CodeInvalidFrame, "missing frame type")
	}
	if frame.Type.Signed() && frame.Envelope == nil {
		return Frame{}, NewError(CodeBadSignature, fmt.Sprintf("%s requires a signed envelope", frame.Type))
	}
	if !frame.Type.Signed() && frame.Envelope != nil {
		return Frame{}, NewError(CodeInvalidFrame, fmt.Sprintf("%s must not carry an envelope", frame.Type))
	}
	return frame, nil
}

// DecodeBody decodes body into the variant struct for frameType and
// validates it. For signed frame types, body is the verified envelope
// payload rather than frame.Body.
func DecodeBody(frameType FrameType, body []byte) (FrameBody, error) {
	variant, err := emptyBody(frameType)
	if err != nil {
		return nil, err
	}
	if len(body) > 0 {
		if err := codec.Unmarshal(body, variant); err != nil {
			return nil, NewError(CodeInvalidFrame, fmt.Sprintf("malformed %s body", frameType))
		}
	}
	if err := variant.Validate(); err != nil {
		return nil, NewError(CodeInvalidFrame, err.Error())
	}
	return variant, nil
}

func emptyBody(frameType FrameType) (FrameBody, error) {
	switch frameType {
	case TypeRegister:
		return &Register{}, nil
	case TypePing:
		return &Ping{}, nil
	case TypeCallInit:
		return &CallInit{}, nil
	case TypeCallAccept:
		return &CallAccept{}, nil
	case TypeCallReject:
		return &CallReject{}, nil
	case TypeCallEnd:
		return &CallEnd{}, nil
	case TypeCallHold:
		return &CallHold{}, nil
	case TypeCallResume:
		return &CallResume{}, nil
	case TypeCallMerge:
		return &CallMerge{}, nil
	case TypeCallRequestResponse:
		return &CallRequestResponse{}, nil
	case TypeWebRTCOffer, TypeWebRTCAnswer, TypeWebRTCICE:
		return &Signal{}, nil
	case TypeMeshOffer, TypeMeshAnswer, TypeMeshICE:
		return &MeshSignal{}, nil
	case TypeRoomCreate:
		return &RoomCreate{}, nil
	case TypeRoomJoin:
		return &RoomJoin{}, nil
	case TypeRoomLeave:
		return &RoomLeave{}, nil
	case TypeRoomLock:
		return &RoomLock{}, nil
	case TypeRoomEnd:
		return &RoomEnd{}, nil
	case TypeMsgSend:
		return &MsgSend{}, nil
	case TypeMsgDelivered:
		return &MsgDelivered{}, nil
	case TypeMsgRead:
		return &MsgRead{}, nil
	case TypeMsgTyping:
		return &MsgTyping{}, nil
	case TypeMsgReaction:
		return &MsgReaction{}, nil
	case TypeMsgEdit:
		return &MsgEdit{}, nil
	case TypeMsgUnsend:
		return &MsgUnsend{}, nil
	case TypePolicyUpdate:
		return &PolicyUpdate{}, nil
	case TypePolicyGet:
		return &PolicyGet{}, nil
	case TypeOverrideUpdate:
		return &OverrideUpdate{}, nil
	case TypePassCreate:
		return &PassCreate{}, nil
	case TypePassRevoke:
		return &PassRevoke{}, nil
	case TypePassList:
		return &PassList{}, nil
	case TypeBlockAdd:
		return &BlockAdd{}, nil
	case TypeBlockRemove:
		return &BlockRemove{}, nil
	case TypeBlockList:
		return &BlockList{}, nil
	case TypeContactAdd:
		return &ContactAdd{}, nil
	case TypeContactRemove:
		return &ContactRemove{}, nil
	case TypeContactList:
		return &ContactList{}, nil
	case TypeWalletVerify:
		return &WalletVerify{}, nil
	default:
		return nil, NewError(CodeUnknownType, fmt.Sprintf("unknown frame type %q", frameType))
	}
}
