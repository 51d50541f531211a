// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package call

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/callvault/callvault/lib/clock"
	"github.com/callvault/callvault/lib/ref"
	"github.com/callvault/callvault/notify"
	"github.com/callvault/callvault/policy"
	"github.com/callvault/callvault/wire"
)

// Conns is the coordinator's view of the connection registry.
type Conns interface {
	Deliver(address ref.Address, event wire.Event) error
	Online(address ref.Address) bool
}

// Config configures a Coordinator.
type Config struct {
	Conns    Conns
	Policy   *policy.Engine
	Notifier notify.Notifier
	Clock    clock.Clock
	Logger   *slog.Logger

	// RingTimeout bounds how long a call may ring before it ends as
	// missed.
	RingTimeout time.Duration

	// RequestTTL bounds how long an ask-to-call request stays pending.
	RequestTTL time.Duration

	// DisconnectGrace is how long a mid-call disconnect is tolerated
	// before the call ends, so brief reconnects survive.
	DisconnectGrace time.Duration
}

const (
	defaultRingTimeout     = 45 * time.Second
	defaultRequestTTL      = 10 * time.Minute
	defaultDisconnectGrace = 15 * time.Second
)

// Coordinator drives every call and room through its state machine.
type Coordinator struct {
	conns    Conns
	policy   *policy.Engine
	notifier notify.Notifier
	clock    clock.Clock
	logger   *slog.Logger

	ringTimeout     time.Duration
	requestTTL      time.Duration
	disconnectGrace time.Duration

	mu       sync.Mutex
	calls    map[ref.CallID]*Call
	rooms    map[ref.RoomID]*Room
	requests map[string]*Request
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.NewMemory()
	}
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = defaultRingTimeout
	}
	if cfg.RequestTTL <= 0 {
		cfg.RequestTTL = defaultRequestTTL
	}
	if cfg.DisconnectGrace <= 0 {
		cfg.DisconnectGrace = defaultDisconnectGrace
	}
	return &Coordinator{
		conns:           cfg.Conns,
		policy:          cfg.Policy,
		notifier:        cfg.Notifier,
		clock:           cfg.Clock,
		logger:          cfg.Logger,
		ringTimeout:     cfg.RingTimeout,
		requestTTL:      cfg.RequestTTL,
		disconnectGrace: cfg.DisconnectGrace,
		calls:           make(map[ref.CallID]*Call),
		rooms:           make(map[ref.RoomID]*Room),
		requests:        make(map[string]*Request),
	}
}

// send delivers best effort; offline or failed sends are logged only.
func (c *Coordinator) send(address ref.Address, event wire.Event) {
	if err := c.conns.Deliver(address, event); err != nil {
		c.logger.Debug("event not delivered", "address", address, "type", event.Type, "error", err)
	}
}

func (c *Coordinator) push(ctx context.Context, recipient ref.Address, kind string, payload any) {
	if err := c.notifier.Notify(ctx, recipient, kind, payload); err != nil {
		c.logger.Warn("push notification failed", "kind", kind, "recipient", recipient, "error", err)
	}
}

// Lookup returns the call, if it exists.
func (c *Coordinator) Lookup(callID ref.CallID) (*Call, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok := c.calls[callID]
	return call, ok
}

// Room returns the room, if it exists.
func (c *Coordinator) Room(roomID ref.RoomID) (*Room, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	room, ok := c.rooms[roomID]
	return room, ok
}

// RequestStatus returns a request's status, if it exists.
func (c *Coordinator) RequestStatus(requestID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	request, ok := c.requests[requestID]
	if !ok {
		return "", false
	}
	return request.status, true
}

// callsOf snapshots the calls address participates in.
func (c *Coordinator) callsOf(address ref.Address) []*Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*Call
	for _, call := range c.calls {
		if call.Has(address) {
			out = append(out, call)
		}
	}
	return out
}

// hasActiveCall reports whether address is currently in an active
// call.
func (c *Coordinator) hasActiveCall(address ref.Address) (ref.CallID, bool) {
	for _, call := range c.callsOf(address) {
		if call.State() == StateActive {
			return call.ID, true
		}
	}
	return ref.CallID{}, false
}

// Init handles call:init. The policy engine is consulted here and
// nowhere else; a blocked caller learns only that the call was not
// permitted, never why.
func (c *Coordinator) Init(ctx context.Context, caller ref.Address, frame wire.CallInit) error {
	if caller == frame.To {
		return wire.NewError(wire.CodeInvalidFrame, "cannot call yourself")
	}
	if _, exists := c.Lookup(frame.CallID); exists {
		return wire.NewError(wire.CodeInvalidState, "call already exists")
	}

	decision, err := c.policy.Decide(ctx, caller, frame.To, frame.Pass)
	if err != nil {
		return wire.AsError(err)
	}
	switch decision.Verdict {
	case policy.VerdictBlock:
		if decision.Reason == policy.ReasonRateLimited {
			return wire.NewRetryableError(wire.CodeRateLimited, "too many attempts", decision.RetryAfterSeconds)
		}
		if decision.Reason == policy.ReasonPassSpent {
			return wire.NewError(wire.CodePassExhausted, "pass cannot be redeemed")
		}
		return wire.NewError(wire.CodeCallBlocked, "call not permitted")
	case policy.VerdictVoicemail:
		c.send(caller, wire.MustEvent(wire.EventCallUnavailable, wire.CallUnavailable{
			CallID:    frame.CallID,
			Voicemail: true,
		}))
		return nil
	case policy.VerdictRequestApproval:
		c.openRequest(ctx, caller, frame.To)
		return nil
	}

	if !c.conns.Online(frame.To) {
		c.send(caller, wire.MustEvent(wire.EventCallUnavailable, wire.CallUnavailable{CallID: frame.CallID}))
		c.push(ctx, frame.To, notify.KindIncomingCall, map[string]any{
			"call_id": frame.CallID.String(),
			"from":    caller.String(),
		})
		return nil
	}

	call := &Call{
		ID:     frame.CallID,
		Caller: caller,
		Callee: frame.To,
		Video:  frame.Video,
		state:  StateRinging,
	}
	call.ringTimer = c.clock.AfterFunc(c.ringTimeout, func() {
		c.ringTimedOut(call)
	})

	c.mu.Lock()
	c.calls[frame.CallID] = call
	c.mu.Unlock()

	incoming := wire.CallIncoming{CallID: frame.CallID, From: caller, Video: frame.Video}
	if _, busy := c.hasActiveCall(frame.To); busy {
		c.send(frame.To, wire.MustEvent(wire.EventCallWaiting, wire.CallWaiting(incoming)))
	} else {
		c.send(frame.To, wire.MustEvent(wire.EventCallIncoming, incoming))
	}
	c.logger.Info("call ringing", "call", frame.CallID, "caller", caller, "callee", frame.To)
	return nil
}

func (c *Coordinator) openRequest(ctx context.Context, caller, recipient ref.Address) {
	request := &Request{
		ID:        uuid.NewString(),
		Caller:    caller,
		Recipient: recipient,
		ExpiresAt: c.clock.Now().Add(c.requestTTL),
		status:    RequestPending,
	}
	request.timer = c.clock.AfterFunc(c.requestTTL, func() {
		c.expireRequest(request.ID)
	})

	c.mu.Lock()
	c.requests[request.ID] = request
	c.mu.Unlock()

	event := wire.CallRequestEvent{
		RequestID: request.ID,
		From:      caller,
		ExpiresAt: request.ExpiresAt.UnixMilli(),
	}
	if c.conns.Online(recipient) {
		c.send(recipient, wire.MustEvent(wire.EventCallRequest, event))
	} else {
		c.push(ctx, recipient, notify.KindCallRequest, map[string]any{
			"request_id": request.ID,
			"from":       caller.String(),
		})
	}
	c.send(caller, wire.MustEvent(wire.EventCallRequestUpdate, wire.CallRequestUpdate{
		RequestID: request.ID,
		Status:    RequestPending,
	}))
}

func (c *Coordinator) expireRequest(requestID string) {
	c.mu.Lock()
	request, ok := c.requests[requestID]
	if !ok || request.status != RequestPending {
		c.mu.Unlock()
		return
	}
	request.status = RequestExpired
	c.mu.Unlock()

	ctx := context.Background()
	if err := c.policy.RecordIgnored(ctx, request.Caller, request.Recipient); err != nil {
		c.logger.Warn("recording ignored request", "error", err)
	}
	c.send(request.Caller, wire.MustEvent(wire.EventCallRequestUpdate, wire.CallRequestUpdate{
		RequestID: requestID,
		Status:    RequestExpired,
	}))
}

// RespondRequest handles call:request_response from the recipient.
// Accepting grants the requester a one-shot permission; signaling
// starts only when they place the actual call.
func (c *Coordinator) RespondRequest(ctx context.Context, recipient ref.Address, frame wire.CallRequestResponse) error {
	c.mu.Lock()
	request, ok := c.requests[frame.RequestID]
	if !ok || request.Recipient != recipient {
		c.mu.Unlock()
		return wire.NewError(wire.CodeInvalidState, "no such pending request")
	}
	if request.status != RequestPending {
		c.mu.Unlock()
		return wire.NewError(wire.CodeInvalidState, "request already resolved")
	}
	if frame.Accept {
		request.status = RequestAccepted
	} else {
		request.status = RequestDeclined
	}
	request.timer.Stop()
	status := request.status
	caller := request.Caller
	c.mu.Unlock()

	if frame.Accept {
		if err := c.policy.GrantOneTime(ctx, caller, recipient); err != nil {
			return wire.AsError(err)
		}
	} else {
		if err := c.policy.RecordDecline(ctx, caller, recipient); err != nil {
			c.logger.Warn("recording declined request", "error", err)
		}
	}
	c.send(caller, wire.MustEvent(wire.EventCallRequestUpdate, wire.CallRequestUpdate{
		RequestID: frame.RequestID,
		Status:    status,
	}))
	return nil
}

func (c *Coordinator) ringTimedOut(call *Call) {
	call.mu.Lock()
	if call.state != StateRinging {
		call.mu.Unlock()
		return
	}
	call.state = StateEnded
	call.ringTimer = nil
	call.mu.Unlock()

	c.removeCall(call.ID)
	// The caller is told explicitly; a ring must never time out in
	// silence.
	ended := wire.CallStateEvent{CallID: call.ID, Reason: ReasonMissed}
	c.send(call.Caller, wire.MustEvent(wire.EventCallEnded, ended))
	c.send(call.Callee, wire.MustEvent(wire.EventCallEnded, ended))
	c.push(context.Background(), call.Callee, notify.KindMissedCall, map[string]any{
		"call_id": call.ID.String(),
		"from":    call.Caller.String(),
	})
	c.logger.Info("call missed", "call", call.ID)
}

func (c *Coordinator) removeCall(callID ref.CallID) {
	c.mu.Lock()
	delete(c.calls, callID)
	c.mu.Unlock()
}

// Accept handles call:accept from the callee. Accepting while another
// call is active parks that call first (accept-and-hold).
func (c *Coordinator) Accept(ctx context.Context, who ref.Address, callID ref.CallID) error {
	call, ok := c.Lookup(callID)
	if !ok {
		return wire.NewError(wire.CodeInvalidState, "no such call")
	}
	if who != call.Callee {
		return wire.NewError(wire.CodeInvalidState, "only the callee may accept")
	}

	if currentID, busy := c.hasActiveCall(who); busy && currentID != callID {
		if err := c.Hold(ctx, who, currentID); err != nil {
			return err
		}
	}

	call.mu.Lock()
	if call.state != StateRinging {
		call.mu.Unlock()
		return wire.NewError(wire.CodeInvalidState, "call is not ringing")
	}
	call.state = StateActive
	call.startedAt = c.clock.Now()
	call.stopRingTimerLocked()
	call.mu.Unlock()

	accepted := wire.CallStateEvent{CallID: callID, By: who}
	c.send(call.Caller, wire.MustEvent(wire.EventCallAccepted, accepted))
	c.send(call.Callee, wire.MustEvent(wire.EventCallAccepted, accepted))
	c.logger.Info("call active", "call", callID)
	return nil
}

// Reject handles call:reject from the callee. Feeds the decline
// counter that can auto-block a persistent caller.
func (c *Coordinator) Reject(ctx context.Context, who ref.Address, callID ref.CallID) error {
	call, ok := c.Lookup(callID)
	if !ok {
		return wire.NewError(wire.CodeInvalidState, "no such call")
	}
	if who != call.Callee {
		return wire.NewError(wire.CodeInvalidState, "only the callee may reject")
	}

	call.mu.Lock()
	if call.state != StateRinging {
		call.mu.Unlock()
		return wire.NewError(wire.CodeInvalidState, "call is not ringing")
	}
	call.state = StateEnded
	call.stopRingTimerLocked()
	call.mu.Unlock()

	c.removeCall(callID)
	if err := c.policy.RecordDecline(ctx, call.Caller, call.Callee); err != nil {
		c.logger.Warn("recording decline", "error", err)
	}
	ended := wire.CallStateEvent{CallID: callID, By: who, Reason: ReasonDeclined}
	c.send(call.Caller, wire.MustEvent(wire.EventCallRejected, ended))
	c.logger.Info("call declined", "call", callID)
	return nil
}

// End handles call:end. Either party may end from any non-terminal
// state; remaining participants always hear about it.
func (c *Coordinator) End(_ context.Context, who ref.Address, callID ref.CallID) error {
	call, ok := c.Lookup(callID)
	if !ok {
		return wire.NewError(wire.CodeInvalidState, "no such call")
	}
	if !call.Has(who) {
		return wire.NewError(wire.CodeInvalidState, "not a participant")
	}

	call.mu.Lock()
	if call.state == StateEnded {
		call.mu.Unlock()
		return wire.NewError(wire.CodeInvalidState, "call already ended")
	}
	call.state = StateEnded
	call.stopRingTimerLocked()
	call.stopGraceTimersLocked()
	call.mu.Unlock()

	c.removeCall(callID)
	ended := wire.CallStateEvent{CallID: callID, By: who, Reason: ReasonHangup}
	c.send(call.Peer(who), wire.MustEvent(wire.EventCallEnded, ended))
	c.logger.Info("call ended", "call", callID, "by", who)
	return nil
}

// Hold handles call:hold. Either participant may park a ringing or
// active call, typically to take a waiting one.
func (c *Coordinator) Hold(_ context.Context, who ref.Address, callID ref.CallID) error {
	call, ok := c.Lookup(callID)
	if !ok {
		return wire.NewError(wire.CodeInvalidState, "no such call")
	}
	if !call.Has(who) {
		return wire.NewError(wire.CodeInvalidState, "not a participant")
	}

	call.mu.Lock()
	if call.state != StateActive && call.state != StateRinging {
		call.mu.Unlock()
		return wire.NewError(wire.CodeInvalidState, "call cannot be held")
	}
	call.state = StateHeld
	call.heldBy = who
	call.stopRingTimerLocked()
	call.mu.Unlock()

	held := wire.CallStateEvent{CallID: callID, By: who}
	c.send(call.Caller, wire.MustEvent(wire.EventCallHeld, held))
	c.send(call.Callee, wire.MustEvent(wire.EventCallHeld, held))
	return nil
}

// Resume handles call:resume. Only the holder may resume.
func (c *Coordinator) Resume(_ context.Context, who ref.Address, callID ref.CallID) error {
	call, ok := c.Lookup(callID)
	if !ok {
		return wire.NewError(wire.CodeInvalidState, "no such call")
	}

	call.mu.Lock()
	if call.state != StateHeld || call.heldBy != who {
		call.mu.Unlock()
		return wire.NewError(wire.CodeInvalidState, "call is not held by you")
	}
	call.state = StateActive
	call.heldBy = ref.Address{}
	call.mu.Unlock()

	resumed := wire.CallStateEvent{CallID: callID, By: who}
	c.send(call.Caller, wire.MustEvent(wire.EventCallResumed, resumed))
	c.send(call.Callee, wire.MustEvent(wire.EventCallResumed, resumed))
	return nil
}

// Merge handles call:merge: two calls held by the same host become one
// room with every participant joined. The direct calls end with reason
// merged and their relay rules stop applying.
func (c *Coordinator) Merge(_ context.Context, host ref.Address, frame wire.CallMerge) error {
	first, ok := c.Lookup(frame.First)
	if !ok {
		return wire.NewError(wire.CodeInvalidState, "no such call")
	}
	second, ok := c.Lookup(frame.Second)
	if !ok {
		return wire.NewError(wire.CodeInvalidState, "no such call")
	}
	if !first.Has(host) || !second.Has(host) {
		return wire.NewError(wire.CodeInvalidState, "not a participant of both calls")
	}

	// Lock in a fixed order to avoid deadlock with a concurrent merge
	// of the same pair reversed.
	a, b := first, second
	if b.ID.String() < a.ID.String() {
		a, b = b, a
	}
	a.mu.Lock()
	b.mu.Lock()
	if first.state != StateHeld || first.heldBy != host ||
		second.state != StateHeld || second.heldBy != host {
		b.mu.Unlock()
		a.mu.Unlock()
		return wire.NewError(wire.CodeInvalidState, "both calls must be held by you")
	}

	room := &Room{
		ID:     ref.NewRoomID(),
		Host:   host,
		state:  RoomActive,
		roster: make(map[ref.Address]*Member),
	}
	now := c.clock.Now()
	for _, address := range []ref.Address{host, first.Peer(host), second.Peer(host)} {
		room.roster[address] = &Member{
			Address:  address,
			JoinedAt: now,
			IsHost:   address == host,
		}
	}
	first.state = StateEnded
	first.mergedInto = room.ID
	second.state = StateEnded
	second.mergedInto = room.ID
	b.mu.Unlock()
	a.mu.Unlock()

	c.mu.Lock()
	delete(c.calls, first.ID)
	delete(c.calls, second.ID)
	c.rooms[room.ID] = room
	c.mu.Unlock()

	// Each direct call ends with the room it continued in, then every
	// participant learns about the room itself.
	for _, merged := range []*Call{first, second} {
		ended := wire.MustEvent(wire.EventCallEnded, wire.CallStateEvent{
			CallID: merged.ID,
			By:     host,
			Reason: ReasonMerged,
			RoomID: room.ID,
		})
		c.send(merged.Caller, ended)
		c.send(merged.Callee, ended)
	}

	room.mu.Lock()
	roster := room.rosterEventLocked()
	room.mu.Unlock()
	for _, participant := range roster {
		c.send(participant.Address, wire.MustEvent(wire.EventRoomCreated, wire.RoomEvent{
			RoomID: room.ID,
			Host:   host,
			Roster: roster,
		}))
	}
	c.logger.Info("calls merged", "room", room.ID, "first", first.ID, "second", second.ID)
	return nil
}

// Relay handles webrtc:offer/answer/ice. Pure passthrough: the payload
// is never inspected, only participant membership and call state.
func (c *Coordinator) Relay(_ context.Context, sender ref.Address, kind wire.FrameType, frame wire.Signal) error {
	call, ok := c.Lookup(frame.CallID)
	if !ok {
		return wire.NewError(wire.CodeInvalidState, "no such call")
	}
	if !call.Has(sender) || !call.Has(frame.To) || sender == frame.To {
		return wire.NewError(wire.CodeInvalidState, "not a participant")
	}
	if state := call.State(); state == StateEnded {
		return wire.NewError(wire.CodeInvalidState, "call has ended")
	}
	c.send(frame.To, wire.MustEvent(wire.EventSignal, wire.SignalEvent{
		CallID:  frame.CallID,
		From:    sender,
		Kind:    kind,
		Payload: frame.Payload,
	}))
	return nil
}

// Disconnected starts the grace countdown on every call the address
// participates in. A reconnect inside the grace window keeps the call.
func (c *Coordinator) Disconnected(address ref.Address) {
	for _, call := range c.callsOf(address) {
		call.mu.Lock()
		if call.state == StateEnded {
			call.mu.Unlock()
			continue
		}
		if call.graceTimers == nil {
			call.graceTimers = make(map[ref.Address]*clock.Timer)
		}
		if _, pending := call.graceTimers[address]; pending {
			call.mu.Unlock()
			continue
		}
		call.graceTimers[address] = c.clock.AfterFunc(c.disconnectGrace, func() {
			c.graceExpired(call, address)
		})
		call.mu.Unlock()
	}
}

// Reconnected cancels pending grace countdowns for the address.
func (c *Coordinator) Reconnected(address ref.Address) {
	for _, call := range c.callsOf(address) {
		call.mu.Lock()
		if timer, ok := call.graceTimers[address]; ok {
			timer.Stop()
			delete(call.graceTimers, address)
		}
		call.mu.Unlock()
	}
}

func (c *Coordinator) graceExpired(call *Call, address ref.Address) {
	if c.conns.Online(address) {
		call.mu.Lock()
		delete(call.graceTimers, address)
		call.mu.Unlock()
		return
	}

	call.mu.Lock()
	if call.state == StateEnded {
		call.mu.Unlock()
		return
	}
	call.state = StateEnded
	call.stopRingTimerLocked()
	call.stopGraceTimersLocked()
	call.mu.Unlock()

	c.removeCall(call.ID)
	ended := wire.CallStateEvent{CallID: call.ID, By: address, Reason: ReasonDisconnected}
	c.send(call.Peer(address), wire.MustEvent(wire.EventCallEnded, ended))
	c.logger.Info("call ended after disconnect", "call", call.ID, "party", address)
}
