// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/callvault/callvault/call"
	"github.com/callvault/callvault/delivery"
	"github.com/callvault/callvault/envelope"
	"github.com/callvault/callvault/lib/clock"
	"github.com/callvault/callvault/lib/codec"
	"github.com/callvault/callvault/policy"
	"github.com/callvault/callvault/registry"
	"github.com/callvault/callvault/wire"
)

// maxFrameBytes is the default per-frame read budget. Message bodies
// are capped well below this; the headroom covers envelope overhead.
const maxFrameBytes = 256 * 1024

// readTimeout is how long a connection may stay silent before the
// server drops it. Clients ping well inside this window.
const readTimeout = 5 * time.Minute

// Config configures a Server.
type Config struct {
	// Address is the TCP listen address. Required.
	Address string

	// Registry tracks live connections. Required.
	Registry *registry.Registry

	// Verifier authenticates signed envelopes. Required.
	Verifier *envelope.Verifier

	// Coordinator drives call lifecycle. Required.
	Coordinator *call.Coordinator

	// Pipeline handles message delivery. Nil in demo mode; message
	// frames are then refused.
	Pipeline *delivery.Pipeline

	// PolicyStore backs the policy management frames. Nil in demo
	// mode; policy frames are then refused.
	PolicyStore policy.Store

	// SessionKey verifies session tokens presented on
	// entitlement-gated frames such as call:merge. Nil disables the
	// check and lets any participant merge.
	SessionKey ed25519.PublicKey

	// Clock provides time. Defaults to the real clock.
	Clock clock.Clock

	// Logger is the structured logger. If nil, logs are discarded.
	Logger *slog.Logger

	// MaxFrameBytes overrides the per-frame read budget.
	MaxFrameBytes int64
}

// Server accepts signaling connections and dispatches their frames.
type Server struct {
	address     string
	registry    *registry.Registry
	verifier    *envelope.Verifier
	coordinator *call.Coordinator
	pipeline    *delivery.Pipeline
	policyStore policy.Store
	sessionKey  ed25519.PublicKey
	clock       clock.Clock
	logger      *slog.Logger
	maxFrame    int64

	// ready is closed after the listener is bound.
	ready chan struct{}
	addr  net.Addr

	activeConnections sync.WaitGroup
}

// New creates a server. Call Serve to start accepting connections.
func New(cfg Config) (*Server, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("server: Address is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("server: Registry is required")
	}
	if cfg.Verifier == nil {
		return nil, fmt.Errorf("server: Verifier is required")
	}
	if cfg.Coordinator == nil {
		return nil, fmt.Errorf("server: Coordinator is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = maxFrameBytes
	}
	return &Server{
		address:     cfg.Address,
		registry:    cfg.Registry,
		verifier:    cfg.Verifier,
		coordinator: cfg.Coordinator,
		pipeline:    cfg.Pipeline,
		policyStore: cfg.PolicyStore,
		sessionKey:  cfg.SessionKey,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		maxFrame:    cfg.MaxFrameBytes,
		ready:       make(chan struct{}),
	}, nil
}

// Ready returns a channel that is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the resolved listen address. Only valid after Ready()
// is closed.
func (s *Server) Addr() net.Addr { return s.addr }

// Serve accepts connections until ctx is cancelled, then stops
// accepting and waits for active connections to wind down.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.address, err)
	}
	s.addr = listener.Addr()
	close(s.ready)

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("signal server listening", "address", s.addr.String())

	for {
		netConn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, netConn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

// handleConnection runs one connection's read loop until the client
// disconnects or the context ends.
func (s *Server) handleConnection(ctx context.Context, netConn net.Conn) {
	connection := newConn(netConn)
	defer s.teardown(connection)

	remote := netConn.RemoteAddr().String()
	s.logger.Debug("connection opened", "remote", remote)

	reader := newFrameReader(netConn, s.maxFrame)
	decoder := codec.NewDecoder(reader)

	for {
		if ctx.Err() != nil {
			return
		}
		netConn.SetReadDeadline(time.Now().Add(readTimeout))
		reader.Reset()

		var raw codec.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			case errors.Is(err, errFrameTooLarge):
				s.sendError(connection, wire.NewError(wire.CodeInvalidFrame, "frame too large"))
			default:
				s.logger.Debug("read failed", "remote", remote, "error", err)
			}
			return
		}

		s.handleFrame(ctx, connection, raw)
	}
}

// teardown releases everything a departing connection held. The
// coordinator starts disconnect grace timers for its live calls; if
// the same address registers again in time, the calls survive.
func (s *Server) teardown(connection *conn) {
	connection.Close("")
	address := connection.registeredAddress()
	if address.IsZero() {
		return
	}
	s.registry.Unregister(address, connection)
	s.coordinator.Disconnected(address)
	s.logger.Debug("connection closed", "address", address)
}

// sendError reports a frame failure to the originating connection
// only.
func (s *Server) sendError(connection *conn, wireErr *wire.Error) {
	if err := connection.Send(wire.ErrorEventOf(wireErr)); err != nil {
		s.logger.Debug("error event dropped", "error", err)
	}
}
