// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry tracks which connection, if any, currently serves
// each address. Registration is last writer wins: a new connection for
// an address evicts and closes the previous one, so reconnecting
// clients never fight their own half-dead sockets for deliveries.
package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/callvault/callvault/lib/ref"
	"github.com/callvault/callvault/wire"
)

// ErrOffline reports that no live connection serves the address.
var ErrOffline = errors.New("address has no live connection")

// Sink is the write side of a client connection. Send must be safe for
// concurrent use; Close must be idempotent.
type Sink interface {
	Send(event wire.Event) error
	Close(reason string)
}

// RegisterHook runs while an address is coming online, before any
// Deliver call can reach the new connection. send writes directly to
// the registering connection; the delivery pipeline uses it to flush
// queued messages ahead of live traffic.
type RegisterHook func(ctx context.Context, address ref.Address, send func(wire.Event) error)

type entry struct {
	sink Sink

	// sendMu serializes event writes per address. Register holds it
	// across the OnRegister hooks, so a backlog flush finishes before
	// the first live relay goes out.
	sendMu sync.Mutex
}

// Registry maps addresses to their live connections.
type Registry struct {
	logger *slog.Logger

	mu      sync.Mutex
	conns   map[ref.Address]*entry
	hooks   []RegisterHook
	hooksMu sync.RWMutex
}

// New returns an empty registry. A nil logger discards.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		logger: logger,
		conns:  make(map[ref.Address]*entry),
	}
}

// OnRegister adds a hook invoked during each successful registration.
// Hooks run synchronously on the registering goroutine while the
// connection's send lock is held: the address is already visible to
// Online and Deliver, but deliveries block until every hook returns.
// Hooks must write through their send argument, never through Deliver,
// which would deadlock.
func (r *Registry) OnRegister(hook RegisterHook) {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// Register binds sink to address, evicting any previous connection.
// The evicted sink is closed outside the registry lock.
func (r *Registry) Register(ctx context.Context, address ref.Address, sink Sink) {
	next := &entry{sink: sink}

	// The entry is published with its send lock already held. A
	// concurrent Deliver sees the address online but blocks behind the
	// lock, so everything the hooks send (the flushed backlog) reaches
	// the connection before the first live relay.
	next.sendMu.Lock()
	defer next.sendMu.Unlock()

	r.mu.Lock()
	previous := r.conns[address]
	r.conns[address] = next
	r.mu.Unlock()

	if previous != nil {
		r.logger.Info("evicting stale connection", "address", address)
		previous.sink.Close("superseded by newer connection")
	}
	r.logger.Debug("address registered", "address", address)

	r.hooksMu.RLock()
	hooks := r.hooks
	r.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(ctx, address, sink.Send)
	}
}

// Unregister removes the binding, but only if sink is still the
// current connection. A stale connection tearing down after eviction
// must not knock its replacement offline.
func (r *Registry) Unregister(address ref.Address, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.conns[address]
	if !ok || current.sink != sink {
		return
	}
	delete(r.conns, address)
	r.logger.Debug("address unregistered", "address", address)
}

// Deliver sends an event to the address's live connection. Returns
// ErrOffline when none exists; the caller decides whether to queue.
func (r *Registry) Deliver(address ref.Address, event wire.Event) error {
	r.mu.Lock()
	current, ok := r.conns[address]
	r.mu.Unlock()
	if !ok {
		return ErrOffline
	}

	current.sendMu.Lock()
	defer current.sendMu.Unlock()
	return current.sink.Send(event)
}

// Online reports whether the address has a live connection.
func (r *Registry) Online(address ref.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[address]
	return ok
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
