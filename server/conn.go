// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/callvault/callvault/lib/codec"
	"github.com/callvault/callvault/lib/ref"
	"github.com/callvault/callvault/wire"
)

// writeTimeout is how long a single event write may take before the
// connection is considered dead.
const writeTimeout = 10 * time.Second

// errFrameTooLarge aborts a read that exceeds the frame size limit.
var errFrameTooLarge = errors.New("frame exceeds size limit")

// conn is one client connection. It implements registry.Sink so the
// registry can deliver events to it.
type conn struct {
	netConn net.Conn

	// writeMu serializes event writes. Events for one connection come
	// from many goroutines: its own read loop, other connections'
	// handlers, timer callbacks.
	writeMu sync.Mutex
	encoder *codec.Encoder
	closed  bool

	// address is set by the register frame and read by the dispatch
	// path on the same goroutine; mu guards it for Close.
	mu      sync.Mutex
	address ref.Address
}

func newConn(netConn net.Conn) *conn {
	return &conn{
		netConn: netConn,
		encoder: codec.NewEncoder(netConn),
	}
}

func (c *conn) setAddress(address ref.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.address = address
}

func (c *conn) registeredAddress() ref.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.address
}

// Send encodes one event to the client. Safe for concurrent use.
func (c *conn) Send(event wire.Event) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	c.netConn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.encoder.Encode(event); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	return nil
}

// Close tears the connection down. The reason is delivered as a final
// error event on a best-effort basis; a superseded connection learns
// why it was evicted.
func (c *conn) Close(reason string) {
	c.writeMu.Lock()
	if c.closed {
		c.writeMu.Unlock()
		return
	}
	c.closed = true
	if reason != "" {
		c.netConn.SetWriteDeadline(time.Now().Add(writeTimeout))
		c.encoder.Encode(wire.ErrorEventOf(wire.NewError(wire.CodeInvalidState, reason)))
	}
	c.writeMu.Unlock()
	c.netConn.Close()
}

// frameReader bounds how many bytes one frame may pull off the wire.
// Reset rearms the budget before each frame; the budget also covers
// decoder read-ahead into the next frame, which only makes the limit
// stricter.
type frameReader struct {
	r         io.Reader
	remaining int64
	max       int64
}

func newFrameReader(r io.Reader, max int64) *frameReader {
	return &frameReader{r: r, remaining: max, max: max}
}

func (f *frameReader) Reset() { f.remaining = f.max }

func (f *frameReader) Read(p []byte) (int, error) {
	if f.remaining <= 0 {
		return 0, errFrameTooLarge
	}
	if int64(len(p)) > f.remaining {
		p = p[:f.remaining]
	}
	n, err := f.r.Read(p)
	f.remaining -= int64(n)
	return n, err
}
