// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// connectionPragmas run on every connection before it is handed out.
// WAL keeps readers off the writer's back, synchronous=NORMAL is
// durable enough under WAL for the ack-after-commit contract (power
// loss can drop the tail of the log but never corrupts), and the busy
// timeout absorbs short write contention between the nonce, policy,
// and delivery stores sharing one file.
var connectionPragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
	"PRAGMA cache_size=-8192",
	"PRAGMA temp_store=MEMORY",
}

// Config holds the parameters for opening a SQLite connection pool.
// Only Path is required.
type Config struct {
	// Path is the database file, created on first open. The parent
	// directory must already exist. ":memory:" works for tests but
	// needs PoolSize 1 — every in-memory connection is its own
	// database.
	Path string

	// PoolSize caps the number of live connections. Zero or negative
	// picks a default based on CPU count. Writes are serialized by
	// SQLite no matter how large the pool is; extra connections only
	// buy concurrent reads.
	PoolSize int

	// Logger receives open/close events. Nil means discard.
	Logger *slog.Logger

	// OnConnect runs once per connection, after the standard pragmas.
	// Stores use it to apply their schema. An error here discards the
	// connection and surfaces from Take.
	OnConnect func(conn *sqlite.Conn) error
}

// Pool hands out SQLite connections with the standard pragmas applied.
// The pool itself is safe for concurrent use; a borrowed connection is
// single-goroutine until returned with Put.
type Pool struct {
	inner  *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// Open validates cfg and opens the pool. Connections are prepared
// lazily, so pragma and OnConnect failures surface from the first Take
// rather than from Open. Callers own the pool and must Close it.
func Open(cfg Config) (*Pool, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitepool: Path is required")
	}

	pool := &Pool{
		logger: cfg.Logger,
		path:   cfg.Path,
	}
	if pool.logger == nil {
		pool.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	size := cfg.PoolSize
	if size <= 0 {
		size = defaultPoolSize()
	}

	inner, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: size,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepareConnection(conn, cfg.OnConnect)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: opening %s: %w", cfg.Path, err)
	}
	pool.inner = inner

	pool.logger.Info("sqlite pool opened",
		"path", cfg.Path,
		"pool_size", size,
	)
	return pool, nil
}

// Take borrows a connection, blocking until one is free or ctx is
// cancelled. Pair every successful Take with a Put:
//
//	conn, err := pool.Take(ctx)
//	if err != nil {
//	    return err
//	}
//	defer pool.Put(conn)
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: take: %w", err)
	}
	return conn, nil
}

// Put returns a borrowed connection. A nil conn is a no-op. The
// connection must not be touched afterwards.
func (p *Pool) Put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

// Close waits for every borrowed connection to come back, then closes
// them all. Take fails after Close.
func (p *Pool) Close() error {
	if err := p.inner.Close(); err != nil {
		p.logger.Error("sqlite pool close error",
			"path", p.path,
			"error", err,
		)
		return fmt.Errorf("sqlitepool: closing %s: %w", p.path, err)
	}
	p.logger.Info("sqlite pool closed", "path", p.path)
	return nil
}

func defaultPoolSize() int {
	if n := runtime.NumCPU(); n > 4 {
		return n
	}
	return 4
}

// prepareConnection runs the standard pragmas and then the caller's
// OnConnect hook. Invoked once per connection, on first use.
func prepareConnection(conn *sqlite.Conn, onConnect func(*sqlite.Conn) error) error {
	for _, pragma := range connectionPragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitepool: %s: %w", pragma, err)
		}
	}
	if onConnect != nil {
		if err := onConnect(conn); err != nil {
			return fmt.Errorf("sqlitepool: OnConnect: %w", err)
		}
	}
	return nil
}
