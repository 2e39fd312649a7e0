// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Config holds the parameters for Open. Path is required.
type Config struct {
	// Path is the database file. The parent directory must exist; the
	// file is created if missing.
	Path string

	// PoolSize is the number of connections. Defaults to 2: one writer
	// and one concurrent reader is all a single-writer store needs.
	PoolSize int

	// ForeignKeys turns on foreign key enforcement for every
	// connection.
	ForeignKeys bool

	// RelaxedSync trades durability across OS crashes for fewer
	// fsyncs (synchronous=NORMAL).
	RelaxedSync bool

	// Logger receives open/close messages. If nil, logs are discarded.
	Logger *slog.Logger

	// OnConnect runs once per connection after the pragmas. An error
	// discards the connection and is returned from Take.
	OnConnect func(conn *sqlite.Conn) error
}

// Pool is a fixed-size set of SQLite connections. It is safe for
// concurrent use; the connections it hands out are not.
type Pool struct {
	inner  *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// Open creates the pool. Connections are initialized lazily on first
// Take, so a database that cannot be opened may only fail there.
func Open(config Config) (*Pool, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("sqlitepool: Path is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	poolSize := config.PoolSize
	if poolSize <= 0 {
		poolSize = 2
	}

	pragmas := connectionPragmas(config)
	inner, err := sqlitex.NewPool(config.Path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepareConnection(conn, pragmas, config.OnConnect)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: opening %s: %w", config.Path, err)
	}

	logger.Debug("sqlite pool opened",
		"path", config.Path,
		"pool_size", poolSize,
		"foreign_keys", config.ForeignKeys,
	)
	return &Pool{inner: inner, logger: logger, path: config.Path}, nil
}

// Path returns the database file the pool was opened on.
func (p *Pool) Path() string {
	return p.path
}

// Take borrows a connection, blocking until one is free or ctx is
// done. Every successful Take must be paired with Put.
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: take: %w", err)
	}
	return conn, nil
}

// Put returns a connection to the pool. Put(nil) is a no-op.
func (p *Pool) Put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

// WithImmediate runs fn in a BEGIN IMMEDIATE transaction. The
// transaction commits if fn returns nil and rolls back otherwise.
func (p *Pool) WithImmediate(ctx context.Context, fn func(conn *sqlite.Conn) error) (err error) {
	conn, err := p.Take(ctx)
	if err != nil {
		return err
	}
	defer p.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("sqlitepool: begin immediate: %w", err)
	}
	defer endTransaction(&err)

	return fn(conn)
}

// Close closes every connection, waiting for borrowed ones to be
// returned.
func (p *Pool) Close() error {
	if err := p.inner.Close(); err != nil {
		p.logger.Error("sqlite pool close failed", "path", p.path, "error", err)
		return fmt.Errorf("sqlitepool: closing %s: %w", p.path, err)
	}
	p.logger.Debug("sqlite pool closed", "path", p.path)
	return nil
}

func connectionPragmas(config Config) []string {
	synchronous := "FULL"
	if config.RelaxedSync {
		synchronous = "NORMAL"
	}
	foreignKeys := "OFF"
	if config.ForeignKeys {
		foreignKeys = "ON"
	}
	return []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=" + synchronous,
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=" + foreignKeys,
		"PRAGMA temp_store=MEMORY",
	}
}

func prepareConnection(conn *sqlite.Conn, pragmas []string, onConnect func(*sqlite.Conn) error) error {
	for _, pragma := range pragmas {
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
