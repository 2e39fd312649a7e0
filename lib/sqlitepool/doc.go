// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite databases with Athena's standard
// connection settings.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool. Callers [Pool.Take]
// a connection, do their work, and [Pool.Put] it back; a connection is
// never shared between goroutines. [Pool.WithImmediate] runs a function
// inside a BEGIN IMMEDIATE transaction on a borrowed connection.
//
// # Pragmas
//
// Every connection is initialized with:
//
//   - journal_mode=WAL: readers never block the single writer.
//   - synchronous=FULL by default, or NORMAL when [Config.RelaxedSync]
//     is set. Session logs are the only copy of their data, so the
//     default survives power loss.
//   - busy_timeout=5000: wait for a write lock instead of failing with
//     SQLITE_BUSY.
//   - foreign_keys=ON when [Config.ForeignKeys] is set, OFF otherwise.
//   - temp_store=MEMORY.
//
// # Usage
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:        filepath.Join(directory, "session.db"),
//	    ForeignKeys: true,
//	    Logger:      logger,
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	err = pool.WithImmediate(ctx, func(conn *sqlite.Conn) error {
//	    return sqlitex.Execute(conn, "INSERT INTO t (v) VALUES (?)", &sqlitex.ExecOptions{Args: []any{1}})
//	})
//
// SQL is written by hand; there is no query builder.
package sqlitepool
