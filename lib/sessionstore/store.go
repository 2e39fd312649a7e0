// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/athena-flow/athena/lib/clock"
	"github.com/athena-flow/athena/lib/feed"
	"github.com/athena-flow/athena/lib/hookruntime"
	"github.com/athena-flow/athena/lib/sqlitepool"
)

// DatabaseName is the file name of a session database inside its
// session directory.
const DatabaseName = "session.db"

var (
	// ErrClosed is returned by operations on a closed Store.
	ErrClosed = errors.New("sessionstore: store is closed")

	// ErrInvalidSessionID is returned for a session id that cannot name
	// a directory.
	ErrInvalidSessionID = errors.New("sessionstore: invalid session id")

	// ErrConstraint wraps every insert the database rejected for
	// violating an integrity rule (duplicate id, non-increasing seq,
	// dangling runtime event reference).
	ErrConstraint = errors.New("sessionstore: constraint violation")
)

// Config holds the parameters for Open.
type Config struct {
	// StateDir is the athena state directory. The database lives at
	// StateDir/sessions/SessionID/session.db.
	StateDir string

	SessionID string

	// ProjectDir and Label are written to the session row when it is
	// first created.
	ProjectDir string
	Label      string

	// RelaxedSync opens the database with synchronous=NORMAL.
	RelaxedSync bool

	// Clock stamps session created_at/updated_at. Defaults to the real
	// clock.
	Clock clock.Clock

	// Logger defaults to discarding.
	Logger *slog.Logger
}

// Store is the open database of one session. Writes are serialized;
// reads may run concurrently with them.
type Store struct {
	pool      *sqlitepool.Pool
	sessionID string
	config    Config
	clock     clock.Clock
	logger    *slog.Logger

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

// Open opens (creating if needed) the session database and migrates
// it to SchemaVersion.
func Open(ctx context.Context, config Config) (*Store, error) {
	return open(ctx, config, migrations)
}

func open(ctx context.Context, config Config, steps []migration) (*Store, error) {
	if config.StateDir == "" {
		return nil, fmt.Errorf("sessionstore: StateDir is required")
	}
	dir, err := SessionDir(config.StateDir, config.SessionID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("sessionstore: creating %s: %w", dir, err)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:        filepath.Join(dir, DatabaseName),
		ForeignKeys: true,
		RelaxedSync: config.RelaxedSync,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("sessionstore: %w", err)
	}

	conn, err := pool.Take(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("sessionstore: %w", err)
	}
	from, to, err := migrate(conn, steps)
	pool.Put(conn)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if from != to {
		logger.Info("session database migrated",
			"session_id", config.SessionID,
			"from_version", from,
			"to_version", to,
		)
	}

	return &Store{
		pool:      pool,
		sessionID: config.SessionID,
		config:    config,
		clock:     clk,
		logger:    logger,
	}, nil
}

// SessionID returns the athena session this store belongs to.
func (s *Store) SessionID() string { return s.sessionID }

// Path returns the database file.
func (s *Store) Path() string { return s.pool.Path() }

// AppendRuntimeEvent records one hook event. Its seq is assigned by
// the store.
func (s *Store) AppendRuntimeEvent(ctx context.Context, event hookruntime.Event) error {
	return s.write(ctx, func(conn *sqlite.Conn) error {
		return s.insertRuntimeEvent(conn, event)
	})
}

// AppendFeedEvent records one feed event.
func (s *Store) AppendFeedEvent(ctx context.Context, event feed.Event) error {
	return s.write(ctx, func(conn *sqlite.Conn) error {
		return s.insertFeedEvents(conn, []feed.Event{event})
	})
}

// AppendFeedEvents records feed events in one transaction.
func (s *Store) AppendFeedEvents(ctx context.Context, events []feed.Event) error {
	if len(events) == 0 {
		return nil
	}
	return s.write(ctx, func(conn *sqlite.Conn) error {
		return s.insertFeedEvents(conn, events)
	})
}

// Record stores a runtime event and the feed events mapped from it in
// one transaction: either all of them are persisted or none are.
func (s *Store) Record(ctx context.Context, runtimeEvent hookruntime.Event, feedEvents []feed.Event) error {
	return s.write(ctx, func(conn *sqlite.Conn) error {
		if err := s.insertRuntimeEvent(conn, runtimeEvent); err != nil {
			return err
		}
		return s.insertFeedEvents(conn, feedEvents)
	})
}

func (s *Store) write(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.pool.WithImmediate(ctx, func(conn *sqlite.Conn) error {
		if err := s.touchSession(conn); err != nil {
			return err
		}
		return fn(conn)
	})
}

// touchSession creates the session row if needed and bumps its
// updated_at.
func (s *Store) touchSession(conn *sqlite.Conn) error {
	now := s.clock.Now().UnixMilli()
	err := sqlitex.Execute(conn, `
		INSERT INTO session (id, project_dir, created_at, updated_at, label, event_count)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{Args: []any{s.sessionID, s.config.ProjectDir, now, now, s.config.Label}})
	if err != nil {
		return fmt.Errorf("sessionstore: updating session row: %w", wrapConstraint(err))
	}
	return nil
}

func (s *Store) insertRuntimeEvent(conn *sqlite.Conn, event hookruntime.Event) error {
	if event.ID == "" {
		return fmt.Errorf("sessionstore: runtime event has no id")
	}
	payload, err := encodePayload(event.Raw)
	if err != nil {
		return err
	}
	err = sqlitex.Execute(conn, `
		INSERT INTO runtime_events
			(id, seq, timestamp, hook_name, adapter_session_id, payload, payload_encoding, payload_digest)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM runtime_events), ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			event.ID,
			event.Timestamp.UnixMilli(),
			string(event.HookName),
			event.SessionID,
			payload.data,
			payload.encoding,
			payload.digest,
		}})
	if err != nil {
		return fmt.Errorf("sessionstore: inserting runtime event %s: %w", event.ID, wrapConstraint(err))
	}

	switch p := event.Payload.(type) {
	case *hookruntime.SessionStart:
		err = sqlitex.Execute(conn, `
			INSERT INTO adapter_sessions (session_id, started_at, model, source)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET
				started_at = COALESCE(adapter_sessions.started_at, excluded.started_at),
				model = CASE WHEN excluded.model != '' THEN excluded.model ELSE adapter_sessions.model END,
				source = excluded.source,
				ended_at = NULL`,
			&sqlitex.ExecOptions{Args: []any{event.SessionID, event.Timestamp.UnixMilli(), p.Model, p.Source}})
	case *hookruntime.SessionEnd:
		err = sqlitex.Execute(conn, `
			INSERT INTO adapter_sessions (session_id, ended_at) VALUES (?, ?)
			ON CONFLICT(session_id) DO UPDATE SET ended_at = excluded.ended_at`,
			&sqlitex.ExecOptions{Args: []any{event.SessionID, event.Timestamp.UnixMilli()}})
	}
	if err != nil {
		return fmt.Errorf("sessionstore: recording adapter session %s: %w", event.SessionID, err)
	}
	return nil
}

func (s *Store) insertFeedEvents(conn *sqlite.Conn, events []feed.Event) error {
	for _, event := range events {
		data, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("sessionstore: encoding %s data: %w", event.Kind, err)
		}
		var cause any
		if event.Cause != nil {
			encoded, err := json.Marshal(event.Cause)
			if err != nil {
				return fmt.Errorf("sessionstore: encoding %s cause: %w", event.Kind, err)
			}
			cause = string(encoded)
		}
		var runtimeEventID any
		if event.RuntimeEventID != "" {
			runtimeEventID = event.RuntimeEventID
		}
		err = sqlitex.Execute(conn, `
			INSERT INTO feed_events
				(event_id, runtime_event_id, seq, kind, run_id, actor_id, timestamp, data, level, cause)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				event.EventID,
				runtimeEventID,
				event.Seq,
				string(event.Kind),
				event.RunID,
				event.ActorID,
				event.Timestamp.UnixMilli(),
				string(data),
				string(event.Level),
				cause,
			}})
		if err != nil {
			return fmt.Errorf("sessionstore: inserting feed event %s (seq %d): %w", event.EventID, event.Seq, wrapConstraint(err))
		}
	}
	if len(events) > 0 {
		err := sqlitex.Execute(conn, "UPDATE session SET event_count = event_count + ? WHERE id = ?",
			&sqlitex.ExecOptions{Args: []any{len(events), s.sessionID}})
		if err != nil {
			return fmt.Errorf("sessionstore: counting feed events: %w", err)
		}
	}
	return nil
}

// Close closes the database. Further operations return ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.pool.Close()
}

func wrapConstraint(err error) error {
	if sqlite.ErrCode(err).ToPrimary() == sqlite.ResultConstraint {
		return fmt.Errorf("%w: %w", ErrConstraint, err)
	}
	return err
}

// SessionDir returns the directory holding a session's database.
func SessionDir(stateDir, sessionID string) (string, error) {
	if sessionID == "" || sessionID == "." || sessionID == ".." ||
		strings.ContainsAny(sessionID, `/\`) || strings.ContainsRune(sessionID, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	}
	return filepath.Join(stateDir, "sessions", sessionID), nil
}

func fromMillis(millis int64) time.Time {
	return time.UnixMilli(millis).UTC()
}
