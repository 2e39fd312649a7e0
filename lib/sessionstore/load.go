// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package sessionstore

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/athena-flow/athena/lib/feed"
	"github.com/athena-flow/athena/lib/hookruntime"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("sessionstore: not found")

// Session is the session row.
type Session struct {
	ID         string
	ProjectDir string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Label      string

	// EventCount is the number of feed events recorded.
	EventCount int64
}

// AdapterSession is one agent session observed within the athena
// session. EndedAt is zero while the agent session is open.
type AdapterSession struct {
	SessionID string
	StartedAt time.Time
	EndedAt   time.Time
	Model     string
	Source    string
}

// StoredSession is everything a restarted supervisor needs from disk.
type StoredSession struct {
	Session         Session
	AdapterSessions []AdapterSession

	// FeedEvents are ordered by seq.
	FeedEvents []feed.Event

	// RuntimeEventIDs are ordered by their store-assigned seq.
	RuntimeEventIDs []string
}

// History folds the stored session into what feed.Mapper.Bootstrap
// consumes.
func (s *StoredSession) History() feed.History {
	return feed.Fold(s.FeedEvents, s.RuntimeEventIDs)
}

// RuntimeRecord is a stored hook event with its payload restored to
// JSON.
type RuntimeRecord struct {
	ID               string
	Seq              int64
	Timestamp        time.Time
	HookName         hookruntime.HookName
	AdapterSessionID string
	Payload          json.RawMessage
}

// LoadSession reads the whole session. It returns nil and no error if
// nothing has been recorded yet.
func (s *Store) LoadSession(ctx context.Context) (stored *StoredSession, err error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	// A read transaction gives one consistent snapshot across tables.
	endTransaction := sqlitex.Transaction(conn)
	defer endTransaction(&err)

	session, found, err := readSession(conn, s.sessionID)
	if err != nil || !found {
		return nil, err
	}
	stored = &StoredSession{Session: session}

	err = sqlitex.Execute(conn, `
		SELECT session_id, started_at, ended_at, model, source
		FROM adapter_sessions ORDER BY COALESCE(started_at, ended_at), session_id`,
		&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
			stored.AdapterSessions = append(stored.AdapterSessions, AdapterSession{
				SessionID: stmt.ColumnText(0),
				StartedAt: nullableMillis(stmt, 1),
				EndedAt:   nullableMillis(stmt, 2),
				Model:     stmt.ColumnText(3),
				Source:    stmt.ColumnText(4),
			})
			return nil
		}})
	if err != nil {
		return nil, fmt.Errorf("sessionstore: reading adapter sessions: %w", err)
	}

	err = sqlitex.Execute(conn, "SELECT id FROM runtime_events ORDER BY seq",
		&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
			stored.RuntimeEventIDs = append(stored.RuntimeEventIDs, stmt.ColumnText(0))
			return nil
		}})
	if err != nil {
		return nil, fmt.Errorf("sessionstore: reading runtime event ids: %w", err)
	}

	err = sqlitex.Execute(conn, `
		SELECT event_id, runtime_event_id, seq, kind, run_id, actor_id, timestamp, data, level, cause
		FROM feed_events ORDER BY seq`,
		&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
			event, err := scanFeedEvent(stmt, s.sessionID)
			if err != nil {
				return err
			}
			stored.FeedEvents = append(stored.FeedEvents, event)
			return nil
		}})
	if err != nil {
		return nil, fmt.Errorf("sessionstore: reading feed events: %w", err)
	}
	return stored, nil
}

// RuntimeEvent reads one stored hook event by its request id.
func (s *Store) RuntimeEvent(ctx context.Context, id string) (RuntimeRecord, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return RuntimeRecord{}, err
	}
	defer s.pool.Put(conn)

	var record RuntimeRecord
	found := false
	var decodeErr error
	err = sqlitex.Execute(conn, `
		SELECT id, seq, timestamp, hook_name, adapter_session_id, payload, payload_encoding, payload_digest
		FROM runtime_events WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				record = RuntimeRecord{
					ID:               stmt.ColumnText(0),
					Seq:              stmt.ColumnInt64(1),
					Timestamp:        fromMillis(stmt.ColumnInt64(2)),
					HookName:         hookruntime.HookName(stmt.ColumnText(3)),
					AdapterSessionID: stmt.ColumnText(4),
				}
				record.Payload, decodeErr = decodePayload(columnBytes(stmt, 5), stmt.ColumnText(6), columnBytes(stmt, 7))
				return nil
			},
		})
	if err != nil {
		return RuntimeRecord{}, fmt.Errorf("sessionstore: reading runtime event %s: %w", id, err)
	}
	if !found {
		return RuntimeRecord{}, fmt.Errorf("%w: runtime event %s", ErrNotFound, id)
	}
	if decodeErr != nil {
		return RuntimeRecord{}, fmt.Errorf("runtime event %s: %w", id, decodeErr)
	}
	return record, nil
}

func (s *Store) take(ctx context.Context) (*sqlite.Conn, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: %w", err)
	}
	return conn, nil
}

func readSession(conn *sqlite.Conn, id string) (Session, bool, error) {
	var session Session
	found := false
	err := sqlitex.Execute(conn, `
		SELECT id, project_dir, created_at, updated_at, label, event_count
		FROM session WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				session = Session{
					ID:         stmt.ColumnText(0),
					ProjectDir: stmt.ColumnText(1),
					CreatedAt:  fromMillis(stmt.ColumnInt64(2)),
					UpdatedAt:  fromMillis(stmt.ColumnInt64(3)),
					Label:      stmt.ColumnText(4),
					EventCount: stmt.ColumnInt64(5),
				}
				return nil
			},
		})
	if err != nil {
		return Session{}, false, fmt.Errorf("sessionstore: reading session row: %w", err)
	}
	return session, found, nil
}

func scanFeedEvent(stmt *sqlite.Stmt, sessionID string) (feed.Event, error) {
	event := feed.Event{
		EventID:        stmt.ColumnText(0),
		RuntimeEventID: stmt.ColumnText(1),
		Seq:            stmt.ColumnInt64(2),
		SessionID:      sessionID,
		Kind:           feed.Kind(stmt.ColumnText(3)),
		RunID:          stmt.ColumnText(4),
		ActorID:        stmt.ColumnText(5),
		Timestamp:      fromMillis(stmt.ColumnInt64(6)),
		Level:          feed.Level(stmt.ColumnText(8)),
	}
	data, err := feed.DecodeData(event.Kind, []byte(stmt.ColumnText(7)))
	if err != nil {
		return feed.Event{}, fmt.Errorf("feed event %s: %w", event.EventID, err)
	}
	event.Data = data
	if stmt.ColumnType(9) != sqlite.TypeNull {
		event.Cause = new(feed.Cause)
		if err := json.Unmarshal([]byte(stmt.ColumnText(9)), event.Cause); err != nil {
			return feed.Event{}, fmt.Errorf("feed event %s cause: %w", event.EventID, err)
		}
	}
	event.Title = feed.Title(event.Kind, event.Data)
	return event, nil
}

func columnBytes(stmt *sqlite.Stmt, col int) []byte {
	if stmt.ColumnType(col) == sqlite.TypeNull {
		return nil
	}
	buf := make([]byte, stmt.ColumnLen(col))
	stmt.ColumnBytes(col, buf)
	return buf
}

func nullableMillis(stmt *sqlite.Stmt, col int) time.Time {
	if stmt.ColumnType(col) == sqlite.TypeNull {
		return time.Time{}
	}
	return fromMillis(stmt.ColumnInt64(col))
}

// List returns every session under stateDir, most recently updated
// first. Directories without a database, and sessions with nothing
// recorded, are skipped.
func List(ctx context.Context, stateDir string) ([]Session, error) {
	entries, err := os.ReadDir(filepath.Join(stateDir, "sessions"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sessionstore: listing sessions: %w", err)
	}
	var sessions []Session
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(stateDir, "sessions", entry.Name(), DatabaseName)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		store, err := Open(ctx, Config{StateDir: stateDir, SessionID: entry.Name()})
		if err != nil {
			return nil, fmt.Errorf("sessionstore: opening session %s: %w", entry.Name(), err)
		}
		session, found, err := store.session(ctx)
		store.Close()
		if err != nil {
			return nil, err
		}
		if found {
			sessions = append(sessions, session)
		}
	}
	slices.SortFunc(sessions, func(a, b Session) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return sessions, nil
}

func (s *Store) session(ctx context.Context) (Session, bool, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return Session{}, false, err
	}
	defer s.pool.Put(conn)
	return readSession(conn, s.sessionID)
}

// Delete removes a session's directory. Deleting a session that does
// not exist is not an error. The session must not be open.
func Delete(stateDir, sessionID string) error {
	dir, err := SessionDir(stateDir, sessionID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("sessionstore: deleting session %s: %w", sessionID, err)
	}
	return nil
}
