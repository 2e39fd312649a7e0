// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package sessionstore

import (
	"errors"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// ErrSchemaTooNew is returned by Open for a database whose schema
// version is newer than this build understands.
var ErrSchemaTooNew = errors.New("sessionstore: schema version is newer than supported")

type migration struct {
	version int
	name    string
	script  string
}

// migrations are applied in order. Append only; never edit a released
// migration.
var migrations = []migration{
	{
		version: 1,
		name:    "core tables",
		script: `
CREATE TABLE session (
	id          TEXT PRIMARY KEY,
	project_dir TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL,
	label       TEXT NOT NULL DEFAULT '',
	event_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE runtime_events (
	id                 TEXT PRIMARY KEY,
	seq                INTEGER NOT NULL UNIQUE,
	timestamp          INTEGER NOT NULL,
	hook_name          TEXT NOT NULL,
	adapter_session_id TEXT NOT NULL DEFAULT '',
	payload            BLOB NOT NULL
);

CREATE TABLE feed_events (
	event_id         TEXT PRIMARY KEY,
	runtime_event_id TEXT REFERENCES runtime_events(id),
	seq              INTEGER NOT NULL UNIQUE,
	kind             TEXT NOT NULL,
	run_id           TEXT NOT NULL DEFAULT '',
	actor_id         TEXT NOT NULL,
	timestamp        INTEGER NOT NULL,
	data             TEXT NOT NULL
);

CREATE TRIGGER runtime_events_seq_increasing
BEFORE INSERT ON runtime_events
WHEN NEW.seq <= (SELECT COALESCE(MAX(seq), 0) FROM runtime_events)
BEGIN
	SELECT RAISE(ABORT, 'runtime_events.seq must increase');
END;

CREATE TRIGGER feed_events_seq_increasing
BEFORE INSERT ON feed_events
WHEN NEW.seq <= (SELECT COALESCE(MAX(seq), 0) FROM feed_events)
BEGIN
	SELECT RAISE(ABORT, 'feed_events.seq must increase');
END;

CREATE TRIGGER feed_events_append_only
BEFORE UPDATE ON feed_events
BEGIN
	SELECT RAISE(ABORT, 'feed_events is append-only');
END;
`,
	},
	{
		version: 2,
		name:    "adapter sessions and payload encoding",
		script: `
CREATE TABLE adapter_sessions (
	session_id TEXT PRIMARY KEY,
	started_at INTEGER,
	ended_at   INTEGER,
	model      TEXT NOT NULL DEFAULT '',
	source     TEXT NOT NULL DEFAULT ''
);

ALTER TABLE runtime_events ADD COLUMN payload_encoding TEXT NOT NULL DEFAULT 'cbor';
ALTER TABLE runtime_events ADD COLUMN payload_digest BLOB;

ALTER TABLE feed_events ADD COLUMN level TEXT NOT NULL DEFAULT 'info';
ALTER TABLE feed_events ADD COLUMN cause TEXT;

CREATE INDEX feed_events_by_runtime_event ON feed_events(runtime_event_id);
CREATE INDEX runtime_events_by_digest ON runtime_events(payload_digest);
`,
	},
}

// SchemaVersion is the version this build writes.
var SchemaVersion = migrations[len(migrations)-1].version

// migrate brings conn's schema up to the last of steps inside one
// IMMEDIATE transaction and returns the version before and after.
func migrate(conn *sqlite.Conn, steps []migration) (from, to int, err error) {
	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, 0, fmt.Errorf("sessionstore: begin migration: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.ExecuteScript(conn, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);`, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("sessionstore: creating schema_version: %w", err)
	}

	from = -1
	err = sqlitex.Execute(conn, "SELECT version FROM schema_version LIMIT 1", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			from = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return 0, 0, fmt.Errorf("sessionstore: reading schema version: %w", err)
	}
	if from < 0 {
		from = 0
		if err = sqlitex.Execute(conn, "INSERT INTO schema_version (version) VALUES (0)", nil); err != nil {
			return 0, 0, fmt.Errorf("sessionstore: initializing schema version: %w", err)
		}
	}

	latest := steps[len(steps)-1].version
	if from > latest {
		return from, from, fmt.Errorf("%w: database is at version %d, this build supports %d", ErrSchemaTooNew, from, latest)
	}

	to = from
	for _, step := range steps {
		if step.version <= to {
			continue
		}
		if err = sqlitex.ExecuteScript(conn, step.script, nil); err != nil {
			return from, from, fmt.Errorf("sessionstore: migration %d (%s): %w", step.version, step.name, err)
		}
		to = step.version
	}
	if to != from {
		err = sqlitex.Execute(conn, "UPDATE schema_version SET version = ?", &sqlitex.ExecOptions{Args: []any{to}})
		if err != nil {
			return from, from, fmt.Errorf("sessionstore: recording schema version: %w", err)
		}
	}
	return from, to, nil
}
