// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

// Package sessionstore is the durable, append-only log of one athena
// session.
//
// Each session lives in its own SQLite database at
// <state>/sessions/<id>/session.db. The store records every runtime
// hook event it is given and every feed event derived from it; nothing
// is updated in place except the session row's counters. A restarted
// supervisor calls [Store.LoadSession] and feeds
// [StoredSession.History] to the feed mapper.
//
// Integrity is enforced by the database, not only by this package:
// feed and runtime sequence numbers are UNIQUE and triggers reject
// inserts that do not increase them, and feed_events.runtime_event_id
// is a foreign key into runtime_events (checked with foreign_keys=ON).
//
// The schema is versioned. [Open] applies pending migrations in a
// single IMMEDIATE transaction, so a failed migration leaves the
// previous version intact and is retried on the next open. A database
// written by a newer build fails with [ErrSchemaTooNew].
//
// Runtime payloads are stored as deterministic CBOR, zstd-compressed
// when large, alongside a BLAKE3 digest of the CBOR bytes.
package sessionstore
