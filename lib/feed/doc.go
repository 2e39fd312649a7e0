// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

// Package feed turns runtime hook events into the session timeline.
//
// A [Mapper] is a per-session state machine. Each call to [Mapper.Map]
// consumes one hookruntime.Event and returns zero or more feed events,
// assigning every one the next sequence number, the current run, and
// the acting agent. Mapping is all-or-nothing: if an event cannot be
// mapped (an error or a panic), no sequence numbers are consumed and
// no state changes.
//
// Identifiers are deterministic so that replaying a log reproduces
// them exactly:
//
//	run_id   = <adapter session id>:R<ordinal>
//	event_id = <run_id>:E<seq>
//
// Run ordinals are counted per adapter session and never reused. After
// a restart, [Mapper.Bootstrap] restores the last sequence number, the
// last ordinal for each adapter session, the runtime event ids already
// processed, and the set of subagents seen. It does not restore
// subagent actors: events are attributed to a subagent only after a
// SubagentStart arrives in the current process.
//
// Feed event payloads are a closed set of Data types, one per [Kind].
// [Title] renders the one-line summary for a kind and its data;
// [IsVisible] and [IsExpandable] are the presentation predicates.
package feed
