// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

// athena-supervisor listens for hook events from a coding agent,
// records them as a durable timeline, and lets the operator answer
// permission requests from the terminal.
//
// The agent's hooks run athena-hook-forwarder, which connects to the
// supervisor's Unix socket. Each session is stored under
// <state>/sessions/<id>/session.db; pass --session to resume one.
//
// Feed events are printed to stdout as they happen. Operator commands
// are read from stdin, one per line:
//
//	pending               list requests waiting for a decision
//	allow <ref> [reason]  allow a pending tool call
//	deny <ref> [reason]   deny a pending tool call
//	always <ref>          allow it and add a standing approve rule for the tool
//	show <ref|#seq>       print the hook payload behind a request or event
//	status                show the run, actors and open todos
//	timeline [n]          reprint the last n visible events
//	quit                  stop the supervisor
//
// A <ref> is the request's position in the pending list, its id, or a
// unique prefix of its id. #seq names a timeline event by its number.
// Rules added with always last until the supervisor exits.
package main
