// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

// athena-hook-forwarder is the command a coding agent runs for each
// hook. It reads the hook's JSON payload on stdin, forwards it to the
// athena supervisor over its Unix socket, waits for the reply, and
// completes the hook the way the reply says:
//
//   - passthrough: exit 0 with no output
//   - block_with_stderr: write the reason to stderr and exit 2
//   - json_output: write the JSON decision to stdout and exit 0
//
// When the supervisor is unreachable, or the reply never comes, the
// forwarder exits 0 so the agent proceeds with its own defaults.
// Set forwarder.fail_closed to block instead.
//
// Configure it for every hook event, for example:
//
//	{"hooks": {"PreToolUse": [{"hooks": [{"type": "command",
//	  "command": "athena-hook-forwarder --socket ~/.local/state/athena/supervisor.sock"}]}]}}
package main
