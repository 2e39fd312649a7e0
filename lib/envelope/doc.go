// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

// Package envelope defines the wire format between the hook forwarder
// running inside the agent's hook command and the supervisor.
//
// Every message is a single JSON object terminated by a newline. The
// forwarder sends an [Inbound] record for each hook invocation; the
// supervisor answers with exactly one [Outbound] record carrying the
// same request_id. Validation happens per line: a record that fails
// [DecodeInbound] is dropped by the caller and the stream continues.
//
// Hook names are not validated here. A newer agent may emit hook events
// this build does not know about; those still decode and are surfaced
// downstream as unknown hooks.
package envelope
