// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor ties one athena session together: it subscribes
// to a hook runtime, maps every event into the feed, persists both in
// the session store, and answers permission requests either
// automatically (safe tools, standing rules) or by queueing them for
// the operator.
//
// A [Controller] processes events one at a time. It never calls into
// the runtime while holding its own lock, because a failed write stops
// the runtime synchronously and the stop notification re-enters the
// controller.
package supervisor
