// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for athena
// binaries:
//
//   - [Fatal] reports an unrecoverable error from main() to stderr,
//     where the structured logger may not be initialized, and exits.
//   - [Lifecycle] owns the resources a binary opens (socket, runtime,
//     database) and releases them in reverse order on shutdown.
//     Resources are registered on an explicit value passed down from
//     main, never on a process-wide registry.
package process
