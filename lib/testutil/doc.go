// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Athena packages.
//
// [SocketDir] creates a short temporary directory in /tmp for Unix
// domain sockets. sun_path is limited to 108 bytes and t.TempDir() can
// exceed it under deeply nested TMPDIR values.
//
// [RequireReceive], [RequireNoReceive], and [RequireClosed] wrap the
// select-with-timeout pattern so individual tests never call
// time.After directly.
//
// [UniqueID] generates monotonically increasing identifiers for
// request ids and session ids in tests.
//
// [Logger] returns a slog.Logger that writes through t.Log, so log
// output is attributed to the test that produced it.
//
// All helpers call t.Fatalf on failure.
package testutil
