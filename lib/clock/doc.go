// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Components that stamp events (the hook runtime, the feed mapper, the
// supervisor's pending-request queue) take a Clock instead of calling
// time.Now directly. Production code passes Real(); tests pass Fake()
// and move time explicitly with Advance or Set, so timestamps recorded
// in the feed and in the session store are reproducible.
//
// The supervisor core enforces no timeouts, so the interface is
// deliberately limited to reading the current time.
package clock
