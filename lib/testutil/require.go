// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"time"
)

// Fataler is the subset of testing.TB the Require helpers need.
type Fataler interface {
	Helper()
	Fatalf(format string, args ...any)
}

// DefaultTimeout bounds every wait in tests that have no tighter
// requirement.
const DefaultTimeout = 5 * time.Second

// RequireReceive reads one value from ch within timeout, or fails the
// test. A closed channel is a failure.
//
//	event := testutil.RequireReceive(t, events, testutil.DefaultTimeout, "waiting for event")
func RequireReceive[T any](t Fataler, ch <-chan T, timeout time.Duration, msgAndArgs ...any) T {
	t.Helper()
	select {
	case value, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed before a value arrived: %s", describe(msgAndArgs))
		}
		return value
	case <-time.After(timeout):
		t.Fatalf("timed out after %v: %s", timeout, describe(msgAndArgs))
	}
	panic("unreachable")
}

// RequireClosed waits for ch to be closed (or deliver a value) within
// timeout, or fails the test.
//
//	testutil.RequireClosed(t, runtime.Done(), testutil.DefaultTimeout, "runtime done")
func RequireClosed(t Fataler, ch <-chan struct{}, timeout time.Duration, msgAndArgs ...any) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatalf("timed out after %v waiting for close: %s", timeout, describe(msgAndArgs))
	}
}

// RequireNoReceive fails the test if ch delivers a value within wait.
func RequireNoReceive[T any](t Fataler, ch <-chan T, wait time.Duration, msgAndArgs ...any) {
	t.Helper()
	select {
	case value, ok := <-ch:
		if ok {
			t.Fatalf("unexpected value %v: %s", value, describe(msgAndArgs))
		}
	case <-time.After(wait):
	}
}

// describe renders optional message arguments: a single value, or a
// format string followed by its arguments.
func describe(msgAndArgs []any) string {
	switch len(msgAndArgs) {
	case 0:
		return "(no message)"
	case 1:
		return fmt.Sprint(msgAndArgs[0])
	}
	if format, ok := msgAndArgs[0].(string); ok {
		return fmt.Sprintf(format, msgAndArgs[1:]...)
	}
	return fmt.Sprint(msgAndArgs...)
}
