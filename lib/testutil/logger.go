// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"
)

// Logger returns a debug-level text logger that writes each record
// through t.Log. Records emitted after the test finishes are dropped.
func Logger(t testing.TB) *slog.Logger {
	writer := &testWriter{t: t}
	t.Cleanup(func() {
		writer.mu.Lock()
		writer.done = true
		writer.mu.Unlock()
	})
	return slog.New(slog.NewTextHandler(writer, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type testWriter struct {
	mu   sync.Mutex
	t    testing.TB
	done bool
}

func (w *testWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.done {
		w.t.Log(string(bytes.TrimRight(p, "\n")))
	}
	return len(p), nil
}
