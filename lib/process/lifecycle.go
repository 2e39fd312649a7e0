// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ShutdownFunc releases one resource. It should return promptly once
// ctx is done.
type ShutdownFunc func(ctx context.Context) error

// Lifecycle runs registered shutdown functions in reverse registration
// order, so a resource is released before the ones it was built on.
// The zero value is not usable; call NewLifecycle.
type Lifecycle struct {
	logger *slog.Logger

	mu       sync.Mutex
	entries  []lifecycleEntry
	shutdown bool
}

type lifecycleEntry struct {
	name string
	fn   ShutdownFunc
}

// NewLifecycle returns an empty Lifecycle. A nil logger discards.
func NewLifecycle(logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Lifecycle{logger: logger}
}

// Register adds a named shutdown function. Registering after Shutdown
// has started runs fn immediately and returns its error.
func (l *Lifecycle) Register(name string, fn ShutdownFunc) error {
	l.mu.Lock()
	if l.shutdown {
		l.mu.Unlock()
		if err := fn(context.Background()); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	}
	l.entries = append(l.entries, lifecycleEntry{name: name, fn: fn})
	l.mu.Unlock()
	return nil
}

// RegisterCloser is Register for resources with a Close() error method.
func (l *Lifecycle) RegisterCloser(name string, closer interface{ Close() error }) error {
	return l.Register(name, func(context.Context) error { return closer.Close() })
}

// Shutdown runs every registered function once, newest first. All
// functions run even when some fail; their errors are joined. Later
// calls return nil.
func (l *Lifecycle) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	if l.shutdown {
		l.mu.Unlock()
		return nil
	}
	l.shutdown = true
	entries := l.entries
	l.entries = nil
	l.mu.Unlock()

	var errs []error
	for index := len(entries) - 1; index >= 0; index-- {
		entry := entries[index]
		if err := entry.fn(ctx); err != nil {
			l.logger.Warn("shutdown step failed", "resource", entry.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", entry.name, err))
			continue
		}
		l.logger.Debug("resource released", "resource", entry.name)
	}
	return errors.Join(errs...)
}
