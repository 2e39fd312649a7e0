// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestShutdownRunsInReverseOrder(t *testing.T) {
	lifecycle := NewLifecycle(nil)
	var order []string
	for _, name := range []string{"store", "hub", "runtime"} {
		lifecycle.Register(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	if err := lifecycle.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := strings.Join(order, ","); got != "runtime,hub,store" {
		t.Errorf("order = %s, want runtime,hub,store", got)
	}

	if err := lifecycle.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
	if len(order) != 3 {
		t.Errorf("second Shutdown ran functions again: %v", order)
	}
}

func TestShutdownJoinsErrorsAndContinues(t *testing.T) {
	lifecycle := NewLifecycle(nil)
	first := errors.New("first failed")
	ran := false
	lifecycle.Register("first", func(context.Context) error { return first })
	lifecycle.Register("second", func(context.Context) error { ran = true; return nil })
	lifecycle.Register("third", func(context.Context) error { return errors.New("third failed") })

	err := lifecycle.Shutdown(context.Background())
	if !errors.Is(err, first) {
		t.Errorf("Shutdown error = %v, want it to wrap the first failure", err)
	}
	if !strings.Contains(err.Error(), "third: third failed") {
		t.Errorf("Shutdown error = %v, want the third failure named", err)
	}
	if !ran {
		t.Error("a failing step stopped later steps from running")
	}
}

type closer struct{ closed bool }

func (c *closer) Close() error { c.closed = true; return nil }

func TestRegisterAfterShutdownRunsImmediately(t *testing.T) {
	lifecycle := NewLifecycle(nil)
	lifecycle.Shutdown(context.Background())

	late := &closer{}
	if err := lifecycle.RegisterCloser("late", late); err != nil {
		t.Fatalf("RegisterCloser: %v", err)
	}
	if !late.closed {
		t.Error("resource registered after Shutdown was not released")
	}
}
