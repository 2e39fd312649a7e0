// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package feed

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is one timeline entry. Events are append-only: a later event
// refers to an earlier one through Cause rather than replacing it.
type Event struct {
	EventID string `json:"event_id"`
	Seq     int64  `json:"seq"`

	Timestamp time.Time `json:"ts"`

	// SessionID is the athena session the event belongs to.
	SessionID string `json:"session_id"`
	RunID     string `json:"run_id,omitempty"`

	Kind    Kind   `json:"kind"`
	Level   Level  `json:"level"`
	ActorID string `json:"actor_id"`
	Title   string `json:"title"`

	// RuntimeEventID is the hook request this event was derived from.
	// Empty for events produced by decisions.
	RuntimeEventID string `json:"runtime_event_id,omitempty"`

	Cause *Cause `json:"cause,omitempty"`
	Data  Data   `json:"data"`
}

// Cause links an event to what produced it.
type Cause struct {
	ParentEventID string `json:"parent_event_id,omitempty"`
	HookRequestID string `json:"hook_request_id,omitempty"`
	ToolUseID     string `json:"tool_use_id,omitempty"`
}

// UnmarshalJSON decodes Data according to Kind.
func (e *Event) UnmarshalJSON(input []byte) error {
	type plain Event
	var wire struct {
		plain
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(input, &wire); err != nil {
		return err
	}
	data, err := DecodeData(wire.Kind, wire.Data)
	if err != nil {
		return fmt.Errorf("event %s: %w", wire.EventID, err)
	}
	*e = Event(wire.plain)
	e.Data = data
	return nil
}
