// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// MaxLineSize bounds a single envelope line. Tool inputs and responses
// can carry whole file contents, so this is sized like the agent's own
// stream-json lines rather than like a control message.
const MaxLineSize = 1024 * 1024

// Validation errors returned by DecodeInbound. Callers drop the line
// and keep reading for all of them.
var (
	ErrMalformed            = errors.New("envelope: malformed JSON")
	ErrMissingRequestID     = errors.New("envelope: missing request_id")
	ErrMissingHookEventName = errors.New("envelope: missing hook_event_name")
	ErrPayloadNotObject     = errors.New("envelope: payload is not an object")
)

// Inbound is one hook invocation forwarded from the agent.
type Inbound struct {
	RequestID     string          `json:"request_id"`
	Timestamp     int64           `json:"ts"` // Unix milliseconds; zero if the sender omitted it
	SessionID     string          `json:"session_id,omitempty"`
	HookEventName string          `json:"hook_event_name"`
	Payload       json.RawMessage `json:"payload"`
}

// Outbound is the supervisor's reply to one Inbound record.
type Outbound struct {
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"ts"`
	Payload   Result `json:"payload"`
}

// Action tells the forwarder how to complete the hook command.
type Action string

const (
	// ActionPassthrough exits 0 with no output; the agent proceeds with
	// its default behavior.
	ActionPassthrough Action = "passthrough"

	// ActionBlockWithStderr writes Stderr and exits with the agent's
	// blocking exit code.
	ActionBlockWithStderr Action = "block_with_stderr"

	// ActionJSONOutput writes StdoutJSON to stdout and exits 0. The agent
	// interprets the JSON as a structured hook decision.
	ActionJSONOutput Action = "json_output"
)

// Result is the payload of an Outbound record.
type Result struct {
	Action     Action          `json:"action"`
	Stderr     string          `json:"stderr,omitempty"`
	StdoutJSON json.RawMessage `json:"stdout_json,omitempty"`
}

// Passthrough is the no-op result.
func Passthrough() Result {
	return Result{Action: ActionPassthrough}
}

// DecodeInbound parses and validates one line. The returned Inbound's
// Payload is always a JSON object.
func DecodeInbound(line []byte) (Inbound, error) {
	var inbound Inbound
	if err := json.Unmarshal(line, &inbound); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if inbound.RequestID == "" {
		return Inbound{}, ErrMissingRequestID
	}
	if inbound.HookEventName == "" {
		return Inbound{}, ErrMissingHookEventName
	}
	if !isObject(inbound.Payload) {
		return Inbound{}, ErrPayloadNotObject
	}
	return inbound, nil
}

// EncodeInbound serializes an Inbound record as one newline-terminated
// line.
func EncodeInbound(inbound Inbound) ([]byte, error) {
	if inbound.Payload == nil {
		inbound.Payload = json.RawMessage(`{}`)
	}
	return encodeLine(inbound)
}

// DecodeOutbound parses one reply line.
func DecodeOutbound(line []byte) (Outbound, error) {
	var outbound Outbound
	if err := json.Unmarshal(line, &outbound); err != nil {
		return Outbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if outbound.RequestID == "" {
		return Outbound{}, ErrMissingRequestID
	}
	if outbound.Payload.Action == "" {
		outbound.Payload.Action = ActionPassthrough
	}
	return outbound, nil
}

// EncodeOutbound serializes an Outbound record as one newline-terminated
// line.
func EncodeOutbound(outbound Outbound) ([]byte, error) {
	if outbound.RequestID == "" {
		return nil, ErrMissingRequestID
	}
	if outbound.Payload.Action == "" {
		outbound.Payload.Action = ActionPassthrough
	}
	return encodeLine(outbound)
}

// PeekRequestID extracts request_id from a line without decoding the
// payload. Returns "" when the line is not an object or has no id.
func PeekRequestID(line []byte) string {
	var header struct {
		RequestID string `json:"request_id"`
	}
	if json.Unmarshal(line, &header) != nil {
		return ""
	}
	return header.RequestID
}

func encodeLine(value any) ([]byte, error) {
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err != nil {
		return nil, fmt.Errorf("envelope: encoding: %w", err)
	}
	if buffer.Len() > MaxLineSize {
		return nil, fmt.Errorf("envelope: line of %d bytes exceeds %d", buffer.Len(), MaxLineSize)
	}
	return buffer.Bytes(), nil
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
