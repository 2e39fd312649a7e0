// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package hookruntime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/athena-flow/athena/lib/envelope"
)

// DecisionType selects how a decision is rendered on the wire.
type DecisionType string

const (
	// DecisionPassthrough lets the agent apply its own default.
	DecisionPassthrough DecisionType = "passthrough"

	// DecisionBlock blocks with the intent's reason on stderr.
	DecisionBlock DecisionType = "block"

	// DecisionJSON sends the intent as a structured hook result.
	DecisionJSON DecisionType = "json"
)

// DecisionSource records who made a decision.
type DecisionSource string

const (
	SourceUser DecisionSource = "user"
	SourceRule DecisionSource = "rule"
	SourceAuto DecisionSource = "auto"
)

// IntentAction is what the decision asks the agent to do.
type IntentAction string

const (
	IntentAllow IntentAction = "allow"
	IntentDeny  IntentAction = "deny"

	// IntentBlock keeps a stopping agent running (Stop, SubagentStop).
	IntentBlock IntentAction = "block"
)

// Intent is the semantic content of a decision.
type Intent struct {
	Action IntentAction `json:"action,omitempty"`
	Reason string       `json:"reason,omitempty"`
}

// Decision answers one event whose Interaction.ExpectsDecision is true.
type Decision struct {
	Type   DecisionType   `json:"type"`
	Source DecisionSource `json:"source"`
	Intent Intent         `json:"intent,omitzero"`
}

// Passthrough returns a decision deferring to the agent's default.
func Passthrough(source DecisionSource) Decision {
	return Decision{Type: DecisionPassthrough, Source: source}
}

// Allow returns a structured allow decision.
func Allow(source DecisionSource, reason string) Decision {
	return Decision{Type: DecisionJSON, Source: source, Intent: Intent{Action: IntentAllow, Reason: reason}}
}

// Deny returns a structured deny decision.
func Deny(source DecisionSource, reason string) Decision {
	return Decision{Type: DecisionJSON, Source: source, Intent: Intent{Action: IntentDeny, Reason: reason}}
}

// Block returns a decision that keeps a stopping agent working.
func Block(source DecisionSource, reason string) Decision {
	return Decision{Type: DecisionJSON, Source: source, Intent: Intent{Action: IntentBlock, Reason: reason}}
}

// ErrUnsupportedDecision is returned when a decision's intent has no
// wire form for the hook it answers.
var ErrUnsupportedDecision = errors.New("hookruntime: decision not supported for hook")

// encodeDecision renders a decision as the envelope result the
// forwarder applies for the given hook.
func encodeDecision(hook HookName, decision Decision) (envelope.Result, error) {
	switch decision.Type {
	case DecisionPassthrough, "":
		return envelope.Passthrough(), nil
	case DecisionBlock:
		return envelope.Result{Action: envelope.ActionBlockWithStderr, Stderr: decision.Intent.Reason}, nil
	case DecisionJSON:
	default:
		return envelope.Result{}, fmt.Errorf("%w: unknown decision type %q", ErrUnsupportedDecision, decision.Type)
	}

	var output any
	switch hook {
	case HookPreToolUse:
		if decision.Intent.Action != IntentAllow && decision.Intent.Action != IntentDeny {
			return envelope.Result{}, fmt.Errorf("%w: %s with intent %q", ErrUnsupportedDecision, hook, decision.Intent.Action)
		}
		output = map[string]any{
			"hookSpecificOutput": map[string]any{
				"hookEventName":            string(hook),
				"permissionDecision":       string(decision.Intent.Action),
				"permissionDecisionReason": decision.Intent.Reason,
			},
		}
	case HookPermissionRequest:
		behavior := map[string]any{}
		switch decision.Intent.Action {
		case IntentAllow:
			behavior["behavior"] = "allow"
		case IntentDeny:
			behavior["behavior"] = "deny"
			if decision.Intent.Reason != "" {
				behavior["message"] = decision.Intent.Reason
			}
		default:
			return envelope.Result{}, fmt.Errorf("%w: %s with intent %q", ErrUnsupportedDecision, hook, decision.Intent.Action)
		}
		output = map[string]any{
			"hookSpecificOutput": map[string]any{
				"hookEventName": string(hook),
				"decision":      behavior,
			},
		}
	case HookStop, HookSubagentStop:
		switch decision.Intent.Action {
		case IntentAllow:
			return envelope.Passthrough(), nil
		case IntentBlock:
			output = map[string]any{"decision": "block", "reason": decision.Intent.Reason}
		default:
			return envelope.Result{}, fmt.Errorf("%w: %s with intent %q", ErrUnsupportedDecision, hook, decision.Intent.Action)
		}
	default:
		return envelope.Result{}, fmt.Errorf("%w: %s", ErrUnsupportedDecision, hook)
	}

	data, err := json.Marshal(output)
	if err != nil {
		return envelope.Result{}, fmt.Errorf("hookruntime: encoding decision: %w", err)
	}
	return envelope.Result{Action: envelope.ActionJSONOutput, StdoutJSON: data}, nil
}
