// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package hookruntime

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is one normalized hook notification. Events are immutable once
// delivered; handlers must not modify Raw or the payload.
type Event struct {
	// ID is the envelope's request_id. Decisions are sent against it.
	ID string

	Timestamp time.Time
	HookName  HookName

	// SessionID is the agent's own session identifier (the adapter
	// session), not the supervisor's session.
	SessionID string

	Context     Context
	Interaction Interaction

	// Payload is the typed view of Raw. Its concrete type is determined
	// by HookName; unknown hook names decode to *Unknown.
	Payload Payload

	// Raw is the payload object exactly as received.
	Raw json.RawMessage
}

// Context carries the fields every hook payload shares.
type Context struct {
	Cwd            string
	TranscriptPath string
	PermissionMode string
}

// Interaction describes what the agent expects back.
type Interaction struct {
	ExpectsDecision bool
}

// Payload is the hook-specific part of an Event. The set of
// implementations is closed; switch on the concrete type.
type Payload interface {
	Hook() HookName
}

// ToolCall is shared by every tool-related hook.
type ToolCall struct {
	ToolName  string          `json:"tool_name"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`

	// AgentID is set when a subagent issued the call.
	AgentID   string `json:"agent_id,omitempty"`
	AgentType string `json:"agent_type,omitempty"`
}

type PreToolUse struct {
	ToolCall
}

type PostToolUse struct {
	ToolCall
	ToolResponse json.RawMessage `json:"tool_response,omitempty"`
}

type PostToolUseFailure struct {
	ToolCall
	Error       string `json:"error,omitempty"`
	IsInterrupt bool   `json:"is_interrupt,omitempty"`
}

type PermissionRequest struct {
	ToolCall
	PermissionSuggestions json.RawMessage `json:"permission_suggestions,omitempty"`
}

type Notification struct {
	Message          string `json:"message"`
	Title            string `json:"title,omitempty"`
	NotificationType string `json:"notification_type,omitempty"`
}

type UserPromptSubmit struct {
	Prompt string `json:"prompt"`
}

type Stop struct {
	StopHookActive       bool   `json:"stop_hook_active,omitempty"`
	LastAssistantMessage string `json:"last_assistant_message,omitempty"`
}

type SubagentStart struct {
	AgentID   string `json:"agent_id"`
	AgentType string `json:"agent_type,omitempty"`
}

type SubagentStop struct {
	AgentID              string `json:"agent_id"`
	AgentType            string `json:"agent_type,omitempty"`
	AgentTranscriptPath  string `json:"agent_transcript_path,omitempty"`
	StopHookActive       bool   `json:"stop_hook_active,omitempty"`
	LastAssistantMessage string `json:"last_assistant_message,omitempty"`
}

type SessionStart struct {
	// Source is "startup", "resume", "clear" or "compact".
	Source    string `json:"source,omitempty"`
	Model     string `json:"model,omitempty"`
	AgentType string `json:"agent_type,omitempty"`
}

type SessionEnd struct {
	Reason string `json:"reason,omitempty"`
}

type PreCompact struct {
	Trigger            string `json:"trigger,omitempty"`
	CustomInstructions string `json:"custom_instructions,omitempty"`
}

type ConfigChange struct {
	Source  string          `json:"source,omitempty"`
	Changes json.RawMessage `json:"changes,omitempty"`
}

// Unknown is the payload of a hook name this build does not recognize.
type Unknown struct {
	Name string
}

func (*PreToolUse) Hook() HookName         { return HookPreToolUse }
func (*PostToolUse) Hook() HookName        { return HookPostToolUse }
func (*PostToolUseFailure) Hook() HookName { return HookPostToolUseFailure }
func (*PermissionRequest) Hook() HookName  { return HookPermissionRequest }
func (*Notification) Hook() HookName       { return HookNotification }
func (*UserPromptSubmit) Hook() HookName   { return HookUserPromptSubmit }
func (*Stop) Hook() HookName               { return HookStop }
func (*SubagentStart) Hook() HookName      { return HookSubagentStart }
func (*SubagentStop) Hook() HookName       { return HookSubagentStop }
func (*SessionStart) Hook() HookName       { return HookSessionStart }
func (*SessionEnd) Hook() HookName         { return HookSessionEnd }
func (*PreCompact) Hook() HookName         { return HookPreCompact }
func (*ConfigChange) Hook() HookName       { return HookConfigChange }
func (u *Unknown) Hook() HookName          { return HookName(u.Name) }

// Tool returns the tool call carried by a tool-related payload.
func Tool(payload Payload) (ToolCall, bool) {
	switch typed := payload.(type) {
	case *PreToolUse:
		return typed.ToolCall, true
	case *PostToolUse:
		return typed.ToolCall, true
	case *PostToolUseFailure:
		return typed.ToolCall, true
	case *PermissionRequest:
		return typed.ToolCall, true
	default:
		return ToolCall{}, false
	}
}

// DecodePayload decodes raw into the payload type for name. Decoding is
// lenient: fields of the wrong JSON type are an error, missing fields
// are zero.
func DecodePayload(name HookName, raw json.RawMessage) (Payload, error) {
	var payload Payload
	switch name {
	case HookPreToolUse:
		payload = &PreToolUse{}
	case HookPostToolUse:
		payload = &PostToolUse{}
	case HookPostToolUseFailure:
		payload = &PostToolUseFailure{}
	case HookPermissionRequest:
		payload = &PermissionRequest{}
	case HookNotification:
		payload = &Notification{}
	case HookUserPromptSubmit:
		payload = &UserPromptSubmit{}
	case HookStop:
		payload = &Stop{}
	case HookSubagentStart:
		payload = &SubagentStart{}
	case HookSubagentStop:
		payload = &SubagentStop{}
	case HookSessionStart:
		payload = &SessionStart{}
	case HookSessionEnd:
		payload = &SessionEnd{}
	case HookPreCompact:
		payload = &PreCompact{}
	case HookConfigChange:
		payload = &ConfigChange{}
	default:
		return &Unknown{Name: string(name)}, nil
	}
	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", name, err)
	}
	return payload, nil
}

// commonFields are read from every payload to fill Event.Context and
// default the session id.
type commonFields struct {
	SessionID      string `json:"session_id"`
	Cwd            string `json:"cwd"`
	TranscriptPath string `json:"transcript_path"`
	PermissionMode string `json:"permission_mode"`
}
