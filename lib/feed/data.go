// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package feed

import (
	"encoding/json"
	"fmt"
)

// Data is the kind-specific payload of a feed event. Each Kind has
// exactly one implementation.
type Data interface {
	Kind() Kind
}

type SessionStartData struct {
	AdapterSessionID string `json:"adapter_session_id"`
	Source           string `json:"source,omitempty"`
	Model            string `json:"model,omitempty"`
	AgentType        string `json:"agent_type,omitempty"`
}

type SessionEndData struct {
	AdapterSessionID string `json:"adapter_session_id"`
	Reason           string `json:"reason,omitempty"`
}

// RunTrigger says what opened a run.
type RunTrigger string

const (
	TriggerSessionStart RunTrigger = "session_start"

	// TriggerImplicit marks a run opened because an event arrived while
	// no run was open, typically after a supervisor restart.
	TriggerImplicit RunTrigger = "implicit"
)

type RunStartData struct {
	AdapterSessionID string     `json:"adapter_session_id"`
	Ordinal          int        `json:"ordinal"`
	Trigger          RunTrigger `json:"trigger"`
	Source           string     `json:"source,omitempty"`
}

// RunStatus says how a run ended.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"

	// RunSuperseded marks a run closed because a new session start
	// arrived before the previous one ended.
	RunSuperseded RunStatus = "superseded"
)

// RunCounters totals what happened during a run.
type RunCounters struct {
	ToolUses           int `json:"tool_uses"`
	ToolFailures       int `json:"tool_failures"`
	PermissionRequests int `json:"permission_requests"`
}

type RunEndData struct {
	AdapterSessionID string      `json:"adapter_session_id"`
	Ordinal          int         `json:"ordinal"`
	Status           RunStatus   `json:"status"`
	Counters         RunCounters `json:"counters"`
}

type UserPromptData struct {
	Prompt string `json:"prompt"`
	Cwd    string `json:"cwd,omitempty"`
}

type ToolPreData struct {
	ToolName  string          `json:"tool_name"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
}

type ToolPostData struct {
	ToolName     string          `json:"tool_name"`
	ToolUseID    string          `json:"tool_use_id,omitempty"`
	ToolInput    json.RawMessage `json:"tool_input,omitempty"`
	ToolResponse json.RawMessage `json:"tool_response,omitempty"`
}

type ToolFailureData struct {
	ToolName    string          `json:"tool_name"`
	ToolUseID   string          `json:"tool_use_id,omitempty"`
	ToolInput   json.RawMessage `json:"tool_input,omitempty"`
	Error       string          `json:"error,omitempty"`
	IsInterrupt bool            `json:"is_interrupt,omitempty"`
}

type PermissionRequestData struct {
	ToolName    string          `json:"tool_name"`
	ToolUseID   string          `json:"tool_use_id,omitempty"`
	ToolInput   json.RawMessage `json:"tool_input,omitempty"`
	Suggestions json.RawMessage `json:"permission_suggestions,omitempty"`
}

// DecisionData is shared by the two decision kinds.
type DecisionData struct {
	ToolName     string `json:"tool_name,omitempty"`
	DecisionType string `json:"decision_type"`
	Source       string `json:"source"`
	Action       string `json:"action,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

type PermissionDecisionData struct {
	DecisionData
}

type StopRequestData struct {
	AgentID        string `json:"agent_id,omitempty"`
	StopHookActive bool   `json:"stop_hook_active,omitempty"`
}

type StopDecisionData struct {
	DecisionData
}

type SubagentStartData struct {
	AgentID   string `json:"agent_id"`
	AgentType string `json:"agent_type,omitempty"`
}

type SubagentStopData struct {
	AgentID        string `json:"agent_id"`
	AgentType      string `json:"agent_type,omitempty"`
	TranscriptPath string `json:"transcript_path,omitempty"`
	StopHookActive bool   `json:"stop_hook_active,omitempty"`
}

type NotificationData struct {
	Message          string `json:"message"`
	Title            string `json:"title,omitempty"`
	NotificationType string `json:"notification_type,omitempty"`
}

type CompactPreData struct {
	Trigger            string `json:"trigger,omitempty"`
	CustomInstructions string `json:"custom_instructions,omitempty"`
}

type ConfigChangeData struct {
	Source  string          `json:"source,omitempty"`
	Changes json.RawMessage `json:"changes,omitempty"`
}

// MessageScope says which actor produced an agent message.
type MessageScope string

const (
	ScopeRoot     MessageScope = "root"
	ScopeSubagent MessageScope = "subagent"
)

type AgentMessageData struct {
	Message string       `json:"message"`
	Scope   MessageScope `json:"scope"`

	// Source is where the message was recovered from; "hook" for the
	// last_assistant_message field of a stop hook.
	Source  string `json:"source"`
	AgentID string `json:"agent_id,omitempty"`
}

// TodoData is shared by the three todo kinds.
type TodoData struct {
	TodoID   string `json:"todo_id"`
	Content  string `json:"content"`
	Status   string `json:"status,omitempty"`
	Priority string `json:"priority,omitempty"`
}

type TodoAddData struct{ TodoData }
type TodoUpdateData struct {
	TodoData
	PreviousStatus string `json:"previous_status,omitempty"`
}
type TodoDoneData struct{ TodoData }

type UnknownHookData struct {
	HookName string          `json:"hook_name"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

func (*SessionStartData) Kind() Kind       { return KindSessionStart }
func (*SessionEndData) Kind() Kind         { return KindSessionEnd }
func (*RunStartData) Kind() Kind           { return KindRunStart }
func (*RunEndData) Kind() Kind             { return KindRunEnd }
func (*UserPromptData) Kind() Kind         { return KindUserPrompt }
func (*ToolPreData) Kind() Kind            { return KindToolPre }
func (*ToolPostData) Kind() Kind           { return KindToolPost }
func (*ToolFailureData) Kind() Kind        { return KindToolFailure }
func (*PermissionRequestData) Kind() Kind  { return KindPermissionRequest }
func (*PermissionDecisionData) Kind() Kind { return KindPermissionDecision }
func (*StopRequestData) Kind() Kind        { return KindStopRequest }
func (*StopDecisionData) Kind() Kind       { return KindStopDecision }
func (*SubagentStartData) Kind() Kind      { return KindSubagentStart }
func (*SubagentStopData) Kind() Kind       { return KindSubagentStop }
func (*NotificationData) Kind() Kind       { return KindNotification }
func (*CompactPreData) Kind() Kind         { return KindCompactPre }
func (*ConfigChangeData) Kind() Kind       { return KindConfigChange }
func (*AgentMessageData) Kind() Kind       { return KindAgentMessage }
func (*TodoAddData) Kind() Kind            { return KindTodoAdd }
func (*TodoUpdateData) Kind() Kind         { return KindTodoUpdate }
func (*TodoDoneData) Kind() Kind           { return KindTodoDone }
func (*UnknownHookData) Kind() Kind        { return KindUnknownHook }

// newData returns an empty Data value for kind, or nil for an
// unrecognized kind.
func newData(kind Kind) Data {
	switch kind {
	case KindSessionStart:
		return &SessionStartData{}
	case KindSessionEnd:
		return &SessionEndData{}
	case KindRunStart:
		return &RunStartData{}
	case KindRunEnd:
		return &RunEndData{}
	case KindUserPrompt:
		return &UserPromptData{}
	case KindToolPre:
		return &ToolPreData{}
	case KindToolPost:
		return &ToolPostData{}
	case KindToolFailure:
		return &ToolFailureData{}
	case KindPermissionRequest:
		return &PermissionRequestData{}
	case KindPermissionDecision:
		return &PermissionDecisionData{}
	case KindStopRequest:
		return &StopRequestData{}
	case KindStopDecision:
		return &StopDecisionData{}
	case KindSubagentStart:
		return &SubagentStartData{}
	case KindSubagentStop:
		return &SubagentStopData{}
	case KindNotification:
		return &NotificationData{}
	case KindCompactPre:
		return &CompactPreData{}
	case KindConfigChange:
		return &ConfigChangeData{}
	case KindAgentMessage:
		return &AgentMessageData{}
	case KindTodoAdd:
		return &TodoAddData{}
	case KindTodoUpdate:
		return &TodoUpdateData{}
	case KindTodoDone:
		return &TodoDoneData{}
	case KindUnknownHook:
		return &UnknownHookData{}
	default:
		return nil
	}
}

// DecodeData decodes the JSON data of a feed event of the given kind.
func DecodeData(kind Kind, raw []byte) (Data, error) {
	data := newData(kind)
	if data == nil {
		return nil, fmt.Errorf("feed: unknown kind %q", kind)
	}
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, data); err != nil {
		return nil, fmt.Errorf("feed: decoding %s data: %w", kind, err)
	}
	return data, nil
}
