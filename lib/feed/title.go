// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package feed

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// MaxTitleWidth is the maximum visible width of a title, in terminal
// cells, including the ellipsis.
const MaxTitleWidth = 80

const ellipsis = "…"

// Title renders the one-line summary of a feed event. It is pure; a
// kind it does not recognize, or data of the wrong type for kind,
// renders as "[<kind>]".
func Title(kind Kind, data Data) string {
	title, ok := formatTitle(kind, data)
	if !ok {
		return "[" + string(kind) + "]"
	}
	return truncateTitle(title)
}

func formatTitle(kind Kind, data Data) (string, bool) {
	if data == nil || data.Kind() != kind {
		return "", false
	}
	switch typed := data.(type) {
	case *SessionStartData:
		return withDetail("Session started", typed.Source), true
	case *SessionEndData:
		return withDetail("Session ended", typed.Reason), true
	case *RunStartData:
		return fmt.Sprintf("Run R%d started", typed.Ordinal), true
	case *RunEndData:
		return fmt.Sprintf("Run R%d %s", typed.Ordinal, typed.Status), true
	case *UserPromptData:
		return "Prompt: " + typed.Prompt, true
	case *ToolPreData:
		return joinNonEmpty(firstNonEmpty(typed.ToolName, "Tool call"), summarizeToolInput(typed.ToolName, typed.ToolInput)), true
	case *ToolPostData:
		return "✓ " + joinNonEmpty(typed.ToolName, summarizeToolInput(typed.ToolName, typed.ToolInput)), true
	case *ToolFailureData:
		if typed.IsInterrupt {
			return "✗ " + typed.ToolName + " interrupted", true
		}
		return "✗ " + typed.ToolName + ": " + typed.Error, true
	case *PermissionRequestData:
		return "Permission: " + joinNonEmpty(typed.ToolName, summarizeToolInput(typed.ToolName, typed.ToolInput)), true
	case *PermissionDecisionData:
		return decisionTitle(typed.ToolName, typed.DecisionData), true
	case *StopRequestData:
		if typed.AgentID != "" {
			return "Stop requested by " + typed.AgentID, true
		}
		return "Stop requested", true
	case *StopDecisionData:
		if typed.Action == "block" {
			return withReason("Stop blocked", typed.Reason), true
		}
		return "Stop allowed", true
	case *SubagentStartData:
		return "Subagent started: " + firstNonEmpty(typed.AgentType, typed.AgentID), true
	case *SubagentStopData:
		return "Subagent finished: " + firstNonEmpty(typed.AgentType, typed.AgentID), true
	case *NotificationData:
		return "Notification: " + firstNonEmpty(typed.Message, typed.Title), true
	case *CompactPreData:
		return withDetail("Compacting context", typed.Trigger), true
	case *ConfigChangeData:
		return withDetail("Configuration changed", typed.Source), true
	case *AgentMessageData:
		if typed.Scope == ScopeSubagent {
			return "Subagent: " + typed.Message, true
		}
		return "Agent: " + typed.Message, true
	case *TodoAddData:
		return "Todo added: " + typed.Content, true
	case *TodoUpdateData:
		return fmt.Sprintf("Todo %s: %s", typed.Status, typed.Content), true
	case *TodoDoneData:
		return "Todo done: " + typed.Content, true
	case *UnknownHookData:
		return "Hook: " + typed.HookName, true
	default:
		return "", false
	}
}

func decisionTitle(toolName string, decision DecisionData) string {
	var verb string
	switch decision.Action {
	case "allow":
		verb = "Allowed"
	case "deny":
		verb = "Denied"
	default:
		verb = "Deferred"
	}
	title := joinNonEmpty(verb, toolName)
	if decision.Source != "" {
		title += " (" + decision.Source + ")"
	}
	return withReason(title, decision.Reason)
}

// summarizeToolInput picks the field of a tool input that identifies
// the call best.
func summarizeToolInput(toolName string, input json.RawMessage) string {
	if len(input) == 0 {
		return ""
	}
	var fields map[string]any
	if json.Unmarshal(input, &fields) != nil {
		return ""
	}
	var keys []string
	switch toolName {
	case "Bash":
		keys = []string{"command"}
	case "Read", "Write", "Edit", "MultiEdit", "NotebookEdit":
		keys = []string{"file_path", "notebook_path"}
	case "Grep", "Glob":
		keys = []string{"pattern"}
	case "WebFetch":
		keys = []string{"url"}
	case "WebSearch":
		keys = []string{"query"}
	case "Task":
		keys = []string{"description", "subagent_type"}
	default:
		keys = []string{"command", "file_path", "path", "query", "url", "name"}
	}
	for _, key := range keys {
		if value, ok := fields[key].(string); ok && value != "" {
			return value
		}
	}
	return ""
}

// truncateTitle flattens whitespace, strips escape sequences, and
// bounds the visible width.
func truncateTitle(title string) string {
	title = strings.Join(strings.Fields(ansi.Strip(title)), " ")
	return ansi.Truncate(title, MaxTitleWidth, ellipsis)
}

func withDetail(title, detail string) string {
	if detail == "" {
		return title
	}
	return title + " (" + detail + ")"
}

func withReason(title, reason string) string {
	if reason == "" {
		return title
	}
	return title + ": " + reason
}

func joinNonEmpty(parts ...string) string {
	var kept []string
	for _, part := range parts {
		if part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, " ")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
