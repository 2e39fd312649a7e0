// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package permission

import (
	"encoding/json"
	"strings"
)

// Classification is the coarse verdict for a tool call.
type Classification string

const (
	Safe      Classification = "safe"
	Dangerous Classification = "dangerous"
)

// BashTool is the agent's shell-execution tool.
const BashTool = "Bash"

// mcpPrefix introduces namespaced tools: mcp__<server>__<action>.
const mcpPrefix = "mcp__"

// safeTools only read state or manage the agent's own bookkeeping.
var safeTools = setOf(
	"Read", "Glob", "Grep", "LS", "NotebookRead", "WebSearch", "WebFetch",
	"TodoRead", "TodoWrite", "BashOutput", "ListMcpResourcesTool",
	"ReadMcpResourceTool", "AskUserQuestion", "ExitPlanMode", "Task",
)

// ClassifyTool rates one tool call. toolInput may be nil; it is only
// consulted for Bash.
func ClassifyTool(toolName string, toolInput json.RawMessage) Classification {
	if safeTools[toolName] {
		return Safe
	}
	if _, action, ok := ParseMCPTool(toolName); ok {
		return classifyTier(ActionRiskTier(action))
	}
	if toolName == BashTool {
		command, ok := bashCommand(toolInput)
		if !ok {
			return Dangerous
		}
		return classifyTier(CommandRiskTier(command))
	}
	return Dangerous
}

// ToolRiskTier rates a tool call on the full tier scale. Tools that
// are neither safe, MCP, nor Bash rate RiskWrite.
func ToolRiskTier(toolName string, toolInput json.RawMessage) RiskTier {
	if safeTools[toolName] {
		return RiskRead
	}
	if _, action, ok := ParseMCPTool(toolName); ok {
		return ActionRiskTier(action)
	}
	if toolName == BashTool {
		if command, ok := bashCommand(toolInput); ok {
			return CommandRiskTier(command)
		}
	}
	return RiskWrite
}

// ParseMCPTool splits "mcp__<server>__<action>". The action may itself
// contain "__".
func ParseMCPTool(toolName string) (server, action string, ok bool) {
	rest, found := strings.CutPrefix(toolName, mcpPrefix)
	if !found {
		return "", "", false
	}
	server, action, found = strings.Cut(rest, "__")
	if !found || server == "" || action == "" {
		return "", "", false
	}
	return server, action, true
}

func classifyTier(tier RiskTier) Classification {
	if tier == RiskRead {
		return Safe
	}
	return Dangerous
}

func bashCommand(toolInput json.RawMessage) (string, bool) {
	if len(toolInput) == 0 {
		return "", false
	}
	var input struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(toolInput, &input); err != nil || input.Command == "" {
		return "", false
	}
	return input.Command, true
}
