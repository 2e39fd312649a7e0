// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package permission

import (
	"encoding/json"
	"path"
)

// RuleAction is what a standing rule does for a matching tool.
type RuleAction string

const (
	ActionDeny    RuleAction = "deny"
	ActionApprove RuleAction = "approve"
)

// HookRule answers permission prompts for a tool without asking the
// operator. ToolName is an exact tool name, "*", or a path.Match
// pattern such as "mcp__github__*".
type HookRule struct {
	ID       string     `json:"id"`
	ToolName string     `json:"tool_name"`
	Action   RuleAction `json:"action"`

	// AddedBy records where the rule came from ("config", "operator").
	AddedBy string `json:"added_by,omitempty"`
}

// MatchRule returns the rule that decides toolName, or nil. Deny rules
// are scanned before approve rules. Within each scan an exact name
// match beats a wildcard, and otherwise the earlier rule wins.
func MatchRule(toolName string, rules []HookRule) *HookRule {
	for _, action := range []RuleAction{ActionDeny, ActionApprove} {
		if rule := matchAction(toolName, rules, action); rule != nil {
			return rule
		}
	}
	return nil
}

func matchAction(toolName string, rules []HookRule, action RuleAction) *HookRule {
	var wildcard *HookRule
	for index := range rules {
		rule := &rules[index]
		if rule.Action != action {
			continue
		}
		if rule.ToolName == toolName {
			return rule
		}
		if wildcard == nil && matchesPattern(rule.ToolName, toolName) {
			wildcard = rule
		}
	}
	return wildcard
}

func matchesPattern(pattern, toolName string) bool {
	if pattern == "*" {
		return true
	}
	matched, err := path.Match(pattern, toolName)
	return err == nil && matched
}

// IsPermissionRequired reports whether a tool call must wait for the
// operator. It is false for safe calls and for tools a rule already
// decides; the caller is then responsible for answering the call
// itself.
func IsPermissionRequired(toolName string, rules []HookRule, toolInput json.RawMessage) bool {
	if ClassifyTool(toolName, toolInput) == Safe {
		return false
	}
	return MatchRule(toolName, rules) == nil
}
