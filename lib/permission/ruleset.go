// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package permission

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/tidwall/jsonc"
)

// RuleFile is the on-disk rule format:
//
//	{
//	  // Never let the agent delete repositories.
//	  "rules": [
//	    {"id": "no-rm", "tool_name": "mcp__github__delete_*", "action": "deny"},
//	    {"id": "edits", "tool_name": "Edit", "action": "approve"},
//	  ],
//	}
type RuleFile struct {
	Rules []HookRule `json:"rules"`
}

// ParseRules decodes JSONC rule data and validates every rule. Rules
// without an id get "rule-<n>" by position. Missing AddedBy defaults
// to source.
func ParseRules(data []byte, source string) ([]HookRule, error) {
	var file RuleFile
	if err := json.Unmarshal(jsonc.ToJSON(data), &file); err != nil {
		return nil, fmt.Errorf("permission: parsing rules: %w", err)
	}
	for index := range file.Rules {
		rule := &file.Rules[index]
		if rule.ID == "" {
			rule.ID = fmt.Sprintf("rule-%d", index+1)
		}
		if rule.AddedBy == "" {
			rule.AddedBy = source
		}
	}
	if err := ValidateRules(file.Rules); err != nil {
		return nil, err
	}
	return file.Rules, nil
}

// ReadRuleFile reads and parses a JSONC rule file. A missing file is
// not an error and yields no rules.
func ReadRuleFile(filePath string) ([]HookRule, error) {
	data, err := os.ReadFile(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("permission: reading %s: %w", filePath, err)
	}
	rules, err := ParseRules(data, "config")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}
	return rules, nil
}

// ValidateRules checks every rule and that ids are unique.
func ValidateRules(rules []HookRule) error {
	var errs []error
	seen := make(map[string]bool, len(rules))
	for index, rule := range rules {
		if rule.ToolName == "" {
			errs = append(errs, fmt.Errorf("rule %d: tool_name is required", index+1))
		} else if _, err := path.Match(rule.ToolName, ""); err != nil {
			errs = append(errs, fmt.Errorf("rule %d: invalid tool_name pattern %q: %w", index+1, rule.ToolName, err))
		}
		if rule.Action != ActionDeny && rule.Action != ActionApprove {
			errs = append(errs, fmt.Errorf("rule %d: action must be %q or %q, got %q", index+1, ActionDeny, ActionApprove, rule.Action))
		}
		if rule.ID != "" {
			if seen[rule.ID] {
				errs = append(errs, fmt.Errorf("rule %d: duplicate id %q", index+1, rule.ID))
			}
			seen[rule.ID] = true
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("permission: invalid rules: %w", errors.Join(errs...))
	}
	return nil
}
