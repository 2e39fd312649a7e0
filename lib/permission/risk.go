// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package permission

import (
	"strings"
)

// RiskTier orders the potential side effects of an operation. Tiers
// compare with < and >.
type RiskTier int

const (
	// RiskRead observes state without changing it.
	RiskRead RiskTier = iota

	// RiskModerate has side effects that are easy to undo or confined
	// to the session (navigation, running builds and tests).
	RiskModerate

	// RiskWrite creates or modifies durable state.
	RiskWrite

	// RiskDestructive deletes data or rewrites shared history.
	RiskDestructive
)

func (tier RiskTier) String() string {
	switch tier {
	case RiskRead:
		return "READ"
	case RiskModerate:
		return "MODERATE"
	case RiskWrite:
		return "WRITE"
	case RiskDestructive:
		return "DESTRUCTIVE"
	default:
		return "UNKNOWN"
	}
}

// Verb lists are matched against the leading word of an MCP action
// name, split on '_', '-', and camelCase boundaries.
var (
	readVerbs = setOf(
		"get", "list", "read", "search", "find", "fetch", "query", "view",
		"show", "describe", "lookup", "count", "check", "inspect", "download",
		"snapshot", "screenshot", "resolve", "browse", "status", "diff",
	)
	moderateVerbs = setOf(
		"navigate", "click", "hover", "scroll", "type", "press", "select",
		"fill", "wait", "open", "close", "run", "execute", "evaluate",
		"start", "stop", "test", "build", "render", "preview", "upload",
	)
	writeVerbs = setOf(
		"create", "add", "update", "edit", "write", "set", "put", "post",
		"patch", "comment", "reply", "send", "save", "insert", "modify",
		"rename", "move", "copy", "assign", "label", "merge", "fork",
		"commit", "push", "publish", "submit", "approve", "request",
	)
	destructiveVerbs = setOf(
		"delete", "remove", "drop", "destroy", "purge", "truncate", "wipe",
		"erase", "archive", "revoke", "reset", "force", "kill", "terminate",
		"uninstall", "clear",
	)
)

// ActionRiskTier rates an MCP action name such as "get_issue" or
// "deleteRepository" by its leading verb. An unrecognized verb rates
// RiskWrite.
func ActionRiskTier(action string) RiskTier {
	words := splitIdentifier(action)
	if len(words) == 0 {
		return RiskWrite
	}
	verb := words[0]
	switch {
	case destructiveVerbs[verb]:
		return RiskDestructive
	case writeVerbs[verb]:
		return RiskWrite
	case moderateVerbs[verb]:
		return RiskModerate
	case readVerbs[verb]:
		return RiskRead
	default:
		return RiskWrite
	}
}

// splitIdentifier lowercases and splits snake_case, kebab-case, and
// camelCase identifiers into words.
func splitIdentifier(identifier string) []string {
	var words []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}
	for index, r := range identifier {
		switch {
		case r == '_' || r == '-' || r == '.' || r == ' ':
			flush()
		case r >= 'A' && r <= 'Z':
			if index > 0 {
				flush()
			}
			current.WriteRune(r + ('a' - 'A'))
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return words
}

func setOf(values ...string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, value := range values {
		set[value] = true
	}
	return set
}
