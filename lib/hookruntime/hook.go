// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package hookruntime

// HookName identifies the lifecycle or tool-use moment a hook event
// was emitted for. Values match the agent's hook_event_name strings.
type HookName string

const (
	HookSessionStart       HookName = "SessionStart"
	HookSessionEnd         HookName = "SessionEnd"
	HookUserPromptSubmit   HookName = "UserPromptSubmit"
	HookPreToolUse         HookName = "PreToolUse"
	HookPostToolUse        HookName = "PostToolUse"
	HookPostToolUseFailure HookName = "PostToolUseFailure"
	HookPermissionRequest  HookName = "PermissionRequest"
	HookNotification       HookName = "Notification"
	HookStop               HookName = "Stop"
	HookSubagentStart      HookName = "SubagentStart"
	HookSubagentStop       HookName = "SubagentStop"
	HookPreCompact         HookName = "PreCompact"
	HookConfigChange       HookName = "ConfigChange"
)

var knownHooks = map[HookName]bool{
	HookSessionStart:       true,
	HookSessionEnd:         true,
	HookUserPromptSubmit:   true,
	HookPreToolUse:         true,
	HookPostToolUse:        true,
	HookPostToolUseFailure: true,
	HookPermissionRequest:  true,
	HookNotification:       true,
	HookStop:               true,
	HookSubagentStart:      true,
	HookSubagentStop:       true,
	HookPreCompact:         true,
	HookConfigChange:       true,
}

// Known reports whether name is one of the hook names this build
// decodes into a typed payload.
func (name HookName) Known() bool {
	return knownHooks[name]
}

// ExpectsDecision reports whether the agent waits for a decision on
// this hook.
func (name HookName) ExpectsDecision() bool {
	switch name {
	case HookPreToolUse, HookPermissionRequest, HookStop, HookSubagentStop:
		return true
	default:
		return false
	}
}
