// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package feed

// taskTools manage the agent's own task list or spawn subagents. Their
// tool events are stored but duplicated on the timeline by todo.* and
// subagent.* events.
var taskTools = map[string]bool{
	"TodoWrite":  true,
	"TodoRead":   true,
	"Task":       true,
	"TaskCreate": true,
	"TaskUpdate": true,
	"TaskList":   true,
	"TaskGet":    true,
}

// IsVisible reports whether event belongs on the displayed timeline.
func IsVisible(event Event) bool {
	switch data := event.Data.(type) {
	case *SubagentStopData:
		return false
	case *ToolPreData:
		return !taskTools[data.ToolName]
	case *ToolPostData:
		return !taskTools[data.ToolName]
	case *ToolFailureData:
		return !taskTools[data.ToolName]
	default:
		return true
	}
}
