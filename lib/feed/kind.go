// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package feed

// Kind classifies a feed event. The set is closed; see Kinds.
type Kind string

const (
	KindSessionStart       Kind = "session.start"
	KindSessionEnd         Kind = "session.end"
	KindRunStart           Kind = "run.start"
	KindRunEnd             Kind = "run.end"
	KindUserPrompt         Kind = "user.prompt"
	KindToolPre            Kind = "tool.pre"
	KindToolPost           Kind = "tool.post"
	KindToolFailure        Kind = "tool.failure"
	KindPermissionRequest  Kind = "permission.request"
	KindPermissionDecision Kind = "permission.decision"
	KindStopRequest        Kind = "stop.request"
	KindStopDecision       Kind = "stop.decision"
	KindSubagentStart      Kind = "subagent.start"
	KindSubagentStop       Kind = "subagent.stop"
	KindNotification       Kind = "notification"
	KindCompactPre         Kind = "compact.pre"
	KindConfigChange       Kind = "config.change"
	KindAgentMessage       Kind = "agent.message"
	KindTodoAdd            Kind = "todo.add"
	KindTodoUpdate         Kind = "todo.update"
	KindTodoDone           Kind = "todo.done"
	KindUnknownHook        Kind = "unknown.hook"
)

var kinds = []Kind{
	KindSessionStart, KindSessionEnd, KindRunStart, KindRunEnd,
	KindUserPrompt, KindToolPre, KindToolPost, KindToolFailure,
	KindPermissionRequest, KindPermissionDecision, KindStopRequest,
	KindStopDecision, KindSubagentStart, KindSubagentStop,
	KindNotification, KindCompactPre, KindConfigChange,
	KindAgentMessage, KindTodoAdd, KindTodoUpdate, KindTodoDone,
	KindUnknownHook,
}

// Kinds returns every kind in a stable order.
func Kinds() []Kind {
	return append([]Kind(nil), kinds...)
}

// IsExpandable reports whether the presentation layer offers a detail
// view for kind.
func IsExpandable(kind Kind) bool {
	switch kind {
	case KindToolPre, KindPermissionRequest, KindSubagentStart, KindRunStart, KindStopRequest:
		return true
	default:
		return false
	}
}

// Level is the severity of a feed event.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// RootActor is the actor id of the top-level agent.
const RootActor = "root"

// SubagentActor returns the actor id for a subagent.
func SubagentActor(agentID string) string {
	return "subagent:" + agentID
}
