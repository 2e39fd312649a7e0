// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

// Package permission decides which tool calls need an operator's
// approval.
//
// Everything here is a pure function of its arguments. [ClassifyTool]
// sorts a call into safe or dangerous: a fixed set of read-only tools
// is always safe, MCP tools (mcp__<server>__<action>) are rated by
// their action name, and Bash is rated by the command it would run.
// [MatchRule] finds the standing rule, if any, that already answers a
// tool: deny rules are scanned before approve rules and the first
// match wins. [IsPermissionRequired] combines the two.
//
// Rules are authored as JSONC files (JSON with comments and trailing
// commas) and loaded with [ReadRuleFile] or [ParseRules].
package permission
